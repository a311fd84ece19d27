package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/graphdeck/graphdeck/internal/indexer"
	"github.com/graphdeck/graphdeck/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Runner  GraphRunner
	Indexer *indexer.Manager
}

// NewMCPServer creates an MCP server exposing graph queries and the query
// history to MCP clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"graphdeck",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("graphdeck — knowledge-graph RAG over your local documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("query_graph",
			mcp.WithDescription("Ask a question against the indexed knowledge graph. Local search answers entity-specific questions; global search answers dataset-wide questions."),
			mcp.WithString("query", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("method", mcp.Description("Search method: local or global (default local)")),
		),
		mcpQueryGraph(deps),
	)

	s.AddTool(
		mcp.NewTool("search_history",
			mcp.WithDescription("Search past queries and answers by substring."),
			mcp.WithString("term", mcp.Description("Substring to match against queries and responses"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("index_status",
			mcp.WithDescription("Report whether an indexing run is in progress and its current stage."),
		),
		mcpIndexStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"history://recent",
			"Recent Queries",
			mcp.WithResourceDescription("Last 10 query history entries (questions only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpQueryGraph(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		method := req.GetString("method", "local")
		if method != "local" && method != "global" {
			return mcpError("method must be local or global"), nil
		}

		response, err := deps.Runner.Query(ctx, method, query)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		if _, err := deps.Store.SaveQuery(query, method, response); err != nil {
			return mcpError(fmt.Sprintf("answered but failed to save history: %v", err)), nil
		}

		return mcpText(response), nil
	}
}

func mcpSearchHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		term, err := req.RequireString("term")
		if err != nil {
			return mcpError("term is required"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		records, err := deps.Store.AllQueries()
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		needle := strings.ToLower(term)
		var matches []storage.QueryRecord
		for _, rec := range records {
			if strings.Contains(strings.ToLower(rec.Query), needle) || strings.Contains(strings.ToLower(rec.Response), needle) {
				matches = append(matches, rec)
				if len(matches) == limit {
					break
				}
			}
		}
		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(matches)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIndexStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st := deps.Indexer.Status()
		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Store.AllQueries()
		if err != nil {
			return nil, fmt.Errorf("failed to list history: %w", err)
		}
		if len(records) > 10 {
			records = records[:10]
		}

		type recentEntry struct {
			ID        int64  `json:"id"`
			Timestamp string `json:"timestamp"`
			Method    string `json:"method"`
			Query     string `json:"query"`
		}

		entries := make([]recentEntry, len(records))
		for i, rec := range records {
			query := rec.Query
			if utf8.RuneCountInString(query) > 200 {
				runes := []rune(query)
				query = string(runes[:200]) + "..."
			}
			entries[i] = recentEntry{
				ID:        rec.ID,
				Timestamp: rec.Timestamp.Format(time.RFC3339),
				Method:    rec.Method,
				Query:     query,
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
