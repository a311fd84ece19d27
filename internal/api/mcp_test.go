package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/graphdeck/graphdeck/internal/indexer"
	"github.com/graphdeck/graphdeck/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *fakeRunner) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	runner := &fakeRunner{response: "graph answer"}
	mgr := indexer.NewManager(func(context.Context) (indexer.Run, error) {
		return nil, errors.New("not used")
	}, nil)

	return MCPDeps{Store: store, Runner: runner, Indexer: mgr}, runner
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_QueryGraph(t *testing.T) {
	deps, runner := newTestMCPDeps(t)
	handler := mcpQueryGraph(deps)

	req := makeCallToolRequest("query_graph", map[string]interface{}{
		"query":  "who is Scrooge?",
		"method": "global",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "graph answer" {
		t.Fatalf("unexpected response: %s", text)
	}
	if runner.lastMethod != "global" {
		t.Errorf("method = %q, want global", runner.lastMethod)
	}

	// The answer lands in history like any other query.
	records, err := deps.Store.AllQueries()
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	if len(records) != 1 || records[0].Response != "graph answer" {
		t.Fatalf("history = %+v", records)
	}
}

func TestMCPTool_QueryGraph_BadMethod(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpQueryGraph(deps)

	req := makeCallToolRequest("query_graph", map[string]interface{}{
		"query":  "x",
		"method": "drift",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for invalid method")
	}
}

func TestMCPTool_QueryGraph_RunnerFailure(t *testing.T) {
	deps, runner := newTestMCPDeps(t)
	runner.queryErr = errors.New("launch failed")
	handler := mcpQueryGraph(deps)

	req := makeCallToolRequest("query_graph", map[string]interface{}{"query": "x"})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_SearchHistory(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Store.SaveQuery("who is Scrooge?", "local", "a miser")
	deps.Store.SaveQuery("what is the theme?", "global", "redemption")

	handler := mcpSearchHistory(deps)
	req := makeCallToolRequest("search_history", map[string]interface{}{"term": "scrooge"})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var matches []storage.QueryRecord
	if err := json.Unmarshal([]byte(toolText(t, result)), &matches); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(matches) != 1 || matches[0].Query != "who is Scrooge?" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestMCPTool_SearchHistory_NoMatches(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpSearchHistory(deps)
	req := makeCallToolRequest("search_history", map[string]interface{}{"term": "nothing"})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_IndexStatus(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpIndexStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("index_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var st indexer.Status
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if st.Running {
		t.Error("Running = true with no run started")
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Store.SaveQuery("What is Go?", "local", "a language")

	handler := mcpResourceRecent(deps)
	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "history://recent"},
	}

	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(tc.Text), &entries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}
