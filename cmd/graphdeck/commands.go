package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/graphdeck/graphdeck/internal/config"
)

// --- init ---

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the graphrag project and patch its settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/project/init", nil)
		if err != nil {
			return err
		}

		var result struct {
			Status  string   `json:"status"`
			Created bool     `json:"created"`
			Skipped []string `json:"skipped"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Created {
			printSuccess("Project initialized")
		} else {
			printSuccess("Project already initialized; settings re-applied")
		}
		for _, section := range result.Skipped {
			printWarning("settings.yaml has no %s section; not patched", section)
		}
		return nil
	},
}

// --- configure ---

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Patch settings.yaml with model and chunking overrides",
	Long: `Patch settings.yaml with model and chunking overrides.

Only flags you pass are changed; everything else keeps the server defaults.

Examples:
  graphdeck configure --model llama3.1:8b
  graphdeck configure --chunk-size 1200 --chunk-overlap 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		setIfChanged := func(flag, key string, v any) {
			if cmd.Flags().Changed(flag) {
				body[key] = v
			}
		}

		model, _ := cmd.Flags().GetString("model")
		embedModel, _ := cmd.Flags().GetString("embed-model")
		apiBase, _ := cmd.Flags().GetString("api-base")
		apiKey, _ := cmd.Flags().GetString("api-key")
		maxGleanings, _ := cmd.Flags().GetInt("max-gleanings")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		chunkOverlap, _ := cmd.Flags().GetInt("chunk-overlap")

		setIfChanged("model", "model", model)
		setIfChanged("embed-model", "embed_model", embedModel)
		setIfChanged("api-base", "api_base", apiBase)
		setIfChanged("api-key", "api_key", apiKey)
		setIfChanged("max-gleanings", "max_gleanings", maxGleanings)
		setIfChanged("chunk-size", "chunk_size", chunkSize)
		setIfChanged("chunk-overlap", "chunk_overlap", chunkOverlap)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/project/settings", body)
		if err != nil {
			return err
		}

		var result struct {
			Status  string   `json:"status"`
			Skipped []string `json:"skipped"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Settings updated")
		for _, section := range result.Skipped {
			printWarning("settings.yaml has no %s section; not patched", section)
		}
		return nil
	},
}

func init() {
	configureCmd.Flags().String("model", "", "chat model name")
	configureCmd.Flags().String("embed-model", "", "embedding model name")
	configureCmd.Flags().String("api-base", "", "OpenAI-compatible API base URL")
	configureCmd.Flags().String("api-key", "", "API key for the endpoint")
	configureCmd.Flags().Int("max-gleanings", 0, "entity extraction gleaning passes")
	configureCmd.Flags().Int("chunk-size", 0, "text chunk size in tokens")
	configureCmd.Flags().Int("chunk-overlap", 0, "text chunk overlap in tokens")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload .txt or .pdf documents into the project corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postFiles(cmd.Context(), "/documents", args)
		if err != nil {
			return err
		}

		var result struct {
			Saved []string `json:"saved"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, name := range result.Saved {
			printSuccess("Uploaded %s", name)
		}
		return nil
	},
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run graph indexing over the uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/index", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printStep("Indexing started (run %s)", result["run_id"])

		if !follow {
			return nil
		}
		return followIndex(cmd, client)
	},
}

func init() {
	indexCmd.Flags().Bool("follow", true, "stream progress until the run finishes")
}

// followIndex streams the run's SSE feed and renders progress milestones.
func followIndex(cmd *cobra.Command, client *apiClient) error {
	resp, err := client.stream(cmd.Context(), "/index/events")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event struct {
			Type    string `json:"type"`
			Percent int    `json:"percent"`
			Label   string `json:"label"`
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "progress":
			printStep("%3d%%  %s", event.Percent, event.Label)
		case "done":
			if event.Success {
				printSuccess("Indexing complete")
				return nil
			}
			printError("Indexing failed: %s", event.Error)
			return fmt.Errorf("indexing failed")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream interrupted: %w", err)
	}
	return nil
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question against the indexed knowledge graph",
	Long: `Ask a question against the indexed knowledge graph.

Local search answers entity-specific questions; global search answers
dataset-wide questions.

Examples:
  graphdeck query "Who is Scrooge?"
  graphdeck query --method global "What are the main themes?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		method, _ := cmd.Flags().GetString("method")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Running %s search...", method)
		resp, err := client.postWait(cmd.Context(), "/query", map[string]string{
			"query":  question,
			"method": method,
		})
		if err != nil {
			return err
		}

		var rec struct {
			ID       int64  `json:"id"`
			Response string `json:"response"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		fmt.Println(rec.Response)
		printStatus("Saved as", "#%d", rec.ID)
		return nil
	},
}

func init() {
	queryCmd.Flags().String("method", "local", "search method: local or global")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage the query history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past queries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/history")
		if err != nil {
			return err
		}

		var records []struct {
			ID        int64  `json:"id"`
			Timestamp string `json:"timestamp"`
			Method    string `json:"method"`
			Query     string `json:"query"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No queries yet.")
			return nil
		}
		for _, rec := range records {
			query := rec.Query
			if len(query) > 80 {
				query = query[:80] + "..."
			}
			fmt.Printf("%s  %s  %-6s  %s\n",
				paint(ansiCyan, fmt.Sprintf("#%-4d", rec.ID)),
				rec.Timestamp,
				rec.Method,
				query,
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one history entry in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/history/"+args[0])
		if err != nil {
			return err
		}

		var rec any
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var historyRerunCmd = &cobra.Command{
	Use:   "rerun <id>",
	Short: "Run a past query again and save the new answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postWait(cmd.Context(), "/history/"+args[0]+"/rerun", nil)
		if err != nil {
			return err
		}

		var rec struct {
			ID       int64  `json:"id"`
			Response string `json:"response"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		fmt.Println(rec.Response)
		printStatus("Saved as", "#%d", rec.ID)
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the query history as plain text",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/history/export")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		var writer *os.File
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		} else {
			writer = os.Stdout
		}

		if _, err := io.Copy(writer, resp.Body); err != nil {
			return err
		}
		if output != "" {
			printSuccess("History exported to %s", output)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all query history",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL query history. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/history")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("History cleared")
		return nil
	},
}

func init() {
	historyExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	historyClearCmd.Flags().Bool("confirm", false, "confirm history deletion")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyRerunCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// --- artifacts ---

// artifactSummary is the slice of the /artifacts response the CLI renders.
// Field names must track the server's wire format.
type artifactSummary struct {
	Entities []struct {
		Title string `json:"title"`
		Type  string `json:"type"`
	} `json:"entities"`
	Relationships []json.RawMessage `json:"relationships"`
	Reports       []json.RawMessage `json:"reports"`
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Summarize the indexed graph artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/artifacts")
		if err != nil {
			return err
		}

		var data artifactSummary
		if err := decodeJSON(resp, &data); err != nil {
			return err
		}

		printStatus("Entities", "%d", len(data.Entities))
		printStatus("Relationships", "%d", len(data.Relationships))
		printStatus("Community reports", "%d", len(data.Reports))

		byType := map[string]int{}
		for _, e := range data.Entities {
			byType[e.Type]++
		}
		for typ, n := range byType {
			if typ == "" {
				typ = "(untyped)"
			}
			fmt.Printf("  %s: %d\n", typ, n)
		}
		return nil
	},
}

// --- clear-project ---

var clearProjectCmd = &cobra.Command{
	Use:   "clear-project",
	Short: "Delete indexing output and cache (keeps uploaded documents)",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete all indexing output and cache. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/project/clear", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Project output cleared")
		return nil
	},
}

func init() {
	clearProjectCmd.Flags().Bool("confirm", false, "confirm project clear")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", paint(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
