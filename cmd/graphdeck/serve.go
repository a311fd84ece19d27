package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/graphdeck/graphdeck/internal/api"
	"github.com/graphdeck/graphdeck/internal/config"
	"github.com/graphdeck/graphdeck/internal/graphrag"
	"github.com/graphdeck/graphdeck/internal/indexer"
	"github.com/graphdeck/graphdeck/internal/llm"
	"github.com/graphdeck/graphdeck/internal/project"
	"github.com/graphdeck/graphdeck/internal/settings"
	"github.com/graphdeck/graphdeck/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the graphdeck server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running graphdeck server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show graphdeck system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(projectRoot string) string {
	return filepath.Join(projectRoot, "graphdeck.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "graphdeck version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.APIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.GraphRAG.ProjectRoot)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("graphdeck is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("graphdeck is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve the external graphrag binary. Resolution failure is not
	// fatal here; index and query endpoints report it per request.
	resolver := config.NewResolver(cfg.GraphRAG.Binary)
	bin, err := resolver.Path()
	if err != nil {
		printWarning("graphrag not found: install it with `pip install graphrag`")
		bin = "graphrag"
	} else {
		slog.Info("graphrag binary resolved", "path", bin)
	}

	paths := project.Paths{Root: cfg.GraphRAG.ProjectRoot}
	runner := graphrag.NewRunner(bin, paths.Root)

	// Open storage.
	store, err := storage.Open(cfg.GraphRAG.ProjectRoot)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Probe the LLM endpoint once at startup for an early warning.
	llmClient := llm.New(cfg.LLM.BaseURL)
	if !llmClient.IsReachable(ctx) {
		printWarning("LLM endpoint %s is not reachable; indexing and queries will fail until it is up", cfg.LLM.BaseURL)
	}

	events := api.NewBroadcaster()
	mgr := indexer.NewManager(func(runCtx context.Context) (indexer.Run, error) {
		return runner.StartIndex(runCtx)
	}, events)

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Runner:    runner,
		Indexer:   mgr,
		Events:    events,
		Project:   paths,
		Overrides: settings.DefaultOverrides(cfg.LLM.Model, cfg.LLM.APIBase, cfg.LLM.APIKey),
		LLM:       llmClient,
		Token:     apiToken,
		Version:   version,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:   store,
		Runner:  runner,
		Indexer: mgr,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "graphdeck listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		mgr.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.GraphRAG.ProjectRoot)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("graphdeck is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop graphdeck (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to graphdeck (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}

	resp, err := healthClient.Get(serverURL + "/health")
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			serverUp = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.LLM.Model)
	printStatus("Embed model", "%s", cfg.LLM.EmbedModel)
	printStatus("Project root", "%s", cfg.GraphRAG.ProjectRoot)

	if !serverUp {
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return nil
	}
	statusResp, err := client.get(ctx, "/status")
	if err != nil {
		return nil
	}
	var st struct {
		Initialized  bool `json:"initialized"`
		Documents    int  `json:"documents"`
		Queries      int  `json:"queries"`
		LLMReachable bool `json:"llm_reachable"`
		Index        struct {
			Running bool   `json:"running"`
			Percent int    `json:"percent,omitempty"`
			Label   string `json:"label,omitempty"`
		} `json:"index"`
	}
	if err := decodeJSON(statusResp, &st); err != nil {
		return nil
	}

	printStatus("Project", "%s", boolLabel(st.Initialized, "initialized", "not initialized"))
	printStatus("LLM endpoint", "%s", boolLabel(st.LLMReachable, "reachable", "not reachable"))
	printStatus("Documents", "%d", st.Documents)
	printStatus("Queries", "%d", st.Queries)
	if st.Index.Running {
		printStatus("Indexing", "%d%% — %s", st.Index.Percent, st.Index.Label)
	} else if st.Index.Label != "" {
		printStatus("Indexing", "idle (last: %s)", st.Index.Label)
	} else {
		printStatus("Indexing", "idle")
	}
	return nil
}

func boolLabel(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
