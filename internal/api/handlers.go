package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/graphdeck/graphdeck/internal/artifacts"
	"github.com/graphdeck/graphdeck/internal/graphrag"
	"github.com/graphdeck/graphdeck/internal/indexer"
	"github.com/graphdeck/graphdeck/internal/llm"
	"github.com/graphdeck/graphdeck/internal/project"
	"github.com/graphdeck/graphdeck/internal/settings"
	"github.com/graphdeck/graphdeck/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadSize = 50 << 20     // 50MB

// GraphRunner abstracts the external graphrag tool for the API layer.
type GraphRunner interface {
	Init(ctx context.Context) (string, error)
	Query(ctx context.Context, method, question string) (string, error)
}

type Deps struct {
	Store     *storage.Store
	Runner    GraphRunner
	Indexer   *indexer.Manager
	Events    *Broadcaster
	Project   project.Paths
	Overrides settings.Overrides
	LLM       *llm.Client // optional; if nil, the reachability probe is skipped
	Token     string
	Version   string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))

		r.Post("/project/init", handleProjectInit(deps))
		r.Post("/project/settings", handleProjectSettings(deps))
		r.Post("/project/clear", handleProjectClear(deps))

		r.Post("/documents", handleUploadDocuments(deps))
		r.Get("/documents", handleListDocuments(deps))

		r.Post("/index", handleStartIndex(deps))
		r.Post("/index/cancel", handleCancelIndex(deps))
		r.Get("/index/events", deps.Events.ServeHTTP)
		r.Get("/index/log", handleIndexLog(deps))

		r.Get("/artifacts", handleArtifacts(deps))

		r.Post("/query", handleQuery(deps))
		r.Get("/history", handleListHistory(deps))
		r.Get("/history/export", handleExportHistory(deps))
		r.Delete("/history", handleClearHistory(deps))
		r.Get("/history/{id}", handleGetHistory(deps))
		r.Post("/history/{id}/rerun", handleRerunHistory(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "version": deps.Version})
	}
}

// StatusResponse describes the state of the project and the daemon.
type StatusResponse struct {
	Initialized  bool           `json:"initialized"`
	Documents    int            `json:"documents"`
	Queries      int            `json:"queries"`
	LLMReachable bool           `json:"llm_reachable"`
	Index        indexer.Status `json:"index"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{Index: deps.Indexer.Status()}

		if _, err := os.Stat(deps.Project.SettingsPath()); err == nil {
			resp.Initialized = true
		}
		if docs, err := deps.Project.ListDocuments(); err == nil {
			resp.Documents = len(docs)
		}
		if n, err := deps.Store.QueryCount(); err == nil {
			resp.Queries = n
		}
		if deps.LLM != nil {
			resp.LLMReachable = deps.LLM.IsReachable(r.Context())
		}

		writeJSON(w, resp)
	}
}

func handleProjectInit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		created := false
		if _, err := os.Stat(deps.Project.SettingsPath()); os.IsNotExist(err) {
			if _, err := deps.Runner.Init(r.Context()); err != nil {
				if errors.Is(err, graphrag.ErrNoProcess) {
					httpError(w, http.StatusServiceUnavailable, "api_error", "graphrag is not installed or not on PATH")
					return
				}
				httpError(w, http.StatusInternalServerError, "api_error", "project init failed: %v", err)
				return
			}
			created = true
		}

		skipped, err := settings.Apply(deps.Project.SettingsPath(), deps.Overrides)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply settings: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"status":  "initialized",
			"created": created,
			"skipped": emptyIfNil(skipped),
		})
	}
}

// SettingsRequest carries per-field overrides for settings.yaml. Absent
// fields keep the server's configured defaults.
type SettingsRequest struct {
	Model        *string `json:"model"`
	EmbedModel   *string `json:"embed_model"`
	APIBase      *string `json:"api_base"`
	APIKey       *string `json:"api_key"`
	MaxGleanings *int    `json:"max_gleanings"`
	ChunkSize    *int    `json:"chunk_size"`
	ChunkOverlap *int    `json:"chunk_overlap"`
}

func handleProjectSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req SettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		o := deps.Overrides
		if req.Model != nil {
			o.Model = *req.Model
		}
		if req.EmbedModel != nil {
			o.EmbedModel = *req.EmbedModel
		}
		if req.APIBase != nil {
			o.APIBase = *req.APIBase
		}
		if req.APIKey != nil {
			o.APIKey = *req.APIKey
		}
		if req.MaxGleanings != nil {
			o.MaxGleanings = *req.MaxGleanings
		}
		if req.ChunkSize != nil {
			o.ChunkSize = *req.ChunkSize
		}
		if req.ChunkOverlap != nil {
			o.ChunkOverlap = *req.ChunkOverlap
		}

		skipped, err := settings.Apply(deps.Project.SettingsPath(), o)
		if errors.Is(err, settings.ErrNotInitialized) {
			httpError(w, http.StatusConflict, "invalid_request_error", "project is not initialized")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply settings: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"status":  "updated",
			"skipped": emptyIfNil(skipped),
		})
	}
}

func handleProjectClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Indexer.Status().Running {
			httpError(w, http.StatusConflict, "invalid_request_error", "cannot clear project while indexing is running")
			return
		}
		if err := deps.Project.Clear(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear project: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func handleUploadDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no files in request; use the file form field")
			return
		}

		var saved []string
		for _, fh := range files {
			ext := strings.ToLower(filepath.Ext(fh.Filename))
			if ext != ".txt" && ext != ".pdf" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported file type %q: only .txt and .pdf are accepted", ext)
				return
			}

			f, err := fh.Open()
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to read upload %s: %v", fh.Filename, err)
				return
			}
			name, err := deps.Project.SaveDocument(fh.Filename, f)
			f.Close()
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to save %s: %v", fh.Filename, err)
				return
			}
			saved = append(saved, name)
		}

		writeJSON(w, map[string]any{"saved": saved})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Project.ListDocuments()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []string{}
		}
		writeJSON(w, docs)
	}
}

func handleStartIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := deps.Indexer.Start()
		if errors.Is(err, indexer.ErrAlreadyRunning) {
			httpError(w, http.StatusConflict, "invalid_request_error", "indexing is already running")
			return
		}
		if err != nil {
			if errors.Is(err, graphrag.ErrNoProcess) {
				httpError(w, http.StatusServiceUnavailable, "api_error", "graphrag is not installed or not on PATH")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start indexing: %v", err)
			return
		}
		writeJSON(w, map[string]string{"run_id": id, "status": "started"})
	}
}

func handleCancelIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Indexer.Cancel()
		writeJSON(w, map[string]string{"status": "cancelled"})
	}
}

func handleIndexLog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, deps.Indexer.Log())
	}
}

func handleArtifacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := artifacts.Load(deps.Project.OutputDir())
		if errors.Is(err, artifacts.ErrNoOutput) {
			httpError(w, http.StatusNotFound, "not_found", "no indexing output found; run indexing first")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load artifacts: %v", err)
			return
		}
		writeJSON(w, data)
	}
}

type QueryRequest struct {
	Query  string `json:"query"`
	Method string `json:"method"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.Method == "" {
			req.Method = "local"
		}
		if req.Method != "local" && req.Method != "global" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "method must be local or global")
			return
		}

		rec, err := runAndRecord(r.Context(), deps, req.Method, req.Query)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, rec)
	}
}

// runAndRecord runs one query against the indexed graph and persists the
// result, including timeout and tool-failure messages.
func runAndRecord(ctx context.Context, deps Deps, method, query string) (storage.QueryRecord, error) {
	response, err := deps.Runner.Query(ctx, method, query)
	if err != nil {
		return storage.QueryRecord{}, err
	}
	id, err := deps.Store.SaveQuery(query, method, response)
	if err != nil {
		return storage.QueryRecord{}, fmt.Errorf("saving query: %w", err)
	}
	return deps.Store.QueryByID(id)
}

func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, graphrag.ErrNoProcess) {
		httpError(w, http.StatusServiceUnavailable, "api_error", "graphrag is not installed or not on PATH")
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "query failed: %v", err)
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Store.AllQueries()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		if records == nil {
			records = []storage.QueryRecord{}
		}
		writeJSON(w, records)
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := historyID(w, r)
		if !ok {
			return
		}
		rec, err := deps.Store.QueryByID(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "history entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get history entry: %v", err)
			return
		}
		writeJSON(w, rec)
	}
}

func handleRerunHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := historyID(w, r)
		if !ok {
			return
		}
		prev, err := deps.Store.QueryByID(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "history entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get history entry: %v", err)
			return
		}

		rec, err := runAndRecord(r.Context(), deps, prev.Method, prev.Query)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, rec)
	}
}

func handleExportHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Store.AllQueries()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to export history: %v", err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=query_history.txt")
		for _, rec := range records {
			fmt.Fprintf(w, "ID: %d\n", rec.ID)
			fmt.Fprintf(w, "Time: %s\n", rec.Timestamp.Format("2006-01-02 15:04"))
			fmt.Fprintf(w, "Method: %s\n", rec.Method)
			fmt.Fprintf(w, "Query: %s\n", rec.Query)
			fmt.Fprintf(w, "Response: %s\n", rec.Response)
			fmt.Fprintf(w, "%s\n\n", strings.Repeat("-", 50))
		}
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.ClearHistory(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear history: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func historyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid history id")
		return 0, false
	}
	return id, true
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
