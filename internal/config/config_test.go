package config

import (
	"errors"
	"path/filepath"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error {
	m.strings[key] = val
	return nil
}

func (m *mapBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}

func (m *mapBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4400 {
		t.Errorf("Server.Port = %d, want 4400", cfg.Server.Port)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.APIBase != "http://localhost:11434/v1" {
		t.Errorf("LLM.APIBase = %q", cfg.LLM.APIBase)
	}
	if cfg.LLM.EmbedModel != "nomic-embed-text" {
		t.Errorf("LLM.EmbedModel = %q", cfg.LLM.EmbedModel)
	}
	if cfg.GraphRAG.Binary != "" {
		t.Errorf("GraphRAG.Binary = %q, want empty (PATH lookup)", cfg.GraphRAG.Binary)
	}
	if cfg.GraphRAG.ProjectRoot == "" {
		t.Error("GraphRAG.ProjectRoot is empty")
	}
}

func TestBackendValues(t *testing.T) {
	b := newMapBackend()
	b.ints["server.port"] = 5500
	b.strings["graphrag.project_root"] = "/srv/rag"
	b.strings["llm.model"] = "llama3.2"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 5500 {
		t.Errorf("Server.Port = %d, want 5500", cfg.Server.Port)
	}
	if cfg.GraphRAG.ProjectRoot != "/srv/rag" {
		t.Errorf("ProjectRoot = %q", cfg.GraphRAG.ProjectRoot)
	}
	if cfg.LLM.Model != "llama3.2" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
}

func TestEnvOverride(t *testing.T) {
	b := newMapBackend()
	b.strings["llm.model"] = "from-backend"

	t.Setenv("GRAPHDECK_LLM_MODEL", "from-env")
	t.Setenv("GRAPHDECK_SERVER_PORT", "6001")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.LLM.Model != "from-env" {
		t.Errorf("LLM.Model = %q, want env to win", cfg.LLM.Model)
	}
	if cfg.Server.Port != 6001 {
		t.Errorf("Server.Port = %d, want 6001", cfg.Server.Port)
	}
}

func TestEnvOverrideBadInt(t *testing.T) {
	t.Setenv("GRAPHDECK_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4400 {
		t.Errorf("Server.Port = %d, want default kept on bad env value", cfg.Server.Port)
	}
}

func TestResolverConfiguredWins(t *testing.T) {
	r := NewResolver("/opt/graphrag/bin/graphrag")
	r.lookPath = func(string) (string, error) {
		t.Fatal("lookPath must not be called when a binary is configured")
		return "", nil
	}

	p, err := r.Path()
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if p != "/opt/graphrag/bin/graphrag" {
		t.Errorf("Path = %q", p)
	}
}

func TestResolverLookPath(t *testing.T) {
	calls := 0
	r := NewResolver("")
	r.lookPath = func(file string) (string, error) {
		calls++
		if file != "graphrag" {
			t.Errorf("lookPath(%q), want graphrag", file)
		}
		return "/usr/local/bin/graphrag", nil
	}

	for i := 0; i < 3; i++ {
		p, err := r.Path()
		if err != nil {
			t.Fatalf("Path: %v", err)
		}
		if p != "/usr/local/bin/graphrag" {
			t.Errorf("Path = %q", p)
		}
	}
	if calls != 1 {
		t.Errorf("lookPath called %d times, want cached single call", calls)
	}
}

func TestResolverNotFound(t *testing.T) {
	r := NewResolver("")
	r.lookPath = func(string) (string, error) {
		return "", errors.New("executable file not found in $PATH")
	}

	_, err := r.Path()
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Errorf("Path error = %v, want ErrBinaryNotFound", err)
	}
}

func TestEnsureAPITokenStable(t *testing.T) {
	b := newMapBackend()

	t1, err := EnsureAPIToken(b)
	if err != nil {
		t.Fatalf("EnsureAPIToken: %v", err)
	}
	if len(t1) != 48 {
		t.Errorf("token length = %d, want 48 hex chars", len(t1))
	}

	t2, err := EnsureAPIToken(b)
	if err != nil {
		t.Fatalf("EnsureAPIToken (second): %v", err)
	}
	if t1 != t2 {
		t.Errorf("token changed between calls: %q vs %q", t1, t2)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	b := &fileBackend{path: filepath.Join(t.TempDir(), "config.json"), data: map[string]any{}}

	if err := b.SetString("llm.model", "llama3"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("server.port", 9000); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	// Fresh backend reading the same file.
	b2 := &fileBackend{path: b.path, data: map[string]any{}}
	b2.load()

	s, ok, err := b2.GetString("llm.model")
	if err != nil || !ok || s != "llama3" {
		t.Errorf("GetString = %q, %v, %v", s, ok, err)
	}
	i, ok, err := b2.GetInt("server.port")
	if err != nil || !ok || i != 9000 {
		t.Errorf("GetInt = %d, %v, %v", i, ok, err)
	}
}
