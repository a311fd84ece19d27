package config

import "path/filepath"

type Config struct {
	Server   ServerConfig
	GraphRAG GraphRAGConfig
	LLM      LLMConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

// GraphRAGConfig locates the external tool. Binary is empty by default;
// the Resolver falls back to a PATH lookup in that case.
type GraphRAGConfig struct {
	Binary      string
	ProjectRoot string
}

// LLMConfig describes the model endpoint written into settings.yaml and
// probed for reachability. BaseURL is the plain endpoint root; APIBase is
// the OpenAI-compatible prefix the external tool talks to.
type LLMConfig struct {
	BaseURL    string
	APIBase    string
	APIKey     string
	Model      string
	EmbedModel string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		GraphRAG: GraphRAGConfig{
			ProjectRoot: filepath.Join(defaultDataDir(), "rag_project"),
		},
		LLM: LLMConfig{
			BaseURL:    "http://localhost:11434",
			APIBase:    "http://localhost:11434/v1",
			APIKey:     "ollama",
			Model:      "gpt-oss:20b-cloud",
			EmbedModel: "nomic-embed-text",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/graphdeck/config.json, then applies GRAPHDECK_*
// environment overrides on top.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
