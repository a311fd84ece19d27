// Package settings patches the external tool's settings.yaml in place.
// The whole document is loaded, a fixed set of fields is overwritten, and
// the document is re-serialized, so unrecognized fields pass through
// untouched.
package settings

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotInitialized is returned when settings.yaml does not exist yet.
// The caller should direct the user to run project initialization first.
var ErrNotInitialized = errors.New("settings.yaml not found; run init first")

// Overrides is the set of fields written into settings.yaml. The chat and
// embedding models both go through an OpenAI-compatible endpoint, which is
// how Ollama exposes itself.
type Overrides struct {
	Model      string
	EmbedModel string
	APIBase    string
	APIKey     string

	// Performance tunables for local LLMs.
	MaxGleanings int
	ChunkSize    int
	ChunkOverlap int
}

// DefaultOverrides returns Overrides tuned for a local Ollama endpoint:
// sequential requests, no gleaning passes, large chunks to cut the number
// of LLM calls.
func DefaultOverrides(model, apiBase, apiKey string) Overrides {
	return Overrides{
		Model:        model,
		EmbedModel:   "nomic-embed-text",
		APIBase:      apiBase,
		APIKey:       apiKey,
		MaxGleanings: 0,
		ChunkSize:    2000,
		ChunkOverlap: 200,
	}
}

// Apply loads the YAML document at path, overwrites the override fields,
// and writes the document back. Sections absent from the document are not
// created; their names are returned in skipped so the caller can surface
// a warning instead of silently dropping the patch.
func Apply(path string, o Overrides) (skipped []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	if chat, ok := section(doc, "models", "default_chat_model"); ok {
		chat["model_provider"] = "openai"
		chat["auth_type"] = "api_key"
		chat["api_key"] = o.APIKey
		chat["api_base"] = o.APIBase
		chat["model"] = o.Model
		chat["concurrent_requests"] = 1
		chat["max_retries"] = 10
		chat["request_timeout"] = 3600.0
	} else {
		skipped = append(skipped, "models.default_chat_model")
	}

	if embed, ok := section(doc, "models", "default_embedding_model"); ok {
		embed["model_provider"] = "openai"
		embed["auth_type"] = "api_key"
		embed["api_key"] = o.APIKey
		embed["api_base"] = o.APIBase
		embed["model"] = o.EmbedModel
		embed["request_timeout"] = 600.0
	} else {
		skipped = append(skipped, "models.default_embedding_model")
	}

	if extract, ok := section(doc, "extract_graph"); ok {
		extract["max_gleanings"] = o.MaxGleanings
	} else {
		skipped = append(skipped, "extract_graph")
	}

	if chunks, ok := section(doc, "chunks"); ok {
		chunks["size"] = o.ChunkSize
		chunks["overlap"] = o.ChunkOverlap
	} else {
		skipped = append(skipped, "chunks")
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializing settings: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return skipped, nil
}

// section walks nested mappings by key and returns the innermost one.
func section(doc map[string]any, keys ...string) (map[string]any, bool) {
	cur := doc
	for _, k := range keys {
		v, ok := cur[k]
		if !ok {
			return nil, false
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = m
	}
	return cur, true
}
