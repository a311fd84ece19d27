// Package project manages the external tool's project root: the input
// corpus, the settings file, and the cache/output directories.
package project

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Paths derives the well-known locations inside a project root. The layout
// is dictated by the external tool.
type Paths struct {
	Root string
}

func (p Paths) InputDir() string     { return filepath.Join(p.Root, "input") }
func (p Paths) OutputDir() string    { return filepath.Join(p.Root, "output") }
func (p Paths) CacheDir() string     { return filepath.Join(p.Root, "cache") }
func (p Paths) SettingsPath() string { return filepath.Join(p.Root, "settings.yaml") }

// SaveDocument stores an uploaded document in the input directory.
// PDF uploads are converted to plain text before storage (the external
// tool only indexes text); everything else is written verbatim. Returns
// the stored filename, which differs from the upload name for PDFs.
func (p Paths) SaveDocument(name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(p.InputDir(), 0o755); err != nil {
		return "", fmt.Errorf("creating input directory: %w", err)
	}

	// Uploads arrive from the network; never let a crafted name escape
	// the input directory.
	name = filepath.Base(name)

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}

	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		text, err := pdfToText(data)
		if err != nil {
			return "", fmt.Errorf("converting %s: %w", name, err)
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".txt"
		data = []byte(text)
	}

	if err := os.WriteFile(filepath.Join(p.InputDir(), name), data, 0o644); err != nil {
		return "", fmt.Errorf("saving %s: %w", name, err)
	}
	return name, nil
}

// ListDocuments returns the filenames currently in the input directory,
// sorted. A missing input directory yields an empty list.
func (p Paths) ListDocuments() ([]string, error) {
	entries, err := os.ReadDir(p.InputDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading input directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Clear removes the cache and output directories so the next indexing run
// starts fresh. The input corpus and settings are kept.
func (p Paths) Clear() error {
	for _, dir := range []string{p.CacheDir(), p.OutputDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return nil
}

func pdfToText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	tr, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, tr); err != nil {
		return "", err
	}
	return buf.String(), nil
}
