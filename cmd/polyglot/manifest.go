package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/polyglot/pkg/lang"
	"github.com/pario-ai/polyglot/pkg/models"
)

// Manifest lists the requests of a batch run.
type Manifest struct {
	Requests []ManifestEntry `yaml:"requests"`
}

// ManifestEntry is a request whose source may live in a file relative to the
// manifest.
type ManifestEntry struct {
	models.ConversionRequest `yaml:",inline"`
	SourceFile               string `yaml:"source_file"`
}

// loadManifest parses a YAML batch manifest and resolves source files.
func loadManifest(path string) ([]models.ConversionRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	dir := filepath.Dir(path)
	reqs := make([]models.ConversionRequest, 0, len(m.Requests))
	for i, e := range m.Requests {
		req := e.ConversionRequest
		if e.SourceFile != "" {
			if req.SourceCode != "" {
				return nil, fmt.Errorf("manifest entry %d: source_code and source_file are exclusive", i)
			}
			src := e.SourceFile
			if !filepath.IsAbs(src) {
				src = filepath.Join(dir, src)
			}
			code, err := os.ReadFile(src)
			if err != nil {
				return nil, fmt.Errorf("manifest entry %d: %w", i, err)
			}
			req.SourceCode = string(code)
			if req.SourceLanguage == "" {
				req.SourceLanguage = lang.FromPath(src)
			}
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
