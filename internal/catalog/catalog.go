// Package catalog loads guardrail definitions from YAML or JSON catalog
// files and seeds them into a store.
//
// A catalog file looks like:
//
//	version: "1"
//	guardrails:
//	  - id: no-secrets
//	    agent_id: support-bot
//	    name: Block leaked secrets
//	    trigger:
//	      timing: on_end
//	      logic: or
//	      conditions:
//	        - field: output.text
//	          operator: regex
//	          value: "(?i)api[_-]?key"
//	    actions:
//	      - type: block
//	        priority: 1
//	        message: Response contained a credential
//
// Documents are checked against an embedded JSON schema first, then every
// definition goes through guardrails.ValidateDefinition.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/agentoven/agentoven/guardrail-engine/internal/guardrails"
	"github.com/agentoven/agentoven/guardrail-engine/internal/store"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

//go:embed schemas/catalog.schema.json
var catalogSchema []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(catalogSchema))
	})
	return compiledSchema, compileErr
}

// File is a decoded catalog document.
type File struct {
	Version    string                       `json:"version,omitempty"`
	Guardrails []models.GuardrailDefinition `json:"guardrails"`
}

// ValidationError lists every schema or definition problem in a catalog.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog %s is invalid:\n  - %s", e.Path, strings.Join(e.Problems, "\n  - "))
}

// LoadFile reads, validates and decodes a catalog file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes catalog bytes. The name selects the format
// by extension (.json is JSON, anything else YAML) and labels errors.
func Parse(name string, data []byte) (*File, error) {
	var doc any
	if strings.EqualFold(filepath.Ext(name), ".json") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", name, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", name, err)
		}
	}
	applyDefaults(doc)

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode catalog %s: %w", name, err)
	}

	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling catalog schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validating catalog %s: %w", name, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &ValidationError{Path: name, Problems: problems}
	}

	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", name, err)
	}

	var problems []string
	seen := make(map[string]bool, len(f.Guardrails))
	for i := range f.Guardrails {
		def := &f.Guardrails[i]
		if seen[def.ID] {
			problems = append(problems, fmt.Sprintf("duplicate guardrail id %q", def.ID))
		}
		seen[def.ID] = true
		if err := guardrails.ValidateDefinition(def); err != nil {
			for _, line := range strings.Split(err.Error(), "\n") {
				problems = append(problems, line)
			}
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Path: name, Problems: problems}
	}
	return &f, nil
}

// applyDefaults marks guardrails active unless the file says otherwise.
func applyDefaults(doc any) {
	root, ok := doc.(map[string]any)
	if !ok {
		return
	}
	list, ok := root["guardrails"].([]any)
	if !ok {
		return
	}
	for _, item := range list {
		if g, ok := item.(map[string]any); ok {
			if _, set := g["active"]; !set {
				g["active"] = true
			}
		}
	}
}

// Seed upserts every definition into the store and returns how many were
// written. projectID fills definitions that do not name a project.
func Seed(ctx context.Context, s store.GuardrailStore, projectID string, defs []models.GuardrailDefinition) (int, error) {
	var errs []error
	n := 0
	for i := range defs {
		def := defs[i]
		if def.ProjectID == "" {
			def.ProjectID = projectID
		}
		if err := s.CreateGuardrail(ctx, &def); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", def.ID, err))
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("guardrails", n).Str("project", projectID).Msg("📚 Guardrail catalog seeded")
	}
	return n, errors.Join(errs...)
}
