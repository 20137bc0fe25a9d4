package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionFile pairs a parsed workflow with its on-disk source.
type DefinitionFile struct {
	Workflow Workflow
	Path     string
}

// ParseDefinitionYAML decodes a single workflow definition from YAML/JSON bytes.
func ParseDefinitionYAML(data []byte) (Workflow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Workflow{}, fmt.Errorf("workflow: definition payload is empty")
	}
	var def Workflow
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Workflow{}, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return def.Normalized()
}

// parseCatalogYAML decodes a document holding an ordered list of workflows.
func parseCatalogYAML(data []byte) ([]Workflow, error) {
	var doc struct {
		Workflows []Workflow `yaml:"workflows"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: decode catalog: %w", err)
	}
	out := make([]Workflow, 0, len(doc.Workflows))
	for idx, def := range doc.Workflows {
		normalized, err := def.Normalized()
		if err != nil {
			return nil, fmt.Errorf("workflow: catalog[%d]: %w", idx, err)
		}
		out = append(out, normalized)
	}
	return out, nil
}

// LoadDefinitionFile loads a workflow definition from an explicit file path.
func LoadDefinitionFile(path string) (DefinitionFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	def, err := ParseDefinitionYAML(content)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return DefinitionFile{Workflow: def, Path: filepath.Clean(path)}, nil
}

// LoadDefinitionDir scans dir for *.yaml/*.yml workflows, sorted by path.
// A missing directory means "no custom workflows".
func LoadDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("workflow: read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		def, err := LoadDefinitionFile(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
