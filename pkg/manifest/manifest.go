// Package manifest defines the declarative document every extension ships
// and validates it structurally before any extension code is loaded.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Manifest describes one extension: identity, declared capabilities, and
// the entry point the registry instantiates.
type Manifest struct {
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version" yaml:"version"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	EntryPoint  string   `json:"entry_point" yaml:"entry_point"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`

	Commands []CommandSpec `json:"commands,omitempty" yaml:"commands,omitempty"`
	Tools    []ToolSpec    `json:"tools,omitempty" yaml:"tools,omitempty"`
	Routes   []RouteSpec   `json:"routes,omitempty" yaml:"routes,omitempty"`
}

// CommandSpec declares one command contribution.
type CommandSpec struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category     string   `json:"category,omitempty" yaml:"category,omitempty"`
	TargetScoped bool     `json:"target_scoped" yaml:"target_scoped"`
	Permissions  []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	// Exec, when set, makes the command process backed: the registry
	// builds a handler around the binary without any extension Go code.
	Exec *ExecSpec `json:"exec,omitempty" yaml:"exec,omitempty"`
}

// ExecSpec describes a process-backed handler.
type ExecSpec struct {
	Binary string `json:"binary" yaml:"binary"`
	// Args may reference {{target}} and {{arg:<name>}} placeholders,
	// expanded per invocation.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Parser names the normalizer parser for this tool's output.
	Parser string `json:"parser,omitempty" yaml:"parser,omitempty"`
}

// ToolSpec declares an external tool adapter contribution.
type ToolSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Binary      string `json:"binary" yaml:"binary"`
	DangerLevel string `json:"danger_level,omitempty" yaml:"danger_level,omitempty"`
}

// RouteSpec declares an API route contribution.
type RouteSpec struct {
	Path        string   `json:"path" yaml:"path"`
	Methods     []string `json:"methods,omitempty" yaml:"methods,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// CapabilityNames returns every contributed command, tool, and route name.
func (m *Manifest) CapabilityNames() []string {
	names := make([]string, 0, len(m.Commands)+len(m.Tools)+len(m.Routes))
	for _, c := range m.Commands {
		names = append(names, c.Name)
	}
	for _, t := range m.Tools {
		names = append(names, t.Name)
	}
	for _, r := range m.Routes {
		names = append(names, r.Path)
	}
	return names
}

// Load reads, schema-validates, and decodes a manifest file. Both YAML
// and JSON documents are accepted; the extension defines which.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse validates and decodes manifest bytes. ext selects the decoder
// (".json" or anything YAML can read).
func Parse(data []byte, ext string) (*Manifest, error) {
	var raw map[string]any
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("manifest: parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("manifest: parse yaml: %w", err)
		}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	// Round-trip through JSON so one tag set decodes both formats.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest: normalize: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}

	if _, err := semver.NewVersion(m.Version); err != nil {
		return nil, fmt.Errorf("manifest: version %q is not semver: %w", m.Version, err)
	}
	return &m, nil
}
