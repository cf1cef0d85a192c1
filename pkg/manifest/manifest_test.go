package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashab-cyber/lewis-core/pkg/manifest"
)

const validYAML = `
name: recon-pack
version: 1.2.0
description: passive reconnaissance helpers
entry_point: recon
permissions: [network]
commands:
  - name: http-probe
    category: web_scanning
    target_scoped: true
    exec:
      binary: httpx
      args: ["-u", "{{target}}", "-silent"]
      parser: lines
  - name: recon-summary
    description: in-process summary over prior findings
tools:
  - name: httpx
    binary: httpx
    category: web_scanning
    danger_level: low
routes:
  - path: /recon/summary
    methods: [GET]
`

func TestParseValidYAML(t *testing.T) {
	m, err := manifest.Parse([]byte(validYAML), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, "recon-pack", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, "recon", m.EntryPoint)
	require.Len(t, m.Commands, 2)

	probe := m.Commands[0]
	assert.True(t, probe.TargetScoped)
	require.NotNil(t, probe.Exec)
	assert.Equal(t, "httpx", probe.Exec.Binary)
	assert.Equal(t, "lines", probe.Exec.Parser)

	assert.Nil(t, m.Commands[1].Exec)
	assert.Equal(t, []string{"http-probe", "recon-summary", "httpx", "/recon/summary"}, m.CapabilityNames())
}

func TestParseValidJSON(t *testing.T) {
	doc := `{
		"name": "json-pack",
		"version": "0.1.0",
		"entry_point": "jp",
		"commands": [{"name": "jp-run", "target_scoped": false}]
	}`
	m, err := manifest.Parse([]byte(doc), ".json")
	require.NoError(t, err)
	assert.Equal(t, "json-pack", m.Name)
	require.Len(t, m.Commands, 1)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", `{"version": "1.0.0", "entry_point": "x"}`},
		{"missing version", `{"name": "a", "entry_point": "x"}`},
		{"missing entry point", `{"name": "a", "version": "1.0.0"}`},
		{"bad name pattern", `{"name": "Bad Name!", "version": "1.0.0", "entry_point": "x"}`},
		{"unknown top-level field", `{"name": "a", "version": "1.0.0", "entry_point": "x", "shell": "/bin/sh"}`},
		{"command without name", `{"name": "a", "version": "1.0.0", "entry_point": "x", "commands": [{"category": "c"}]}`},
		{"exec without binary", `{"name": "a", "version": "1.0.0", "entry_point": "x", "commands": [{"name": "c", "exec": {"args": []}}]}`},
		{"bad danger level", `{"name": "a", "version": "1.0.0", "entry_point": "x", "tools": [{"name": "t", "binary": "t", "danger_level": "extreme"}]}`},
		{"route without leading slash", `{"name": "a", "version": "1.0.0", "entry_point": "x", "routes": [{"path": "relative"}]}`},
		{"not semver", `{"name": "a", "version": "latest", "entry_point": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manifest.Parse([]byte(tt.doc), ".json")
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	m, err := manifest.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "recon-pack", m.Name)

	_, err = manifest.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
