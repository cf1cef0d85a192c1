package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashab-cyber/lewis-core/pkg/tools"
)

func TestCatalogIsWellFormed(t *testing.T) {
	commands := map[string]bool{}
	for _, tool := range tools.Catalog {
		assert.NotEmpty(t, tool.Name)
		assert.NotEmpty(t, tool.Binary)
		assert.NotEmpty(t, tool.Command)
		assert.NotEmpty(t, tool.Parser)
		assert.False(t, commands[tool.Command], "duplicate command %q", tool.Command)
		commands[tool.Command] = true
	}
}

func TestBuiltinsMirrorCatalog(t *testing.T) {
	builtins := tools.Builtins()
	require.Len(t, builtins, len(tools.Catalog))

	byName := map[string]int{}
	for i, b := range builtins {
		byName[b.Capability.Name] = i
		require.NotNil(t, b.Process, "built-ins are always process backed")
		assert.Nil(t, b.Func)
	}

	i, ok := byName["port-scan"]
	require.True(t, ok)
	b := builtins[i]
	assert.Equal(t, "nmap", b.Process.Binary)
	assert.Equal(t, "nmap", b.Capability.Parser)
	assert.Equal(t, "network_scanning", b.Capability.Category)
	assert.True(t, b.Capability.TargetScoped)
	assert.Contains(t, b.Process.Args, "{{target}}")
}

func TestBuiltinsCopyArgs(t *testing.T) {
	a := tools.Builtins()
	b := tools.Builtins()
	a[0].Process.Args[0] = "mutated"
	assert.NotEqual(t, "mutated", b[0].Process.Args[0], "each projection owns its arg slice")
}

func TestProbeMissingBinary(t *testing.T) {
	av := tools.Probe(context.Background(), tools.Tool{
		Name: "ghost-scanner", Binary: "definitely-not-installed-xyz",
	})
	assert.False(t, av.Available)
	assert.Contains(t, av.Error, "not found")
	assert.Empty(t, av.Path)
}

func TestProbeRealBinary(t *testing.T) {
	// `true` exists everywhere this test runs and exits 0 on --version.
	av := tools.Probe(context.Background(), tools.Tool{Name: "true", Binary: "true"})
	assert.True(t, av.Available)
	assert.NotEmpty(t, av.Path)
}

func TestProbeAllCoversCatalog(t *testing.T) {
	out := tools.ProbeAll(context.Background())
	require.Len(t, out, len(tools.Catalog))
	seen := map[string]bool{}
	for _, av := range out {
		seen[av.Tool] = true
	}
	assert.True(t, seen["nmap"])
	assert.True(t, seen["sqlmap"])
}

func TestDangerLevels(t *testing.T) {
	var sqlmap *tools.Tool
	for i := range tools.Catalog {
		if tools.Catalog[i].Name == "sqlmap" {
			sqlmap = &tools.Catalog[i]
		}
	}
	require.NotNil(t, sqlmap)
	assert.Equal(t, tools.DangerHigh, sqlmap.Danger)
	assert.Equal(t, "web_exploitation", sqlmap.Category)
}
