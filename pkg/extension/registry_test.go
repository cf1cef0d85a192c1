package extension_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
	"github.com/yashab-cyber/lewis-core/pkg/extension"
)

func writeManifest(t *testing.T, root, dir, doc string) {
	t.Helper()
	d := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(d, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(d, "manifest.yaml"), []byte(doc), 0o600))
}

const execManifest = `
name: recon-pack
version: 1.0.0
entry_point: recon
commands:
  - name: http-probe
    category: web_scanning
    target_scoped: true
    exec:
      binary: httpx
      args: ["-u", "{{target}}"]
      parser: lines
`

const codeManifest = `
name: summary-pack
version: 0.2.0
entry_point: summary
commands:
  - name: recon-summary
`

type stubExtension struct {
	initErr  error
	handlers map[string]extension.HandlerFunc
	cleaned  bool
}

func (s *stubExtension) Init(context.Context) error { return s.initErr }
func (s *stubExtension) Cleanup(context.Context) error {
	s.cleaned = true
	return nil
}
func (s *stubExtension) Handlers() map[string]extension.HandlerFunc { return s.handlers }

func TestDiscoverAndLoadProcessBacked(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "recon", execManifest)

	r := extension.NewRegistry([]string{root})
	statuses := r.Discover()
	require.Len(t, statuses, 1)
	assert.Equal(t, extension.StateDiscovered, statuses[0].State)

	r.LoadAll(context.Background())

	res, err := r.Resolve("http-probe")
	require.NoError(t, err)
	require.NotNil(t, res.Process)
	assert.Equal(t, "httpx", res.Process.Binary)
	assert.Equal(t, "lines", res.Capability.Parser)
	assert.Equal(t, "recon-pack", res.Capability.Extension)
	assert.Nil(t, res.Func)

	info, ok := r.Lookup("http-probe")
	require.True(t, ok)
	assert.True(t, info.TargetScoped)
	assert.Equal(t, "web_scanning", info.Category)
}

func TestLoadInProcessHandlers(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "summary", codeManifest)

	stub := &stubExtension{handlers: map[string]extension.HandlerFunc{
		"recon-summary": func(context.Context, *contracts.InvocationRequest) ([]byte, error) {
			return []byte(`[]`), nil
		},
	}}
	r := extension.NewRegistry([]string{root})
	r.RegisterFactory("summary", func() extension.Extension { return stub })
	r.Discover()
	require.NoError(t, r.Load(context.Background(), "summary-pack"))

	res, err := r.Resolve("recon-summary")
	require.NoError(t, err)
	require.NotNil(t, res.Func)
	assert.Equal(t, "json", res.Capability.Parser)
}

func TestLoadFailsWithoutFactory(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "summary", codeManifest)

	r := extension.NewRegistry([]string{root})
	r.Discover()
	err := r.Load(context.Background(), "summary-pack")
	require.ErrorIs(t, err, extension.ErrUnknownFactory)

	statuses := r.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, extension.StateFailed, statuses[0].State)
	assert.NotEmpty(t, statuses[0].LoadErrors)

	_, err = r.Resolve("recon-summary")
	assert.ErrorIs(t, err, extension.ErrNotFound)
}

func TestLoadFailsOnMissingHandler(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "summary", codeManifest)

	stub := &stubExtension{handlers: map[string]extension.HandlerFunc{}}
	r := extension.NewRegistry([]string{root})
	r.RegisterFactory("summary", func() extension.Extension { return stub })
	r.Discover()

	err := r.Load(context.Background(), "summary-pack")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler")
	// Cleanup runs when a declared handler is missing after Init.
	assert.True(t, stub.cleaned)
}

func TestBuiltinCollisionRejectsExtension(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "clash", `
name: clash-pack
version: 1.0.0
entry_point: clash
commands:
  - name: port-scan
    exec:
      binary: other-scanner
`)

	r := extension.NewRegistry([]string{root})
	require.NoError(t, r.RegisterBuiltin(&extension.Resolved{
		Capability: extension.Capability{Kind: extension.KindCommand, Name: "port-scan"},
		Process:    &extension.ProcessSpec{Binary: "nmap"},
	}))
	r.Discover()

	err := r.Load(context.Background(), "clash-pack")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides with a built-in")

	// The built-in stays resolvable.
	res, err := r.Resolve("port-scan")
	require.NoError(t, err)
	assert.Equal(t, "nmap", res.Process.Binary)
}

func TestDuplicateCommandAcrossExtensions(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "first", `
name: first-pack
version: 1.0.0
entry_point: a
commands:
  - name: shared-command
    exec: {binary: one}
`)
	writeManifest(t, root, "second", `
name: second-pack
version: 1.0.0
entry_point: b
commands:
  - name: shared-command
    exec: {binary: two}
`)

	r := extension.NewRegistry([]string{root})
	r.Discover()
	r.LoadAll(context.Background())

	// LoadAll is alphabetical: first-pack wins, second-pack fails.
	res, err := r.Resolve("shared-command")
	require.NoError(t, err)
	assert.Equal(t, "one", res.Process.Binary)

	var failed extension.DescriptorStatus
	for _, st := range r.Status() {
		if st.Name == "second-pack" {
			failed = st
		}
	}
	assert.Equal(t, extension.StateFailed, failed.State)
	require.NotEmpty(t, failed.LoadErrors)
	assert.Contains(t, failed.LoadErrors[0], "already provided by extension")
}

func TestToolAndRouteCapabilitiesIndexed(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "banner", `
name: banner-pack
version: 1.0.0
entry_point: banner
tools:
  - name: banner-grab
    category: information_gathering
    binary: bannergrab
    danger_level: low
routes:
  - path: /v1/banners
    methods: [GET]
    permissions: [banners.read]
`)

	r := extension.NewRegistry([]string{root})
	r.Discover()
	r.LoadAll(context.Background())

	res, err := r.Resolve("banner-grab")
	require.NoError(t, err)
	assert.Equal(t, extension.KindTool, res.Capability.Kind)
	assert.Equal(t, "banner-pack", res.Capability.Extension)
	require.NotNil(t, res.Process)
	assert.Equal(t, "bannergrab", res.Process.Binary)

	res, err = r.Resolve("/v1/banners")
	require.NoError(t, err)
	assert.Equal(t, extension.KindRoute, res.Capability.Kind)
	assert.Equal(t, []string{"banners.read"}, res.Capability.Permissions)

	// Tools and routes are not invocable commands.
	_, ok := r.Lookup("banner-grab")
	assert.False(t, ok)
	_, ok = r.Lookup("/v1/banners")
	assert.False(t, ok)

	statuses := r.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, []string{"banner-grab"}, statuses[0].Tools)
	assert.Equal(t, []string{"/v1/banners"}, statuses[0].Routes)

	require.NoError(t, r.Unload(context.Background(), "banner-pack"))
	_, err = r.Resolve("banner-grab")
	assert.ErrorIs(t, err, extension.ErrNotFound)
	_, err = r.Resolve("/v1/banners")
	assert.ErrorIs(t, err, extension.ErrNotFound)
}

func TestDuplicateToolAndRouteAcrossExtensions(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "first", `
name: first-pack
version: 1.0.0
entry_point: a
tools:
  - name: shared-tool
    binary: one
routes:
  - path: /shared
`)
	writeManifest(t, root, "second", `
name: second-pack
version: 1.0.0
entry_point: b
tools:
  - name: shared-tool
    binary: two
`)
	writeManifest(t, root, "third", `
name: third-pack
version: 1.0.0
entry_point: c
routes:
  - path: /shared
`)

	r := extension.NewRegistry([]string{root})
	r.Discover()
	r.LoadAll(context.Background())

	// LoadAll is alphabetical: first-pack owns both names, later packs fail.
	res, err := r.Resolve("shared-tool")
	require.NoError(t, err)
	assert.Equal(t, "one", res.Process.Binary)
	res, err = r.Resolve("/shared")
	require.NoError(t, err)
	assert.Equal(t, "first-pack", res.Capability.Extension)

	states := map[string]extension.DescriptorStatus{}
	for _, st := range r.Status() {
		states[st.Name] = st
	}
	assert.Equal(t, extension.StateActive, states["first-pack"].State)
	for _, loser := range []string{"second-pack", "third-pack"} {
		st := states[loser]
		assert.Equal(t, extension.StateFailed, st.State)
		require.NotEmpty(t, st.LoadErrors)
		assert.Contains(t, st.LoadErrors[0], "already provided by extension")
	}
}

func TestReloadPicksUpManifestChanges(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "recon", execManifest)

	r := extension.NewRegistry([]string{root})
	r.Discover()
	r.LoadAll(context.Background())

	updated := `
name: recon-pack
version: 1.1.0
entry_point: recon
commands:
  - name: http-probe
    exec:
      binary: httpx-next
      parser: lines
`
	writeManifest(t, root, "recon", updated)
	require.NoError(t, r.Reload(context.Background(), "recon-pack"))

	res, err := r.Resolve("http-probe")
	require.NoError(t, err)
	assert.Equal(t, "httpx-next", res.Process.Binary)
}

func TestUnloadRemovesCommands(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "recon", execManifest)

	r := extension.NewRegistry([]string{root})
	r.Discover()
	r.LoadAll(context.Background())

	require.NoError(t, r.Unload(context.Background(), "recon-pack"))
	_, err := r.Resolve("http-probe")
	assert.ErrorIs(t, err, extension.ErrNotFound)

	assert.ErrorIs(t, r.Unload(context.Background(), "ghost"), extension.ErrUnknownExtension)
}

func TestInitTimeoutAbandonsHook(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "summary", codeManifest)

	stuck := &stubExtension{handlers: map[string]extension.HandlerFunc{}}
	r := extension.NewRegistry([]string{root}, extension.WithInitTimeout(50*time.Millisecond))
	r.RegisterFactory("summary", func() extension.Extension { return &hangingExtension{stuck} })
	r.Discover()

	start := time.Now()
	err := r.Load(context.Background(), "summary-pack")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, err.Error(), "did not return")
}

type hangingExtension struct{ *stubExtension }

func (h *hangingExtension) Init(ctx context.Context) error {
	<-ctx.Done()
	time.Sleep(10 * time.Second)
	return errors.New("never reached in time")
}
