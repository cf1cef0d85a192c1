package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yashab-cyber/lewis-core/pkg/authz"
	"github.com/yashab-cyber/lewis-core/pkg/manifest"
)

var (
	ErrNotFound         = errors.New("extension: command not found")
	ErrUnknownExtension = errors.New("extension: no such extension")
	ErrUnknownFactory   = errors.New("extension: no factory for entry point")
)

var manifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// Registry owns all extension descriptors and the merged capability index.
type Registry struct {
	paths       []string
	initTimeout time.Duration
	logger      *slog.Logger

	// mu serializes mutation (Load/Reload/Unload); reads go through the
	// atomic index snapshot and never take it.
	mu          sync.Mutex
	factories   map[string]Factory
	descriptors map[string]*Descriptor
	handlers    map[string]map[string]HandlerFunc // extension -> command -> handler
	builtins    map[string]*Resolved

	index atomic.Pointer[map[string]*Resolved]
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithInitTimeout bounds every extension Init/Cleanup call.
func WithInitTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.initTimeout = d }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry scanning the given extension directories.
func NewRegistry(paths []string, opts ...RegistryOption) *Registry {
	r := &Registry{
		paths:       paths,
		initTimeout: 10 * time.Second,
		logger:      slog.Default().With("component", "extension-registry"),
		factories:   make(map[string]Factory),
		descriptors: make(map[string]*Descriptor),
		handlers:    make(map[string]map[string]HandlerFunc),
		builtins:    make(map[string]*Resolved),
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := make(map[string]*Resolved)
	r.index.Store(&empty)
	return r
}

// RegisterFactory binds a manifest entry-point name to a constructor.
// Must be called before Load for any extension using that entry point.
func (r *Registry) RegisterFactory(entryPoint string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[entryPoint] = f
}

// RegisterBuiltin adds a non-extension capability to the index. Built-ins
// are installed at startup, before extensions load; an extension that
// later declares the same command name fails to load.
func (r *Registry) RegisterBuiltin(res *Resolved) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := res.Capability.Name
	if _, dup := r.builtins[name]; dup {
		return fmt.Errorf("extension: duplicate builtin %q", name)
	}
	r.builtins[name] = res
	r.rebuildIndexLocked()
	return nil
}

// Discover scans the configured extension locations for manifests. It
// reads and validates manifest documents only; no extension code runs.
// Newly found extensions get a DISCOVERED descriptor; a manifest that
// fails validation yields a FAILED descriptor when its name is readable,
// and is otherwise skipped with a log line.
func (r *Registry) Discover() []DescriptorStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, root := range r.paths {
		entries, err := os.ReadDir(root)
		if err != nil {
			r.logger.Warn("extension path unreadable", "path", root, "error", err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			mf, path, err := readManifest(dir)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				r.logger.Warn("invalid extension manifest", "dir", dir, "error", err)
				continue
			}
			if existing, ok := r.descriptors[mf.Name]; ok {
				// Already known: refresh manifest for a future Reload.
				existing.Manifest = mf
				existing.Dir = dir
				continue
			}
			r.descriptors[mf.Name] = &Descriptor{Manifest: mf, Dir: dir, State: StateDiscovered}
			r.logger.Info("discovered extension", "name", mf.Name, "version", mf.Version, "manifest", path)
		}
	}
	return r.statusLocked()
}

func readManifest(dir string) (*manifest.Manifest, string, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		mf, err := manifest.Load(path)
		if err != nil {
			return nil, path, err
		}
		return mf, path, nil
	}
	return nil, "", os.ErrNotExist
}

// LoadAll loads every discovered extension. One failing extension never
// blocks the rest; failures are recorded on the descriptor and logged.
func (r *Registry) LoadAll(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.descriptors))
	for name, d := range r.descriptors {
		if d.State == StateDiscovered {
			names = append(names, name)
		}
	}
	r.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		if err := r.Load(ctx, name); err != nil {
			r.logger.Warn("extension load failed", "name", name, "error", err)
		}
	}
}

// Load instantiates and initializes one discovered extension, then merges
// its contributions into the index. On failure the descriptor transitions
// to FAILED with the reason recorded, and the index is untouched.
func (r *Registry) Load(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[name]
	if !ok {
		return ErrUnknownExtension
	}
	if d.State == StateActive {
		return nil
	}

	if err := r.loadLocked(ctx, d); err != nil {
		d.State = StateFailed
		d.LoadErrors = append(d.LoadErrors, err.Error())
		return err
	}
	d.State = StateActive
	d.LoadErrors = nil
	r.rebuildIndexLocked()
	r.logger.Info("extension active", "name", d.Name(), "version", d.Manifest.Version)
	return nil
}

func (r *Registry) loadLocked(ctx context.Context, d *Descriptor) error {
	// Collision check first, across the whole capability set (commands,
	// tools, routes): ambiguous resolution is a configuration error,
	// never resolved by precedence.
	idx := *r.index.Load()
	for _, name := range d.Manifest.CapabilityNames() {
		if owner, taken := idx[name]; taken && owner.Capability.Extension != d.Name() {
			if owner.Capability.Extension == "" {
				return fmt.Errorf("capability %q collides with a built-in", name)
			}
			return fmt.Errorf("capability %q already provided by extension %q", name, owner.Capability.Extension)
		}
	}

	var inst Extension
	needsCode := false
	for _, c := range d.Manifest.Commands {
		if c.Exec == nil {
			needsCode = true
			break
		}
	}
	if needsCode {
		factory, ok := r.factories[d.Manifest.EntryPoint]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFactory, d.Manifest.EntryPoint)
		}
		inst = factory()
		if err := r.callBounded(ctx, inst.Init); err != nil {
			return fmt.Errorf("init: %w", err)
		}
		d.State = StateInitialized

		handlers := inst.Handlers()
		for _, c := range d.Manifest.Commands {
			if c.Exec != nil {
				continue
			}
			if _, ok := handlers[c.Name]; !ok {
				_ = r.callBounded(ctx, inst.Cleanup)
				return fmt.Errorf("declared command %q has no handler", c.Name)
			}
		}
		r.handlers[d.Name()] = handlers
	}
	d.instance = inst
	return nil
}

// callBounded runs fn with the registry's init timeout. A hook that does
// not return in time is abandoned; its eventual result is discarded.
func (r *Registry) callBounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.initTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("hook did not return within %s: %w", r.initTimeout, ctx.Err())
	}
}

// Unload calls the extension's cleanup hook and removes its contributions
// from the index. In-flight executions of its handlers finish undisturbed.
func (r *Registry) Unload(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloadLocked(ctx, name)
}

func (r *Registry) unloadLocked(ctx context.Context, name string) error {
	d, ok := r.descriptors[name]
	if !ok {
		return ErrUnknownExtension
	}
	if d.instance != nil {
		if err := r.callBounded(ctx, d.instance.Cleanup); err != nil {
			r.logger.Warn("extension cleanup failed", "name", name, "error", err)
		}
		d.instance = nil
	}
	delete(r.handlers, name)
	d.State = StateDisabled
	r.rebuildIndexLocked()
	return nil
}

// Reload unloads, re-discovers, and re-loads one extension. Safe while
// other commands execute: the index swap is the only exclusive section,
// and resolutions made before the swap keep their old handler.
func (r *Registry) Reload(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[name]
	if !ok {
		return ErrUnknownExtension
	}
	if err := r.unloadLocked(ctx, name); err != nil {
		return err
	}

	mf, _, err := readManifest(d.Dir)
	if err != nil {
		d.State = StateFailed
		d.LoadErrors = append(d.LoadErrors, err.Error())
		return fmt.Errorf("extension: re-read manifest: %w", err)
	}
	d.Manifest = mf
	d.State = StateDiscovered

	if err := r.loadLocked(ctx, d); err != nil {
		d.State = StateFailed
		d.LoadErrors = append(d.LoadErrors, err.Error())
		return err
	}
	d.State = StateActive
	d.LoadErrors = nil
	r.rebuildIndexLocked()
	return nil
}

// Resolve returns the handler for a command name. O(1) against the
// current snapshot; never blocks on loads or reloads.
func (r *Registry) Resolve(name string) (*Resolved, error) {
	idx := *r.index.Load()
	res, ok := idx[name]
	if !ok {
		return nil, ErrNotFound
	}
	return res, nil
}

// Lookup implements authz.CommandIndex over the same snapshot. Only
// command capabilities are invocable; tool and route entries are not
// commands and stay unknown to the guard.
func (r *Registry) Lookup(name string) (authz.CommandInfo, bool) {
	idx := *r.index.Load()
	res, ok := idx[name]
	if !ok || res.Capability.Kind != KindCommand {
		return authz.CommandInfo{}, false
	}
	return authz.CommandInfo{
		Name:         res.Capability.Name,
		Category:     res.Capability.Category,
		TargetScoped: res.Capability.TargetScoped,
	}, true
}

// rebuildIndexLocked recomputes the merged index and swaps it in.
// Caller holds mu. Built-ins are merged first; only ACTIVE extensions
// contribute.
func (r *Registry) rebuildIndexLocked() {
	next := make(map[string]*Resolved, len(r.builtins))
	for name, res := range r.builtins {
		next[name] = res
	}
	for _, d := range r.descriptors {
		if d.State != StateActive {
			continue
		}
		for _, c := range d.Manifest.Commands {
			res := &Resolved{
				Capability: Capability{
					Kind:         KindCommand,
					Name:         c.Name,
					Extension:    d.Name(),
					Category:     c.Category,
					TargetScoped: c.TargetScoped,
					Permissions:  c.Permissions,
				},
			}
			if c.Exec != nil {
				res.Process = &ProcessSpec{Binary: c.Exec.Binary, Args: c.Exec.Args}
				res.Capability.Parser = c.Exec.Parser
			} else {
				res.Func = r.handlers[d.Name()][c.Name]
				res.Capability.Parser = "json"
			}
			next[c.Name] = res
		}
		for _, t := range d.Manifest.Tools {
			next[t.Name] = &Resolved{
				Capability: Capability{
					Kind:      KindTool,
					Name:      t.Name,
					Extension: d.Name(),
					Category:  t.Category,
					Parser:    "raw",
				},
				Process: &ProcessSpec{Binary: t.Binary},
			}
		}
		// Routes are keyed by path; they carry no handler here, only the
		// declaration the API layer reads.
		for _, rt := range d.Manifest.Routes {
			next[rt.Path] = &Resolved{
				Capability: Capability{
					Kind:        KindRoute,
					Name:        rt.Path,
					Extension:   d.Name(),
					Permissions: rt.Permissions,
				},
			}
		}
	}
	r.index.Store(&next)
}

// Status reports every descriptor's externally visible state.
func (r *Registry) Status() []DescriptorStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Registry) statusLocked() []DescriptorStatus {
	out := make([]DescriptorStatus, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		st := DescriptorStatus{
			Name:       d.Name(),
			Version:    d.Manifest.Version,
			State:      d.State,
			LoadErrors: append([]string(nil), d.LoadErrors...),
		}
		for _, c := range d.Manifest.Commands {
			st.Commands = append(st.Commands, c.Name)
		}
		for _, t := range d.Manifest.Tools {
			st.Tools = append(st.Tools, t.Name)
		}
		for _, rt := range d.Manifest.Routes {
			st.Routes = append(st.Routes, rt.Path)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown unloads every active extension.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.descriptors))
	for name, d := range r.descriptors {
		if d.State == StateActive {
			names = append(names, name)
		}
	}
	r.mu.Unlock()
	for _, name := range names {
		_ = r.Unload(ctx, name)
	}
}
