// Package extension discovers, loads, and indexes extension-contributed
// commands, tools, and routes. The registry owns every descriptor; the
// merged capability index is an immutable snapshot swapped atomically so
// resolution never blocks on a concurrent load or reload.
package extension

import (
	"context"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
	"github.com/yashab-cyber/lewis-core/pkg/manifest"
)

// State is the lifecycle of one extension descriptor.
type State string

const (
	StateDiscovered  State = "DISCOVERED"
	StateInitialized State = "INITIALIZED"
	StateActive      State = "ACTIVE"
	StateFailed      State = "FAILED"
	StateDisabled    State = "DISABLED"
)

// HandlerFunc is an in-process command handler. It returns the raw output
// bytes the normalizer will parse. Handlers must honor ctx cancellation;
// one that does not is abandoned on timeout, not killed.
type HandlerFunc func(ctx context.Context, req *contracts.InvocationRequest) ([]byte, error)

// Extension is the fixed method set every in-process extension implements.
// Capabilities are declared in the manifest; Handlers supplies the code
// for each declared command that is not process backed.
type Extension interface {
	Init(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Handlers() map[string]HandlerFunc
}

// Factory constructs an extension instance for a manifest entry point.
// Factories are registered explicitly by the host; there is no
// reflection-based discovery.
type Factory func() Extension

// CapabilityKind discriminates contribution types.
type CapabilityKind string

const (
	KindCommand CapabilityKind = "command"
	KindTool    CapabilityKind = "tool"
	KindRoute   CapabilityKind = "route"
)

// Capability is one entry in the merged index.
type Capability struct {
	Kind         CapabilityKind
	Name         string
	Extension    string // "" for built-ins
	Category     string
	TargetScoped bool
	Permissions  []string
	// Parser names the normalizer parser for this capability's output.
	Parser string
}

// Resolved is what the execution engine receives for a command name:
// exactly one of Process or Func is set.
type Resolved struct {
	Capability Capability
	Process    *ProcessSpec
	Func       HandlerFunc
}

// ProcessSpec describes a process-backed handler. Args may contain
// {{target}} and {{arg:<name>}} placeholders expanded per invocation.
type ProcessSpec struct {
	Binary string
	Args   []string
}

// Descriptor represents one discovered extension. The registry is its
// sole owner; callers only ever see copies via Status.
type Descriptor struct {
	Manifest   *manifest.Manifest
	Dir        string
	State      State
	LoadErrors []string

	instance Extension
}

// Name returns the extension identity from its manifest.
func (d *Descriptor) Name() string { return d.Manifest.Name }

// DescriptorStatus is the externally visible projection of a descriptor.
type DescriptorStatus struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	State      State    `json:"state"`
	Commands   []string `json:"commands,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	Routes     []string `json:"routes,omitempty"`
	LoadErrors []string `json:"load_errors,omitempty"`
}
