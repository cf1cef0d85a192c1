// Package policy supplies the static authorization policy consumed by the
// guard: command role requirements, requester scope lists, rate limits,
// and execution limits. The policy is read-only at invocation time and
// reloaded only at explicit operator request.
package policy

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// CommandPolicy configures one logical command.
type CommandPolicy struct {
	Name          string   `yaml:"name" json:"name"`
	RequiredRoles []string `yaml:"required_roles" json:"required_roles"`
	TargetScoped  bool     `yaml:"target_scoped" json:"target_scoped"`
	// Category groups commands for defense-in-depth rules; commands in an
	// elevated category additionally require one of ElevatedRoles.
	Category       string `yaml:"category,omitempty" json:"category,omitempty"`
	RateLimit      int    `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	RateWindowSecs int    `yaml:"rate_window_seconds,omitempty" json:"rate_window_seconds,omitempty"`
	TimeoutSecs    int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	MaxOutputBytes int64  `yaml:"max_output_bytes,omitempty" json:"max_output_bytes,omitempty"`
}

// RequesterPolicy configures one requester's authorized scope list.
type RequesterPolicy struct {
	Scopes []string `yaml:"scopes" json:"scopes"`
}

// GuardRule is a CEL expression evaluated against every invocation after
// the role check; a rule that evaluates to false denies the request.
type GuardRule struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Expression  string `yaml:"expression" json:"expression"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
}

// Defaults apply when a command omits its own limits.
type Defaults struct {
	RateLimit      int   `yaml:"rate_limit" json:"rate_limit"`
	RateWindowSecs int   `yaml:"rate_window_seconds" json:"rate_window_seconds"`
	TimeoutSecs    int   `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes"`
}

// Document is the operator-managed policy file.
type Document struct {
	Version string `yaml:"version" json:"version"`
	// ElevatedCategories maps a command category to the roles allowed to
	// run it in addition to the command's own role requirement.
	ElevatedCategories map[string][]string        `yaml:"elevated_categories,omitempty" json:"elevated_categories,omitempty"`
	Defaults           Defaults                   `yaml:"defaults" json:"defaults"`
	Commands           []CommandPolicy            `yaml:"commands" json:"commands"`
	Requesters         map[string]RequesterPolicy `yaml:"requesters" json:"requesters"`
	Guards             []GuardRule                `yaml:"guards,omitempty" json:"guards,omitempty"`
}

// Snapshot is an immutable, indexed view of a policy document. All reads
// during authorization go through a snapshot so a concurrent reload never
// tears a decision.
type Snapshot struct {
	doc      *Document
	commands map[string]*CommandPolicy
	guards   *GuardEvaluator
}

// Command returns the policy for a command name.
func (s *Snapshot) Command(name string) (*CommandPolicy, bool) {
	c, ok := s.commands[name]
	return c, ok
}

// Scopes returns the authorized scope list for a requester, empty when
// the requester is unknown (fail closed: empty scope authorizes nothing).
func (s *Snapshot) Scopes(userID string) []string {
	if r, ok := s.doc.Requesters[userID]; ok {
		return r.Scopes
	}
	return nil
}

// ElevatedRoles returns the extra role requirement for a category, if any.
func (s *Snapshot) ElevatedRoles(category string) ([]string, bool) {
	roles, ok := s.doc.ElevatedCategories[category]
	return roles, ok
}

// Guards returns the compiled guard evaluator, nil when no rules are set.
func (s *Snapshot) Guards() *GuardEvaluator {
	return s.guards
}

// RateLimit resolves the effective rate limit for a command.
func (s *Snapshot) RateLimit(c *CommandPolicy) (requests int, window time.Duration) {
	requests, windowSecs := c.RateLimit, c.RateWindowSecs
	if requests <= 0 {
		requests = s.doc.Defaults.RateLimit
	}
	if windowSecs <= 0 {
		windowSecs = s.doc.Defaults.RateWindowSecs
	}
	if windowSecs <= 0 {
		windowSecs = 60
	}
	return requests, time.Duration(windowSecs) * time.Second
}

// Limits resolves the effective execution limits for a command.
func (s *Snapshot) Limits(c *CommandPolicy) (timeout time.Duration, maxOutput int64) {
	timeoutSecs := c.TimeoutSecs
	if timeoutSecs <= 0 {
		timeoutSecs = s.doc.Defaults.TimeoutSecs
	}
	if timeoutSecs <= 0 {
		timeoutSecs = 300
	}
	maxOutput = c.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = s.doc.Defaults.MaxOutputBytes
	}
	if maxOutput <= 0 {
		maxOutput = 10 << 20
	}
	return time.Duration(timeoutSecs) * time.Second, maxOutput
}

// Store holds the active snapshot and swaps it atomically on reload.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
}

// NewStore loads the policy file at path and returns a store serving it.
func NewStore(path string) (*Store, error) {
	st := &Store{path: path}
	if err := st.Reload(); err != nil {
		return nil, err
	}
	return st, nil
}

// NewStoreFromDocument builds a store around an in-memory document.
func NewStoreFromDocument(doc *Document) (*Store, error) {
	snap, err := buildSnapshot(doc)
	if err != nil {
		return nil, err
	}
	st := &Store{}
	st.current.Store(snap)
	return st, nil
}

// Snapshot returns the active immutable policy view.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload re-reads the policy file and swaps the snapshot in atomically.
// On any error the previous snapshot stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("policy: store has no backing file")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("policy: read %s: %w", s.path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("policy: parse %s: %w", s.path, err)
	}
	snap, err := buildSnapshot(&doc)
	if err != nil {
		return err
	}
	s.current.Store(snap)
	return nil
}

func buildSnapshot(doc *Document) (*Snapshot, error) {
	snap := &Snapshot{
		doc:      doc,
		commands: make(map[string]*CommandPolicy, len(doc.Commands)),
	}
	for i := range doc.Commands {
		c := &doc.Commands[i]
		if c.Name == "" {
			return nil, fmt.Errorf("policy: command %d has no name", i)
		}
		if _, dup := snap.commands[c.Name]; dup {
			return nil, fmt.Errorf("policy: duplicate command %q", c.Name)
		}
		snap.commands[c.Name] = c
	}
	if len(doc.Guards) > 0 {
		ev, err := NewGuardEvaluator(doc.Guards)
		if err != nil {
			return nil, err
		}
		snap.guards = ev
	}
	return snap, nil
}
