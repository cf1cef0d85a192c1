// Package normalize converts raw tool output into the fixed findings
// schema. Parsers are registered per tool; output that no parser claims,
// or that a parser cannot make sense of, still flows through with the
// raw bytes preserved byte for byte and an empty findings list.
package normalize

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
)

// ParseFunc extracts findings from raw output. target is the first
// request target, used to attribute findings when the output itself
// does not name one. A ParseFunc must not mutate raw.
type ParseFunc func(raw []byte, target string) ([]contracts.Finding, error)

// Normalizer maps parser names to parse functions.
type Normalizer struct {
	mu      sync.RWMutex
	parsers map[string]ParseFunc
	logger  *slog.Logger
}

// New builds a Normalizer with the standard parser set.
func New() *Normalizer {
	n := &Normalizer{
		parsers: make(map[string]ParseFunc),
		logger:  slog.Default().With("component", "normalize"),
	}
	n.Register("nmap", parseNmap)
	n.Register("nmap-xml", parseNmapXML)
	n.Register("nikto", parseNikto)
	n.Register("gobuster", parseGobuster)
	n.Register("lines", parseLines)
	n.Register("json", parseJSONFindings)
	n.Register("raw", parseRaw)
	return n
}

// Register installs or replaces a parser. Extensions register parsers
// for their own tools at load time.
func (n *Normalizer) Register(name string, fn ParseFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parsers[name] = fn
}

// Parsers returns the registered parser names, sorted.
func (n *Normalizer) Parsers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.parsers))
	for name := range n.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize produces structured output for one execution. It never
// fails: an unknown parser name or a parse error yields an empty
// findings list, and callers keep the untouched raw output either way.
// Findings with a severity outside the closed scale are coerced to info.
func (n *Normalizer) Normalize(parser, tool string, raw []byte, target string) *contracts.StructuredOutput {
	out := &contracts.StructuredOutput{Tool: tool, Findings: []contracts.Finding{}}

	n.mu.RLock()
	fn, ok := n.parsers[parser]
	n.mu.RUnlock()
	if !ok {
		if parser != "" {
			n.logger.Warn("no parser registered", "parser", parser, "tool", tool)
		}
		return out
	}

	findings, err := fn(raw, target)
	if err != nil {
		n.logger.Warn("output did not parse", "parser", parser, "tool", tool, "error", err)
		return out
	}
	for _, f := range findings {
		if !contracts.ValidSeverity(f.Severity) {
			f.Severity = contracts.SeverityInfo
		}
		out.Findings = append(out.Findings, f)
	}
	return out
}
