package engine

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
)

const (
	placeholderTarget = "{{target}}"
	argPrefix         = "{{arg:"
	argSuffix         = "}}"

	// killGrace is how long a process gets after SIGTERM before the
	// group is killed outright.
	killGrace = 5 * time.Second
)

// cappedBuffer accumulates combined stdout and stderr up to a byte
// limit. Writes past the limit are counted but dropped, so a chatty
// tool cannot exhaust memory; the writer never reports an error because
// truncation must not fail the execution.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int64
	truncated bool
}

func newCappedBuffer(max int64) *cappedBuffer {
	if max <= 0 {
		max = 10 << 20
	}
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - int64(len(b.buf))
	switch {
	case room >= int64(len(p)):
		b.buf = append(b.buf, p...)
	case room > 0:
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
	default:
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) snapshot() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf, b.truncated
}

// runProcess executes a process-backed handler. The child runs in its
// own process group; on timeout or cancellation the whole group gets
// SIGTERM, then SIGKILL after the grace window, so helpers spawned by
// the tool die with it.
func (e *Engine) runProcess(t *task) (raw []byte, truncated bool, exitCode *int, err error) {
	args, err := expandArgs(t.resolved.Process.Args, t.req)
	if err != nil {
		return nil, false, nil, err
	}
	if err := ScreenArguments(e.screens, args); err != nil {
		return nil, false, nil, err
	}

	out := newCappedBuffer(t.limits.MaxOutputSize)

	cmd := exec.CommandContext(t.ctx, t.resolved.Process.Binary, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Dir = t.limits.WorkDir
	cmd.Env = t.limits.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = killGrace
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	runErr := cmd.Run()

	raw, truncated = out.snapshot()
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		exitCode = &code
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// Nonzero exit is a tool outcome, not an engine error.
			return raw, truncated, exitCode, nil
		}
		return raw, truncated, exitCode, fmt.Errorf("engine: run %s: %w", t.resolved.Process.Binary, runErr)
	}
	return raw, truncated, exitCode, nil
}

// expandArgs substitutes invocation values into an argument template.
// An argument that is exactly "{{target}}" fans out to one element per
// target; an embedded occurrence takes the first target. An argument
// that is exactly an unset "{{arg:<name>}}" is dropped, which is how
// optional flags work; an embedded unset placeholder is an error.
func expandArgs(templates []string, req *contracts.InvocationRequest) ([]string, error) {
	out := make([]string, 0, len(templates)+len(req.Targets))
	for _, tpl := range templates {
		switch {
		case tpl == placeholderTarget:
			out = append(out, req.Targets...)
		case isArgPlaceholder(tpl):
			name := tpl[len(argPrefix) : len(tpl)-len(argSuffix)]
			if v, ok := req.Arguments[name]; ok && v != "" {
				out = append(out, v)
			}
		default:
			expanded, err := expandEmbedded(tpl, req)
			if err != nil {
				return nil, err
			}
			out = append(out, expanded)
		}
	}
	return out, nil
}

func isArgPlaceholder(s string) bool {
	return strings.HasPrefix(s, argPrefix) && strings.HasSuffix(s, argSuffix) &&
		!strings.Contains(s[len(argPrefix):len(s)-len(argSuffix)], "{")
}

func expandEmbedded(tpl string, req *contracts.InvocationRequest) (string, error) {
	s := tpl
	if strings.Contains(s, placeholderTarget) {
		if len(req.Targets) == 0 {
			return "", fmt.Errorf("engine: argument %q needs a target", tpl)
		}
		s = strings.ReplaceAll(s, placeholderTarget, req.Targets[0])
	}
	for {
		start := strings.Index(s, argPrefix)
		if start < 0 {
			return s, nil
		}
		end := strings.Index(s[start:], argSuffix)
		if end < 0 {
			return "", fmt.Errorf("engine: malformed placeholder in %q", tpl)
		}
		name := s[start+len(argPrefix) : start+end]
		v, ok := req.Arguments[name]
		if !ok {
			return "", fmt.Errorf("engine: argument %q is not set", name)
		}
		s = s[:start] + v + s[start+end+len(argSuffix):]
	}
}
