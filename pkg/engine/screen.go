package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// ArgumentScreen is one rejection rule applied to every expanded
// argument before a process starts. Arguments never pass through a
// shell, so the screens target values a caller could smuggle in through
// request arguments that would turn a scan into something destructive.
type ArgumentScreen struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultScreens returns the standard screening set.
func DefaultScreens() []ArgumentScreen {
	return []ArgumentScreen{
		{Name: "shell-metacharacters", Pattern: regexp.MustCompile("[;&|`$<>]")},
		{Name: "newline-injection", Pattern: regexp.MustCompile(`[\r\n]`)},
		{Name: "recursive-delete", Pattern: regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f`)},
		{Name: "device-write", Pattern: regexp.MustCompile(`(?i)/dev/(sd[a-z]|nvme|mem|kmem)`)},
		{Name: "fork-bomb", Pattern: regexp.MustCompile(`:\(\)\s*\{`)},
		{Name: "remote-shell", Pattern: regexp.MustCompile(`(?i)\b(nc|ncat|socat)\b.*\b-e\b`)},
	}
}

// ScreenArguments rejects an invocation whose expanded arguments match
// any screen. The whole invocation fails; there is no per-argument
// stripping.
func ScreenArguments(screens []ArgumentScreen, args []string) error {
	for _, arg := range args {
		for _, s := range screens {
			if s.Pattern.MatchString(arg) {
				return fmt.Errorf("engine: argument %q rejected by screen %s", truncateArg(arg), s.Name)
			}
		}
	}
	return nil
}

func truncateArg(s string) string {
	if len(s) > 64 {
		return strings.ToValidUTF8(s[:64], "") + "..."
	}
	return s
}
