// Package tools carries the built-in security tool catalog: the external
// binaries the core knows how to drive without any extension, plus
// availability probing so missing tools surface at startup instead of at
// scan time.
package tools

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"time"
)

// DangerLevel grades how destructive a tool can be.
type DangerLevel string

const (
	DangerLow    DangerLevel = "low"
	DangerMedium DangerLevel = "medium"
	DangerHigh   DangerLevel = "high"
)

// Tool describes one catalog entry.
type Tool struct {
	Name        string
	Binary      string
	Category    string
	Description string
	Danger      DangerLevel
	// Command is the logical command name the tool backs.
	Command string
	// TargetScoped marks commands that act on external targets.
	TargetScoped bool
	// Args is the invocation template; {{target}} and {{arg:<name>}}
	// placeholders expand per request.
	Args []string
	// Parser names the normalizer parser for this tool's output.
	Parser string
}

// Catalog is the fixed set of built-in tools. Extensions add more via
// their manifests; the catalog never changes at runtime.
var Catalog = []Tool{
	{
		Name: "nmap", Binary: "nmap", Category: "network_scanning",
		Description: "network exploration and port scanning",
		Danger:      DangerLow, Command: "port-scan", TargetScoped: true,
		Args:   []string{"-sT", "-sV", "{{arg:ports}}", "{{target}}"},
		Parser: "nmap",
	},
	{
		Name: "nikto", Binary: "nikto", Category: "web_scanning",
		Description: "web server vulnerability scanner",
		Danger:      DangerMedium, Command: "web-scan", TargetScoped: true,
		Args:   []string{"-h", "{{target}}"},
		Parser: "nikto",
	},
	{
		Name: "gobuster", Binary: "gobuster", Category: "web_scanning",
		Description: "directory and virtual host discovery",
		Danger:      DangerLow, Command: "dir-scan", TargetScoped: true,
		Args:   []string{"dir", "-u", "{{target}}", "-w", "{{arg:wordlist}}"},
		Parser: "gobuster",
	},
	{
		Name: "subfinder", Binary: "subfinder", Category: "information_gathering",
		Description: "passive subdomain discovery",
		Danger:      DangerLow, Command: "subdomain-scan", TargetScoped: true,
		Args:   []string{"-silent", "-d", "{{target}}"},
		Parser: "lines",
	},
	{
		Name: "whois", Binary: "whois", Category: "information_gathering",
		Description: "domain registration lookup",
		Danger:      DangerLow, Command: "whois-lookup", TargetScoped: true,
		Args:   []string{"{{target}}"},
		Parser: "raw",
	},
	{
		Name: "dig", Binary: "dig", Category: "information_gathering",
		Description: "DNS record lookup",
		Danger:      DangerLow, Command: "dns-lookup", TargetScoped: true,
		Args:   []string{"{{target}}", "{{arg:record}}"},
		Parser: "raw",
	},
	{
		Name: "sqlmap", Binary: "sqlmap", Category: "web_exploitation",
		Description: "SQL injection testing",
		Danger:      DangerHigh, Command: "sql-injection-scan", TargetScoped: true,
		Args:   []string{"-u", "{{target}}", "--batch", "--random-agent"},
		Parser: "raw",
	},
}

// Availability is the probe result for one tool.
type Availability struct {
	Tool      string `json:"tool"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)version\s+v?(\d+\.\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)\bv(\d+\.\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`),
}

// Probe checks one tool: the binary must resolve on PATH and answer
// --version within the deadline. A tool that hangs on --version is
// reported available but unverified.
func Probe(ctx context.Context, t Tool) Availability {
	path, err := exec.LookPath(t.Binary)
	if err != nil {
		return Availability{Tool: t.Name, Available: false, Error: "binary not found in PATH"}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil && ctx.Err() != nil {
		return Availability{Tool: t.Name, Available: true, Path: path, Error: "version check timeout"}
	}
	return Availability{Tool: t.Name, Available: true, Path: path, Version: extractVersion(out.String())}
}

// ProbeAll probes the whole catalog.
func ProbeAll(ctx context.Context) []Availability {
	out := make([]Availability, 0, len(Catalog))
	for _, t := range Catalog {
		out = append(out, Probe(ctx, t))
	}
	return out
}

func extractVersion(s string) string {
	for _, p := range versionPatterns {
		if m := p.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return "unknown"
}
