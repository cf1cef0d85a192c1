package normalize

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
)

// parseNmap reads greppable nmap text output. Each "<port>/tcp open
// <service>" line becomes one open-port finding.
func parseNmap(raw []byte, target string) ([]contracts.Finding, error) {
	var findings []contracts.Finding
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "/tcp") && !strings.Contains(line, "/udp") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "open" {
			continue
		}
		port, proto, ok := strings.Cut(fields[0], "/")
		if !ok {
			continue
		}
		service := "unknown"
		if len(fields) > 2 {
			service = fields[2]
		}
		findings = append(findings, contracts.Finding{
			Category:    "open_port",
			Severity:    contracts.SeverityInfo,
			Target:      target,
			Description: fmt.Sprintf("port %s/%s open (%s)", port, proto, service),
			Evidence:    strings.TrimSpace(line),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// nmapRun mirrors the subset of nmap -oX output the normalizer uses.
type nmapRun struct {
	Hosts []struct {
		Addresses []struct {
			Addr string `xml:"addr,attr"`
		} `xml:"address"`
		Ports struct {
			Ports []struct {
				Protocol string `xml:"protocol,attr"`
				PortID   string `xml:"portid,attr"`
				State    struct {
					State string `xml:"state,attr"`
				} `xml:"state"`
				Service struct {
					Name    string `xml:"name,attr"`
					Product string `xml:"product,attr"`
					Version string `xml:"version,attr"`
				} `xml:"service"`
			} `xml:"port"`
		} `xml:"ports"`
	} `xml:"host"`
}

func parseNmapXML(raw []byte, target string) ([]contracts.Finding, error) {
	var run nmapRun
	if err := xml.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("nmap xml: %w", err)
	}
	var findings []contracts.Finding
	for _, host := range run.Hosts {
		addr := target
		if len(host.Addresses) > 0 {
			addr = host.Addresses[0].Addr
		}
		for _, p := range host.Ports.Ports {
			if p.State.State != "open" {
				continue
			}
			desc := fmt.Sprintf("port %s/%s open (%s)", p.PortID, p.Protocol, orUnknown(p.Service.Name))
			evidence := strings.TrimSpace(p.Service.Product + " " + p.Service.Version)
			findings = append(findings, contracts.Finding{
				Category:    "open_port",
				Severity:    contracts.SeverityInfo,
				Target:      addr,
				Description: desc,
				Evidence:    evidence,
			})
		}
	}
	return findings, nil
}

// parseNikto keys on nikto's "+ " item lines. Items referencing an
// OSVDB or CVE identifier rank medium, plain informational items rank
// low.
func parseNikto(raw []byte, target string) ([]contracts.Finding, error) {
	var findings []contracts.Finding
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "+ ") {
			continue
		}
		item := strings.TrimPrefix(line, "+ ")
		if strings.HasPrefix(item, "Target ") || strings.HasPrefix(item, "Start Time") || strings.HasPrefix(item, "End Time") {
			continue
		}
		sev := contracts.SeverityLow
		if strings.Contains(item, "OSVDB") || strings.Contains(item, "CVE-") {
			sev = contracts.SeverityMedium
		}
		findings = append(findings, contracts.Finding{
			Category:    "web_vulnerability",
			Severity:    sev,
			Target:      target,
			Description: item,
			Evidence:    line,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// parseGobuster reads "path (Status: code)" discovery lines.
func parseGobuster(raw []byte, target string) ([]contracts.Finding, error) {
	var findings []contracts.Finding
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "/") {
			continue
		}
		path, rest, ok := strings.Cut(line, " ")
		if !ok || !strings.Contains(rest, "Status:") {
			continue
		}
		findings = append(findings, contracts.Finding{
			Category:    "discovered_path",
			Severity:    contracts.SeverityInfo,
			Target:      target,
			Description: "path discovered: " + path,
			Evidence:    line,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// parseLines treats every non-empty line as one discovery, the shape
// subfinder and similar enumeration tools emit.
func parseLines(raw []byte, target string) ([]contracts.Finding, error) {
	var findings []contracts.Finding
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		findings = append(findings, contracts.Finding{
			Category:    "enumeration",
			Severity:    contracts.SeverityInfo,
			Target:      target,
			Description: line,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// parseJSONFindings accepts output already shaped as a findings list,
// either bare or wrapped in a {"findings": [...]} envelope. In-process
// handlers use this to emit structured results directly.
func parseJSONFindings(raw []byte, target string) ([]contracts.Finding, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var findings []contracts.Finding
	if err := json.Unmarshal(trimmed, &findings); err != nil {
		var wrapped struct {
			Findings []contracts.Finding `json:"findings"`
		}
		if err2 := json.Unmarshal(trimmed, &wrapped); err2 != nil {
			return nil, fmt.Errorf("json findings: %w", err)
		}
		findings = wrapped.Findings
	}
	for i := range findings {
		if findings[i].Target == "" {
			findings[i].Target = target
		}
	}
	return findings, nil
}

// parseRaw extracts nothing. Tools without structure keep their raw
// output and an empty findings list.
func parseRaw([]byte, string) ([]contracts.Finding, error) {
	return nil, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
