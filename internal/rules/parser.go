package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Rule files are line-oriented text with labeled sections:
//
//	# kubectl
//
//	## auto_execute
//	- kubectl get *
//
//	## requires_approval
//	- kubectl apply *
//
//	## destructive
//	- kubectl delete *
//
//	## timeout
//	default: 45s
//
//	## streaming
//	- kubectl logs -f *
//
// The tool name comes from the file name (<tool>.rules). Unknown section
// headers and unparseable lines fail the load; a bad file never yields a
// partial rule set.

const fileExt = ".rules"

// LoadDir parses every *.rules file in dir into a Snapshot. A missing
// directory yields an empty snapshot; any malformed file fails the whole
// load so the caller keeps serving its previous snapshot.
func LoadDir(dir string) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var tools []*ToolRules
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		tool := strings.TrimSuffix(name, fileExt)
		tr, err := ParseToolRules(tool, string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		tools = append(tools, tr)
	}
	return NewSnapshot(tools...), nil
}

// ParseToolRules parses a single rule file body for the named tool.
func ParseToolRules(tool, body string) (*ToolRules, error) {
	tr := &ToolRules{Tool: tool}

	section := ""
	for i, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		lineNo := i + 1

		switch {
		case line == "" || strings.HasPrefix(line, "# "), line == "#":
			continue

		case strings.HasPrefix(line, "## "):
			section = strings.ToLower(strings.TrimSpace(line[3:]))
			switch section {
			case "auto_execute", "requires_approval", "destructive", "timeout", "streaming":
			default:
				return nil, fmt.Errorf("line %d: unknown section %q", lineNo, section)
			}

		case strings.HasPrefix(line, "- "):
			pattern := strings.TrimSpace(line[2:])
			if pattern == "" {
				return nil, fmt.Errorf("line %d: empty pattern", lineNo)
			}
			switch section {
			case "auto_execute":
				tr.Auto = append(tr.Auto, pattern)
			case "requires_approval":
				tr.Approval = append(tr.Approval, pattern)
			case "destructive":
				tr.Destructive = append(tr.Destructive, pattern)
			case "streaming":
				tr.Streaming = append(tr.Streaming, pattern)
			case "timeout":
				return nil, fmt.Errorf("line %d: timeout section takes key: value lines", lineNo)
			default:
				return nil, fmt.Errorf("line %d: pattern outside a section", lineNo)
			}

		case section == "timeout" && strings.Contains(line, ":"):
			key, val, _ := strings.Cut(line, ":")
			if strings.TrimSpace(key) != "default" {
				return nil, fmt.Errorf("line %d: unknown timeout key %q", lineNo, strings.TrimSpace(key))
			}
			d, err := time.ParseDuration(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("line %d: bad timeout: %w", lineNo, err)
			}
			tr.Timeout = d

		default:
			return nil, fmt.Errorf("line %d: unparseable line %q", lineNo, line)
		}
	}

	return tr, nil
}
