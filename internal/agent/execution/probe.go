package execution

import (
	"strings"

	"BookmarkScout/internal/domain"
)

const (
	probePath = ".scout/probe.sh"
	repoDir   = "/workspace/repo"
)

// probeScript lists top-level files and existing entry-point candidates of a checkout.
const probeScript = `#!/bin/sh
cd "$1" || exit 3
for f in * .[!.]*; do
  [ -e "$f" ] && echo "file:$f"
done
for f in main.py app.py cli.py __main__.py run.py index.js main.js cli.js bin/cli.js src/index.js main.go src/main.rs; do
  [ -f "$f" ] && echo "entry:$f"
done
for f in cmd/*/main.go; do
  [ -f "$f" ] && echo "entry:$f"
done
exit 0
`

// probeResult is the parsed probe output.
type probeResult struct {
	files   map[string]bool
	entries map[string]bool
	ordered []string
}

func parseProbe(output string) probeResult {
	res := probeResult{files: map[string]bool{}, entries: map[string]bool{}}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "file:"):
			res.files[strings.TrimPrefix(line, "file:")] = true
		case strings.HasPrefix(line, "entry:"):
			entry := strings.TrimPrefix(line, "entry:")
			if !res.entries[entry] {
				res.entries[entry] = true
				res.ordered = append(res.ordered, entry)
			}
		}
	}
	return res
}

// detectType checks marker files in priority order.
func detectType(probe probeResult) domain.ProjectType {
	switch {
	case probe.files["requirements.txt"] || probe.files["pyproject.toml"] || probe.files["setup.py"]:
		return domain.ProjectPython
	case probe.files["package.json"]:
		return domain.ProjectNode
	case probe.files["go.mod"]:
		return domain.ProjectGo
	case probe.files["Cargo.toml"]:
		return domain.ProjectRust
	default:
		return domain.ProjectUnknown
	}
}

func installCommand(projectType domain.ProjectType, probe probeResult) string {
	switch projectType {
	case domain.ProjectPython:
		if probe.files["requirements.txt"] {
			return "pip install -r requirements.txt"
		}
		return "pip install ."
	case domain.ProjectNode:
		return "npm install --ignore-scripts"
	case domain.ProjectGo:
		return "go mod download"
	case domain.ProjectRust:
		return "cargo fetch"
	default:
		return ""
	}
}

var entryPoints = map[domain.ProjectType][]string{
	domain.ProjectPython: {"main.py", "app.py", "cli.py", "__main__.py", "run.py"},
	domain.ProjectNode:   {"index.js", "main.js", "cli.js", "bin/cli.js", "src/index.js"},
	domain.ProjectGo:     {"main.go"},
	domain.ProjectRust:   {"src/main.rs"},
}

// entryPoint picks the first present entry point and the command that runs it with --help.
func entryPoint(projectType domain.ProjectType, probe probeResult) (string, string) {
	for _, candidate := range entryPoints[projectType] {
		if probe.entries[candidate] {
			return candidate, runCommand(projectType, candidate)
		}
	}
	if projectType == domain.ProjectGo {
		for _, entry := range probe.ordered {
			if strings.HasPrefix(entry, "cmd/") && strings.HasSuffix(entry, "/main.go") {
				return entry, runCommand(projectType, entry)
			}
		}
	}
	return "", ""
}

func runCommand(projectType domain.ProjectType, entry string) string {
	switch projectType {
	case domain.ProjectPython:
		return "python " + entry + " --help"
	case domain.ProjectNode:
		return "node " + entry + " --help"
	case domain.ProjectGo:
		if entry == "main.go" {
			return "go run . --help"
		}
		return "go run ./" + strings.TrimSuffix(entry, "/main.go") + " --help"
	case domain.ProjectRust:
		return "cargo run --quiet -- --help"
	default:
		return ""
	}
}
