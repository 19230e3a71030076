// Command bootstrap_scenarios validates replay scenarios and emits a registry manifest.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/commons-dev-open/reactive/internal/replay"
)

type registryEntry struct {
	Hash string `json:"hash"`
	Path string `json:"path"`
}

func main() {
	root := flag.String("root", "scenarios", "Path to the scenarios directory")
	seed := flag.Bool("seed", false, "Write starter scenarios when the directory has none")
	flag.Parse()

	cleanRoot, err := ensureDir(*root)
	if err != nil {
		fatal(err)
	}

	paths, err := discoverScenarios(cleanRoot)
	if err != nil {
		fatal(err)
	}
	if len(paths) == 0 && *seed {
		paths, err = seedScenarios(cleanRoot)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("seeded %d starter scenarios under %s\n", len(paths), cleanRoot)
	}
	if len(paths) == 0 {
		fatal(fmt.Errorf("no JavaScript scenarios found under %s (pass -seed for starters)", cleanRoot))
	}

	reg := make(map[string]registryEntry, len(paths))
	for _, path := range paths {
		scn, err := replay.LoadScenario(path)
		if err != nil {
			fatal(err)
		}
		if prev, ok := reg[scn.Name]; ok {
			fatal(fmt.Errorf("scenario name %q used by both %s and %s", scn.Name, prev.Path, path))
		}
		rel, err := filepath.Rel(cleanRoot, path)
		if err != nil {
			fatal(err)
		}
		reg[scn.Name] = registryEntry{
			Hash: "sha256:" + scn.Hash,
			Path: filepath.ToSlash(rel),
		}
	}

	if err := writeRegistry(cleanRoot, reg); err != nil {
		fatal(err)
	}
	fmt.Printf("registry.json generated for %d scenarios under %s\n", len(reg), cleanRoot)
}

func discoverScenarios(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk %s: %w", path, walkErr)
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".js") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover scenarios under %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

var starterScenarios = map[string]string{
	"debounce_burst.js": `// Collapse a burst of edits into a single trailing save.
input({ draft: "a" });
advance(200);
input({ draft: "ab" });
advance(200);
input({ draft: "abc" });
advance(500);
`,
	"throttle_stream.js": `// Leading edge fires immediately; the trailing edge carries the last value.
setWindow(250);
for (let i = 0; i < 10; i++) {
  input(i);
  advance(50);
}
advance(250);
`,
}

func seedScenarios(root string) ([]string, error) {
	paths := make([]string, 0, len(starterScenarios))
	for name, source := range starterScenarios {
		target := filepath.Join(root, name)
		if err := os.WriteFile(target, []byte(source), 0o600); err != nil {
			return nil, fmt.Errorf("write starter %s: %w", target, err)
		}
		paths = append(paths, target)
	}
	sort.Strings(paths)
	return paths, nil
}

func writeRegistry(root string, reg map[string]registryEntry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	tmp := filepath.Join(root, "registry.json.tmp")
	target := filepath.Join(root, "registry.json")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp registry %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename registry %s: %w", target, err)
	}
	return nil
}

func ensureDir(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("directory required")
	}
	clean := filepath.Clean(trimmed)
	if err := os.MkdirAll(clean, 0o750); err != nil {
		return "", fmt.Errorf("ensure directory %s: %w", clean, err)
	}
	return clean, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)
	os.Exit(1)
}
