// Package replay runs scripted timing scenarios against the rate-control
// policies. A scenario is a JavaScript file that feeds inputs and advances a
// virtual clock; the engine records every firing with its virtual timestamp
// and produces a JSON report, so windowing behaviour can be studied and
// regression-checked without sleeping.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"github.com/commons-dev-open/reactive/errs"
)

// Scenario is a compiled scenario script.
type Scenario struct {
	Name string
	Path string
	Hash string

	program *goja.Program
}

// CompileScenario compiles scenario source under the given name.
func CompileScenario(name string, source []byte) (*Scenario, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, errs.New("replay/scenario", errs.CodeInvalid, errs.WithMessage("name required"))
	}
	prog, err := goja.Compile(trimmed, string(source), true)
	if err != nil {
		return nil, fmt.Errorf("compile scenario %q: %w", trimmed, err)
	}
	sum := sha256.Sum256(source)
	return &Scenario{
		Name:    trimmed,
		Hash:    hex.EncodeToString(sum[:]),
		program: prog,
	}, nil
}

// LoadScenario reads and compiles the scenario file at path. The scenario
// name is the file name without its extension.
func LoadScenario(path string) (*Scenario, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errs.New("replay/scenario", errs.CodeInvalid, errs.WithMessage("path required"))
	}
	source, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("read scenario %q: %w", trimmed, err)
	}
	base := filepath.Base(trimmed)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	scn, err := CompileScenario(name, source)
	if err != nil {
		return nil, err
	}
	scn.Path = trimmed
	return scn, nil
}
