package harness

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Outcomes []Outcome      `json:"scenarios"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// Outcome is the result of one scenario file.
type Outcome struct {
	Path   string   `json:"path"`
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	// Result is nil when the scenario could not be loaded or run.
	Result *Result `json:"-"`
}

// SuiteFailure is a failed scenario.
type SuiteFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// FindScenarios returns the .yaml and .yml files under dir whose base name
// (without extension) matches the glob filter. An empty filter matches all.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			ok, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// RunSuite loads and runs every scenario in paths. A scenario that fails to
// load or run counts as failed; RunSuite itself only fails when ctx is done.
func RunSuite(ctx context.Context, paths []string, opts ...Option) (*SuiteResult, error) {
	res := &SuiteResult{Outcomes: make([]Outcome, 0, len(paths))}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := runFile(ctx, path, opts)
		res.Total++
		res.Outcomes = append(res.Outcomes, out)
		if out.Pass {
			res.Passed++
			continue
		}
		res.Failed++
		res.Failures = append(res.Failures, SuiteFailure{
			Path:  path,
			Error: strings.Join(out.Errors, "; "),
		})
	}
	return res, nil
}

func runFile(ctx context.Context, path string, opts []Option) Outcome {
	out := Outcome{Path: path, Name: filepath.Base(path)}
	s, err := LoadScenario(path)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return out
	}
	out.Name = s.Name

	result, err := Run(ctx, s, opts...)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return out
	}
	out.Result = result
	out.Pass = result.Pass
	out.Errors = result.Errors
	return out
}
