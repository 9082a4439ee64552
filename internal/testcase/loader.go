package testcase

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadError describes a definition file that was rejected. Rejected files are
// skipped; they never abort a run.
type LoadError struct {
	File  string
	Field string
	Msg   string
}

func (e *LoadError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Msg)
}

type fileDef struct {
	ID           string    `yaml:"id"`
	Name         string    `yaml:"name"`
	Suite        string    `yaml:"suite"`
	Priority     *int      `yaml:"priority"`
	Timeout      *int      `yaml:"timeout"`
	Dependencies []string  `yaml:"dependencies"`
	Steps        []stepDef `yaml:"steps"`
	Criteria     string    `yaml:"criteria"`
}

type stepDef struct {
	Name           string   `yaml:"name"`
	Command        string   `yaml:"command"`
	Timeout        *int     `yaml:"timeout"`
	ExpectPatterns []string `yaml:"expectPatterns"`
	RejectPatterns []string `yaml:"rejectPatterns"`
}

// LoadDir loads every *.yaml / *.yml file under dir in lexical path order.
// The returned error is only set when dir itself cannot be read; per-file
// problems are reported as LoadErrors. When two files declare the same id the
// first one wins and the later file is rejected.
func LoadDir(dir string, defaultTimeout time.Duration) ([]*TestCase, []*LoadError, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading test definitions in %s: %w", dir, err)
	}

	var (
		cases   []*TestCase
		errs    []*LoadError
		seenIDs = make(map[string]string)
	)
	for _, path := range files {
		tc, lerr := LoadFile(path, defaultTimeout)
		if lerr != nil {
			errs = append(errs, lerr)
			continue
		}
		if first, dup := seenIDs[tc.ID]; dup {
			errs = append(errs, &LoadError{
				File:  path,
				Field: "id",
				Msg:   fmt.Sprintf("duplicate id %q, already defined in %s", tc.ID, first),
			})
			continue
		}
		seenIDs[tc.ID] = path
		cases = append(cases, tc)
	}
	return cases, errs, nil
}

// LoadFile parses and validates a single definition file.
func LoadFile(path string, defaultTimeout time.Duration) (*TestCase, *LoadError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Msg: err.Error()}
	}
	var def fileDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &LoadError{File: path, Msg: fmt.Sprintf("parsing yaml: %v", err)}
	}
	return def.toTestCase(path, defaultTimeout)
}

func (def *fileDef) toTestCase(path string, defaultTimeout time.Duration) (*TestCase, *LoadError) {
	fail := func(field, format string, args ...any) (*TestCase, *LoadError) {
		return nil, &LoadError{File: path, Field: field, Msg: fmt.Sprintf(format, args...)}
	}

	id := strings.TrimSpace(def.ID)
	if id == "" {
		return fail("id", "is required")
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return fail("id", "must not contain whitespace")
	}
	if strings.TrimSpace(def.Name) == "" {
		return fail("name", "is required")
	}
	if strings.TrimSpace(def.Suite) == "" {
		return fail("suite", "is required")
	}

	tc := &TestCase{
		ID:       id,
		Name:     def.Name,
		Suite:    def.Suite,
		Priority: DefaultPriority,
		Timeout:  defaultTimeout,
		Criteria: strings.TrimSpace(def.Criteria),
		Source:   path,
	}
	if def.Priority != nil {
		tc.Priority = *def.Priority
	}
	if def.Timeout != nil {
		if *def.Timeout <= 0 {
			return fail("timeout", "must be a positive number of milliseconds, got %d", *def.Timeout)
		}
		tc.Timeout = time.Duration(*def.Timeout) * time.Millisecond
	}
	for i, dep := range def.Dependencies {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			return fail(fmt.Sprintf("dependencies[%d]", i), "must not be empty")
		}
		tc.Dependencies = append(tc.Dependencies, dep)
	}

	if len(def.Steps) == 0 {
		return fail("steps", "at least one step is required")
	}
	for i, sd := range def.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(sd.Name) == "" {
			return fail(field+".name", "is required")
		}
		if strings.TrimSpace(sd.Command) == "" {
			return fail(field+".command", "is required")
		}
		step := Step{
			Name:    sd.Name,
			Command: sd.Command,
			Expect:  sd.ExpectPatterns,
			Reject:  sd.RejectPatterns,
		}
		if sd.Timeout != nil {
			if *sd.Timeout <= 0 {
				return fail(field+".timeout", "must be a positive number of milliseconds, got %d", *sd.Timeout)
			}
			step.Timeout = time.Duration(*sd.Timeout) * time.Millisecond
		}
		for j, p := range sd.ExpectPatterns {
			if _, err := CompilePattern(p); err != nil {
				return fail(fmt.Sprintf("%s.expectPatterns[%d]", field, j), "invalid regular expression: %v", err)
			}
		}
		for j, p := range sd.RejectPatterns {
			if _, err := CompilePattern(p); err != nil {
				return fail(fmt.Sprintf("%s.rejectPatterns[%d]", field, j), "invalid regular expression: %v", err)
			}
		}
		tc.Steps = append(tc.Steps, step)
	}
	return tc, nil
}
