package result

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

const (
	SummaryFile = "summary.json"
	testsDir    = "tests"
	logsDir     = "logs"
	latestLink  = "latest"
)

// CreateRunDir creates <baseDir>/runs/<stamp> and points <baseDir>/latest at it.
func CreateRunDir(baseDir string, now time.Time) (string, error) {
	stamp := now.UTC().Format("2006-01-02T15-04-05.000")
	runDir, err := filepath.Abs(filepath.Join(baseDir, "runs", stamp))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	for _, sub := range []string{testsDir, logsDir} {
		if err := os.MkdirAll(filepath.Join(runDir, sub), 0o755); err != nil {
			return "", fmt.Errorf("creating run dir: %w", err)
		}
	}
	latest := filepath.Join(baseDir, latestLink)
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// ResolveRunDir maps "" or "latest" to the latest run under baseDir. Anything
// else is taken as a run directory path, or a run stamp under baseDir/runs.
func ResolveRunDir(baseDir, ref string) (string, error) {
	var dir string
	switch {
	case ref == "" || ref == latestLink:
		target, err := filepath.EvalSymlinks(filepath.Join(baseDir, latestLink))
		if err != nil {
			return "", fmt.Errorf("no previous run in %s: %w", baseDir, err)
		}
		dir = target
	default:
		dir = ref
		if _, err := os.Stat(filepath.Join(dir, SummaryFile)); err != nil {
			dir = filepath.Join(baseDir, "runs", ref)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, SummaryFile)); err != nil {
		return "", fmt.Errorf("%s is not a run directory: %w", ref, err)
	}
	return dir, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SafeName turns a test id into a file name: the id with unsafe characters
// replaced, followed by a short hash of the original id so that distinct ids
// ("api/login", "api_login", "TC-a", "TC-A") never share a file.
func SafeName(id string) string {
	sum := sha256.Sum256([]byte(id))
	return unsafeChars.ReplaceAllString(id, "_") + "-" + hex.EncodeToString(sum[:6])
}

func WriteSummary(runDir string, s *Summary) error {
	return writeJSON(filepath.Join(runDir, SummaryFile), s)
}

func ReadSummary(runDir string) (*Summary, error) {
	var s Summary
	if err := readJSON(filepath.Join(runDir, SummaryFile), &s); err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}
	return &s, nil
}

func WriteReport(runDir string, r *Report) error {
	return writeJSON(filepath.Join(runDir, testsDir, SafeName(r.Result.Case.ID)+".json"), r)
}

func ReadReport(runDir, id string) (*Report, error) {
	var r Report
	if err := readJSON(filepath.Join(runDir, testsDir, SafeName(id)+".json"), &r); err != nil {
		return nil, fmt.Errorf("reading report for %s: %w", id, err)
	}
	return &r, nil
}

// ReadReports loads every per-test record of a run in execution order.
func ReadReports(runDir string) (*Summary, []*Report, error) {
	s, err := ReadSummary(runDir)
	if err != nil {
		return nil, nil, err
	}
	reports := make([]*Report, 0, len(s.Order))
	for _, id := range s.Order {
		r, err := ReadReport(runDir, id)
		if err != nil {
			return nil, nil, err
		}
		reports = append(reports, r)
	}
	return s, reports, nil
}

// WriteLog stores a test's log slice and returns its path.
func WriteLog(runDir, id, logs string) (string, error) {
	path := filepath.Join(runDir, logsDir, SafeName(id)+".log")
	if err := os.WriteFile(path, []byte(logs), 0o644); err != nil {
		return "", fmt.Errorf("writing log for %s: %w", id, err)
	}
	return path, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
