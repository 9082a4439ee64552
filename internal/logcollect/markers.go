package logcollect

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

func StartMarker(id string, t time.Time) string {
	return fmt.Sprintf("=== VERDICT START [%s] %s ===", id, t.UTC().Format(time.RFC3339Nano))
}

func EndMarker(id string, t time.Time) string {
	return fmt.Sprintf("=== VERDICT END [%s] %s ===", id, t.UTC().Format(time.RFC3339Nano))
}

func markerPattern(kind, id string) *regexp.Regexp {
	return regexp.MustCompile(`^=== VERDICT ` + kind + ` \[` + regexp.QuoteMeta(id) + `\] \S+ ===$`)
}

// ExtractFile returns the lines strictly between the first start marker for
// id and the next end marker for id. Without an end marker it returns
// everything after the start marker. Without a start marker it returns "".
func ExtractFile(path, id string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()

	start, end := markerPattern("START", id), markerPattern("END", id)
	var (
		b       strings.Builder
		inSlice bool
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !inSlice {
			inSlice = start.MatchString(line)
			continue
		}
		if end.MatchString(line) {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading session log: %w", err)
	}
	return b.String(), nil
}

var sessionName = regexp.MustCompile(`^session-(\d{8}T\d{6}Z)\.log$`)

// CleanupStale removes session files in dir whose embedded timestamp is more
// than retention before now. A missing dir is not an error.
func CleanupStale(dir string, retention time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session dir: %w", err)
	}
	var (
		removed []string
		errs    []error
	)
	for _, e := range entries {
		m := sessionName.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		ts, err := time.Parse(sessionStamp, m[1])
		if err != nil || now.Sub(ts) <= retention {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

// LatestSession returns the most recent session file in dir.
func LatestSession(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading session dir: %w", err)
	}
	latest := ""
	for _, e := range entries {
		if !e.IsDir() && sessionName.MatchString(e.Name()) && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no session logs in %s", dir)
	}
	return filepath.Join(dir, latest), nil
}
