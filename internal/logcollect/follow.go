package logcollect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Follow streams the slice of a session log belonging to id into w as it is
// written, returning once id's end marker appears or ctx is done.
func Follow(ctx context.Context, path, id string, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()

	start, end := markerPattern("START", id), markerPattern("END", id)
	r := bufio.NewReader(f)
	var (
		partial strings.Builder
		inSlice bool
	)
	for {
		chunk, err := r.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			line := strings.TrimSuffix(partial.String(), "\n")
			partial.Reset()
			switch {
			case !inSlice:
				inSlice = start.MatchString(line)
			case end.MatchString(line):
				return nil
			default:
				if _, err := io.WriteString(w, line+"\n"); err != nil {
					return err
				}
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading session log: %w", err)
		}
		if err := waitForWrite(ctx, watcher); err != nil {
			return err
		}
	}
}

func waitForWrite(ctx context.Context, watcher *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if ev.Has(fsnotify.Write) {
				return nil
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return fmt.Errorf("session log %s was removed", ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return fmt.Errorf("watching session log: %w", err)
		}
	}
}
