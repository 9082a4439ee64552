// Package logcollect captures a continuous external log stream into a session
// file and slices it per test using boundary markers.
//
// One goroutine owns the session file. Stream lines and marker lines travel
// over the same channel, so the file reflects arrival order exactly.
package logcollect

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalnine/verdict/internal/fallback"
)

const stderrTag = "[stderr] "

// Source produces log output into a Sink until stopped. The returned channel
// receives the source's exit error exactly once.
type Source interface {
	Name() string
	Start(ctx context.Context, sink Sink) (<-chan error, error)
	// Stop asks the source to terminate and forces it after grace.
	Stop(grace time.Duration)
}

// Sink hands out line-buffered writers. Every complete line written to a
// stream is appended to the session log with the stream's prefix.
type Sink interface {
	Stream(prefix string) *LineWriter
}

type Options struct {
	Dir        string
	StartGrace time.Duration
	StopGrace  time.Duration
	Now        func() time.Time
}

// op is one queued line, or a flush barrier that receives the first write
// error seen so far.
type op struct {
	line  string
	flush chan error
}

type sessionFile interface {
	io.Writer
	Sync() error
	Close() error
}

// Collector writes a source's output to a session log file.
type Collector struct {
	path   string
	log    zerolog.Logger
	source Source
	grace  time.Duration

	mu      sync.RWMutex
	closed  bool
	ops     chan op
	streams []*LineWriter

	writerDone chan struct{}
	writeErr   error
	srcDone    chan struct{}
	srcErr     error
	stopOnce   sync.Once
	stopErr    error
}

// SessionFileName is the file a session started at t is written to.
func SessionFileName(t time.Time) string {
	return "session-" + t.UTC().Format(sessionStamp) + ".log"
}

const sessionStamp = "20060102T150405Z"

// Start opens a new session file and starts src. A source that fails to start
// or exits within the start grace yields a degraded result; the caller is
// expected to carry on without session logs.
func Start(ctx context.Context, opts Options, src Source, log zerolog.Logger) fallback.Result[*Collector] {
	if src == nil {
		return fallback.Degraded[*Collector]("log source disabled")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fallback.Degraded[*Collector](fmt.Sprintf("creating session dir: %v", err))
	}
	path := filepath.Join(opts.Dir, SessionFileName(now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fallback.Degraded[*Collector](fmt.Sprintf("opening session log: %v", err))
	}

	c := &Collector{
		path:       path,
		log:        log.With().Str("component", "logcollect").Str("source", src.Name()).Logger(),
		source:     src,
		grace:      opts.StopGrace,
		ops:        make(chan op, 1024),
		writerDone: make(chan struct{}),
		srcDone:    make(chan struct{}),
	}
	go c.writeLoop(f)

	errc, err := src.Start(ctx, c)
	if err != nil {
		c.closeWriter()
		return fallback.Degraded[*Collector](fmt.Sprintf("starting log source %s: %v", src.Name(), err))
	}
	go func() {
		c.srcErr = <-errc
		close(c.srcDone)
	}()

	select {
	case <-c.srcDone:
		c.closeWriter()
		reason := fmt.Sprintf("log source %s exited within %s", src.Name(), opts.StartGrace)
		if c.srcErr != nil {
			reason += ": " + c.srcErr.Error()
		}
		return fallback.Degraded[*Collector](reason)
	case <-time.After(opts.StartGrace):
	case <-ctx.Done():
		c.Stop()
		return fallback.Degraded[*Collector](ctx.Err().Error())
	}
	c.log.Info().Str("path", path).Msg("log collector started")
	return fallback.Available(c)
}

// Path is the session log file.
func (c *Collector) Path() string {
	return c.path
}

func (c *Collector) writeLoop(f sessionFile) {
	defer close(c.writerDone)
	w := bufio.NewWriter(f)
	for o := range c.ops {
		if o.flush != nil {
			if err := w.Flush(); err != nil && c.writeErr == nil {
				c.writeErr = err
			}
			if err := f.Sync(); err != nil && c.writeErr == nil {
				c.writeErr = err
			}
			o.flush <- c.writeErr
			continue
		}
		if _, err := w.WriteString(o.line); err != nil && c.writeErr == nil {
			c.writeErr = err
		}
	}
	if err := w.Flush(); err != nil && c.writeErr == nil {
		c.writeErr = err
	}
	if err := f.Close(); err != nil && c.writeErr == nil {
		c.writeErr = err
	}
}

// send queues o. It reports false once the writer has been closed.
func (c *Collector) send(o op) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.ops <- o
	return true
}

func (c *Collector) closeWriter() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.ops)
	}
	c.mu.Unlock()
	<-c.writerDone
}

// Stream implements Sink.
func (c *Collector) Stream(prefix string) *LineWriter {
	lw := &LineWriter{prefix: prefix, emit: func(line string) { c.send(op{line: line}) }}
	c.mu.Lock()
	c.streams = append(c.streams, lw)
	c.mu.Unlock()
	return lw
}

// WriteStart appends the start marker for id.
func (c *Collector) WriteStart(id string, t time.Time) {
	c.send(op{line: StartMarker(id, t) + "\n"})
}

// WriteEnd appends the end marker for id.
func (c *Collector) WriteEnd(id string, t time.Time) {
	c.send(op{line: EndMarker(id, t) + "\n"})
}

// Flush returns once every write queued before it is on disk, with the first
// write error the session file has hit.
func (c *Collector) Flush() error {
	done := make(chan error, 1)
	if !c.send(op{flush: done}) {
		<-c.writerDone
		return c.writeErr
	}
	return <-done
}

// Extract returns the log lines recorded between id's markers.
func (c *Collector) Extract(id string) (string, error) {
	if err := c.Flush(); err != nil {
		return "", fmt.Errorf("flushing session log: %w", err)
	}
	return ExtractFile(c.path, id)
}

// Stop terminates the source, writes out any partial lines and closes the
// session file. It is safe to call more than once.
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() {
		c.source.Stop(c.grace)
		select {
		case <-c.srcDone:
			if c.srcErr != nil && !errors.Is(c.srcErr, context.Canceled) {
				c.log.Debug().Err(c.srcErr).Msg("log source exited")
			}
		case <-time.After(c.grace + time.Second):
			c.log.Warn().Msg("log source did not exit after kill; abandoning it")
		}

		c.mu.RLock()
		streams := append([]*LineWriter(nil), c.streams...)
		c.mu.RUnlock()
		for _, s := range streams {
			s.flushPartial()
		}
		c.closeWriter()
		c.stopErr = c.writeErr
		c.log.Info().Str("path", c.path).Msg("log collector stopped")
	})
	return c.stopErr
}

// LineWriter buffers partial lines across writes and emits complete lines
// with a prefix.
type LineWriter struct {
	prefix string
	emit   func(string)

	mu  sync.Mutex
	buf []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.prefix + string(w.buf[:i+1]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *LineWriter) flushPartial() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.prefix + string(w.buf) + "\n")
		w.buf = nil
	}
}
