package llm

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Server is a text-generation service launched by verdict for the duration
// of a run.
type Server struct {
	cmd     *exec.Cmd
	logFile *os.File
	exited  chan struct{}
	LogPath string
}

type ServeOpts struct {
	Command string
	LogDir  string
	Timeout time.Duration
	Env     []string
}

// Serve starts opts.Command with its output going to a log file in
// opts.LogDir and waits until c reports healthy. OLLAMA_HOST is set to the
// client's address so the server listens where the client looks.
func Serve(ctx context.Context, c *Client, opts ServeOpts) (*Server, error) {
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating server log dir: %w", err)
	}
	logPath := filepath.Join(opts.LogDir, fmt.Sprintf("serve-%s.log", time.Now().UTC().Format("20060102T150405Z")))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	cmd := exec.Command("sh", "-c", opts.Command)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), opts.Env...)
	if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" {
		cmd.Env = append(cmd.Env, "OLLAMA_HOST="+u.Host)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("starting %q: %w", opts.Command, err)
	}
	s := &Server{cmd: cmd, logFile: logFile, exited: make(chan struct{}), LogPath: logPath}
	go func() {
		cmd.Wait()
		close(s.exited)
	}()

	if err := s.waitReady(ctx, c, opts.Timeout); err != nil {
		s.Stop()
		return nil, fmt.Errorf("%q did not become ready (see %s): %w", opts.Command, logPath, err)
	}
	return s, nil
}

func (s *Server) waitReady(ctx context.Context, c *Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := c.Health(ctx, time.Second)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("not healthy after %s: %w", timeout, err)
		}
		select {
		case <-s.exited:
			return fmt.Errorf("server exited: %s", s.cmd.ProcessState)
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Stop terminates the server process group.
func (s *Server) Stop() error {
	if s.cmd != nil && s.cmd.Process != nil {
		pgid := -s.cmd.Process.Pid
		syscall.Kill(pgid, syscall.SIGTERM)
		select {
		case <-s.exited:
		case <-time.After(5 * time.Second):
			syscall.Kill(pgid, syscall.SIGKILL)
			<-s.exited
		}
	}
	if s.logFile != nil {
		return s.logFile.Close()
	}
	return nil
}
