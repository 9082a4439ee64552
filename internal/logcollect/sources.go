package logcollect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/client"
	"golang.org/x/sync/errgroup"

	"github.com/signalnine/verdict/internal/config"
)

// FromConfig builds the configured source. It returns nil for the "none"
// source.
func FromConfig(cfg *config.Config, env []string) Source {
	switch cfg.LogSource.Type {
	case config.SourceCommand:
		return &CommandSource{
			Shell:   cfg.Execution.Shell,
			Command: cfg.LogSource.Command,
			Dir:     cfg.WorkDir,
			Env:     env,
		}
	case config.SourceDocker:
		return &DockerSource{Labels: cfg.LogSource.Labels, Containers: cfg.LogSource.Containers}
	default:
		return nil
	}
}

// CommandSource runs a shell command whose output is the log stream, for
// example `docker compose logs -f`.
type CommandSource struct {
	Shell   string
	Command string
	Dir     string
	Env     []string

	cmd    *exec.Cmd
	exited chan struct{}
}

func (s *CommandSource) Name() string {
	return "command"
}

func (s *CommandSource) Start(ctx context.Context, sink Sink) (<-chan error, error) {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.Command(shell, "-c", s.Command)
	cmd.Dir = s.Dir
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdout = sink.Stream("")
	cmd.Stderr = sink.Stream(stderrTag)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", s.Command, err)
	}
	s.cmd = cmd
	s.exited = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		close(s.exited)
		errc <- err
	}()
	return errc, nil
}

func (s *CommandSource) Stop(grace time.Duration) {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pgid := -s.cmd.Process.Pid
	syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case <-s.exited:
		return
	case <-time.After(grace):
	}
	syscall.Kill(pgid, syscall.SIGKILL)
}

// DockerSource follows the logs of running containers selected by label or
// name through the Docker API.
type DockerSource struct {
	Labels     []string
	Containers []string

	cli    *client.Client
	cancel context.CancelFunc
	exited chan struct{}
}

func (s *DockerSource) Name() string {
	return "docker"
}

func (s *DockerSource) Start(ctx context.Context, sink Sink) (<-chan error, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if _, err := cli.Ping(ctx, client.PingOptions{}); err != nil {
		cli.Close()
		return nil, fmt.Errorf("pinging docker: %w", err)
	}

	filters := make(client.Filters)
	for _, l := range s.Labels {
		filters.Add("label", l)
	}
	for _, name := range s.Containers {
		filters.Add("name", name)
	}
	list, err := cli.ContainerList(ctx, client.ContainerListOptions{Filters: filters})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	if len(list.Items) == 0 {
		cli.Close()
		return nil, errors.New("no running containers match the configured labels and names")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(streamCtx)
	for _, c := range list.Items {
		name := containerName(c.Names, c.ID)
		logs, err := cli.ContainerLogs(gctx, c.ID, client.ContainerLogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
			Tail:       "0",
		})
		if err != nil {
			cancel()
			cli.Close()
			return nil, fmt.Errorf("following logs of %s: %w", name, err)
		}
		stdout := sink.Stream(name + " | ")
		stderr := sink.Stream(stderrTag + name + " | ")
		g.Go(func() error {
			defer logs.Close()
			_, err := stdcopy.StdCopy(stdout, stderr, logs)
			if gctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading logs of %s: %w", name, err)
			}
			return fmt.Errorf("log stream of %s ended", name)
		})
	}

	s.cli = cli
	s.cancel = cancel
	s.exited = make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		err := g.Wait()
		close(s.exited)
		errc <- err
	}()
	return errc, nil
}

func (s *DockerSource) Stop(grace time.Duration) {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case <-s.exited:
	case <-time.After(grace):
	}
	s.cli.Close()
}

func containerName(names []string, id string) string {
	if len(names) > 0 {
		return strings.TrimPrefix(names[0], "/")
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
