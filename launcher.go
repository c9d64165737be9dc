package mcpcheck

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shaharia-lab/mcpcheck/observability"
)

const defaultTerminateGrace = 2 * time.Second

// LaunchConfig holds options for starting a server process.
type LaunchConfig struct {
	// TerminateGrace is how long Terminate waits after the graceful signal
	// before force-killing the process. Defaults to 2 seconds.
	TerminateGrace time.Duration
	Logger         observability.Logger
}

// ServerProcess is a launched MCP server. Its stdin and stdout are owned
// exclusively by the session wrapping it; stderr is drained into the logger.
type ServerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	done    chan struct{}
	waitErr error

	terminateOnce  sync.Once
	terminateGrace time.Duration
	logger         observability.Logger
}

// LaunchServer starts the process described by def with the definition's
// environment overlaid on the current process environment. It returns a
// *SpawnError when the executable cannot be started.
func LaunchServer(def ServerDefinition, cfg LaunchConfig) (*ServerProcess, error) {
	if cfg.TerminateGrace == 0 {
		cfg.TerminateGrace = defaultTerminateGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewDefaultLogger()
	}

	cmd := exec.Command(def.Command, def.Args...)
	cmd.Env = os.Environ()
	for k, v := range def.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe for %s: %w", def.Command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe for %s: %w", def.Command, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe for %s: %w", def.Command, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, &SpawnError{Command: def.Command, Err: err}
	}

	p := &ServerProcess{
		cmd:            cmd,
		stdin:          stdin,
		stdout:         stdout,
		done:           make(chan struct{}),
		terminateGrace: cfg.TerminateGrace,
		logger:         cfg.Logger.WithFields(map[string]interface{}{"command": def.Command, "pid": cmd.Process.Pid}),
	}

	// Server processes are free to write diagnostics to stderr; drain it so
	// the process never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Debugf("[stderr] %s", scanner.Text())
		}
	}()

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	p.logger.Debug("server process started")
	return p, nil
}

// Stdin returns the process's input stream.
func (p *ServerProcess) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the process's output stream.
func (p *ServerProcess) Stdout() io.Reader { return p.stdout }

// Pid returns the OS process id.
func (p *ServerProcess) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *ServerProcess) Done() <-chan struct{} { return p.done }

// Err returns the exit error, valid only after Done is closed.
func (p *ServerProcess) Err() error { return p.waitErr }

// Terminate shuts the process down: close stdin and send SIGTERM, then
// SIGKILL if it has not exited within the grace period. Safe to call more
// than once and a no-op when the process already exited.
func (p *ServerProcess) Terminate() {
	p.terminateOnce.Do(func() {
		select {
		case <-p.done:
			p.logger.Debug("server process already exited")
			return
		default:
		}

		p.stdin.Close()
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.logger.WithErr(err).Debug("failed to signal server process")
		}

		select {
		case <-p.done:
			p.logger.Debug("server process exited after SIGTERM")
		case <-time.After(p.terminateGrace):
			p.logger.Warnf("server process did not exit within %s, killing", p.terminateGrace)
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.WithErr(err).Warn("failed to kill server process")
			}
			<-p.done
		}
	})
}
