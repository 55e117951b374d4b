package supervisor

import (
	"context"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Process is a started bot process.
type Process interface {
	Pid() int
	// Wait blocks until the process exits. A non-zero exit is reported as
	// an error implementing ExitCode() int, like *exec.ExitError.
	Wait() error
}

// Command starts the bot of username. Cancelling ctx must make the process
// exit.
type Command func(ctx context.Context, username string) (Process, error)

// Exec runs the bot binary once per account.
type Exec struct {
	Binary string
	Args   []string // passed before -account

	// Stdout and Stderr receive the child's output. Nil discards it; the
	// bot writes its own log file.
	Stdout io.Writer
	Stderr io.Writer

	// GracePeriod between SIGTERM and SIGKILL. Default: 15s.
	GracePeriod time.Duration
}

// Command returns the Command starting e.Binary.
func (e Exec) Command() Command {
	grace := e.GracePeriod
	if grace <= 0 {
		grace = 15 * time.Second
	}
	return func(ctx context.Context, username string) (Process, error) {
		args := append(append([]string(nil), e.Args...), "-account", username)
		cmd := exec.CommandContext(ctx, e.Binary, args...)
		cmd.Stdout = e.Stdout
		cmd.Stderr = e.Stderr
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = grace
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return execProcess{cmd}, nil
	}
}

type execProcess struct{ cmd *exec.Cmd }

func (p execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p execProcess) Wait() error { return p.cmd.Wait() }
