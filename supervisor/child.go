// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gswarm-tools/linkbot/lib/clock"
)

// ErrPipeClosed is returned by WriteLine when the child's stdin is
// gone — either the process exited or the pipe was closed.
var ErrPipeClosed = errors.New("supervisor: child stdin closed")

// StartSpec describes how to launch one linking process.
type StartSpec struct {
	// Command is the binary name or path. Resolved via PATH unless
	// absolute.
	Command string

	// Args are the command-line arguments, not including the command
	// itself.
	Args []string

	// Env is the complete child environment (nil inherits the parent
	// environment, matching os/exec).
	Env []string

	// Dir is the working directory. Empty inherits the parent's.
	Dir string
}

// ChildProcess is one running linking process. The supervisor owns
// exactly one at a time; tests substitute fakes.
type ChildProcess interface {
	// Lines returns the channel of stdout lines (stderr is merged in).
	// The channel is closed when the process closes its output or
	// exits. Finite, not restartable.
	Lines() <-chan string

	// WriteLine writes text plus a trailing newline to the child's
	// stdin. Returns an error wrapping ErrPipeClosed if the stdin
	// pipe is gone.
	WriteLine(text string) error

	// Terminate sends SIGTERM to the child's process group, waits up
	// to grace for exit, then SIGKILLs the group. Always reaps the
	// process before returning — no zombies. Idempotent.
	Terminate(grace time.Duration)
}

// Launcher starts child processes. Production code uses ExecLauncher;
// tests substitute a fake that records StartSpecs.
type Launcher interface {
	Start(spec StartSpec) (ChildProcess, error)
}

// ExecLauncher launches real OS processes via os/exec.
type ExecLauncher struct {
	// Clock drives the Terminate grace period. Required.
	Clock clock.Clock
}

// Start launches the process described by spec. Exactly one OS-level
// child per call. Fails if the binary cannot be located or exec fails.
func (l ExecLauncher) Start(spec StartSpec) (ChildProcess, error) {
	command := exec.Command(spec.Command, spec.Args...)
	command.Env = spec.Env
	command.Dir = spec.Dir

	// Own process group so Terminate's signals reach any grandchildren
	// the linking binary spawns.
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdin pipe for %s: %w", spec.Command, err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe for %s: %w", spec.Command, err)
	}
	// Interleave stderr into the same stream the classifier reads —
	// the linking binary reports errors there.
	command.Stderr = command.Stdout

	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: starting %s: %w", spec.Command, err)
	}

	c := &child{
		command: command,
		clk:     l.Clock,
		stdin:   stdin,
		lines:   make(chan string),
		exited:  make(chan struct{}),
	}

	go c.readLines(stdout)

	return c, nil
}

// child owns one running OS process.
type child struct {
	command *exec.Cmd
	clk     clock.Clock
	lines   chan string

	stdinMu     sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool

	// exited is closed after the process has been reaped.
	exited chan struct{}

	terminateOnce sync.Once
}

// readLines pumps stdout into the lines channel until EOF, then reaps
// the process. Runs in its own goroutine for the child's lifetime.
func (c *child) readLines(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	close(c.lines)

	// EOF means the process closed its output (usually by exiting).
	// Release stdin so pending writers fail fast, then reap.
	c.closeStdin()
	_ = c.command.Wait()
	close(c.exited)
}

// Lines implements ChildProcess.
func (c *child) Lines() <-chan string { return c.lines }

// WriteLine implements ChildProcess.
func (c *child) WriteLine(text string) error {
	c.stdinMu.Lock()
	defer c.stdinMu.Unlock()

	if c.stdinClosed {
		return ErrPipeClosed
	}
	if _, err := io.WriteString(c.stdin, text+"\n"); err != nil {
		c.stdinClosed = true
		return fmt.Errorf("%w: %v", ErrPipeClosed, err)
	}
	return nil
}

// closeStdin closes the stdin pipe once. Safe to call from multiple
// goroutines.
func (c *child) closeStdin() {
	c.stdinMu.Lock()
	defer c.stdinMu.Unlock()
	if !c.stdinClosed {
		c.stdinClosed = true
		c.stdin.Close()
	}
}

// Terminate implements ChildProcess. Signals the process group:
// SIGTERM, then SIGKILL after grace. Kill errors are ignored — the
// group may already be gone.
func (c *child) Terminate(grace time.Duration) {
	c.terminateOnce.Do(func() {
		processGroup := -c.command.Process.Pid
		_ = unix.Kill(processGroup, unix.SIGTERM)

		select {
		case <-c.exited:
		case <-c.clk.After(grace):
			_ = unix.Kill(processGroup, unix.SIGKILL)
		}
	})
	<-c.exited
}
