// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/gswarm-tools/linkbot/lib/clock"
	"github.com/gswarm-tools/linkbot/lib/testutil"
)

func startShell(t *testing.T, script string) ChildProcess {
	t.Helper()
	launcher := ExecLauncher{Clock: clock.Real()}
	childProcess, err := launcher.Start(StartSpec{
		Command: "sh",
		Args:    []string{"-c", script},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { childProcess.Terminate(time.Second) })
	return childProcess
}

func TestChildReadsLinesUntilEOF(t *testing.T) {
	childProcess := startShell(t, `printf 'one\ntwo\n'`)

	for _, want := range []string{"one", "two"} {
		line := testutil.RequireReceive(t, childProcess.Lines(), 5*time.Second, "waiting for line %q", want)
		if line != want {
			t.Fatalf("line = %q, want %q", line, want)
		}
	}

	// EOF closes the channel.
	select {
	case line, ok := <-childProcess.Lines():
		if ok {
			t.Fatalf("unexpected extra line %q, want closed channel", line)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lines channel to close")
	}
}

func TestChildWriteLineReachesStdin(t *testing.T) {
	childProcess := startShell(t, `read line; echo "got $line"`)

	if err := childProcess.WriteLine("hello"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	line := testutil.RequireReceive(t, childProcess.Lines(), 5*time.Second, "waiting for echo")
	if line != "got hello" {
		t.Fatalf("line = %q, want %q", line, "got hello")
	}
}

func TestChildWriteLineAfterExit(t *testing.T) {
	childProcess := startShell(t, `true`)

	// Drain until EOF so the child has certainly exited and stdin has
	// been released.
	for range childProcess.Lines() {
	}
	childProcess.Terminate(time.Second)

	if err := childProcess.WriteLine("too late"); !errors.Is(err, ErrPipeClosed) {
		t.Fatalf("WriteLine after exit = %v, want ErrPipeClosed", err)
	}
}

func TestChildTerminateKillsStubbornProcess(t *testing.T) {
	// The shell ignores SIGTERM, forcing the SIGKILL escalation after
	// the grace period.
	childProcess := startShell(t, `trap '' TERM; while true; do sleep 1; done`)

	done := make(chan struct{})
	go func() {
		childProcess.Terminate(100 * time.Millisecond)
		close(done)
	}()

	testutil.RequireClosed(t, done, 10*time.Second, "Terminate should escalate to SIGKILL and reap")
}

func TestChildTerminateIdempotent(t *testing.T) {
	childProcess := startShell(t, `sleep 60`)

	childProcess.Terminate(100 * time.Millisecond)
	// Second call must return immediately without blocking or panicking.
	done := make(chan struct{})
	go func() {
		childProcess.Terminate(100 * time.Millisecond)
		close(done)
	}()
	testutil.RequireClosed(t, done, 5*time.Second, "repeat Terminate")
}

func TestChildSpawnFailure(t *testing.T) {
	launcher := ExecLauncher{Clock: clock.Real()}
	if _, err := launcher.Start(StartSpec{Command: "linkbot-test-no-such-binary"}); err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
}
