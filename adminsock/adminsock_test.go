// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package adminsock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gswarm-tools/linkbot/lib/codec"
	"github.com/gswarm-tools/linkbot/lib/testutil"
	"github.com/gswarm-tools/linkbot/supervisor"
)

type stopCall struct {
	reason string
}

type fakeController struct {
	status    supervisor.Status
	statusErr error
	stopped   bool
	stopErr   error
	stops     chan stopCall
}

func (f *fakeController) Status(context.Context) (supervisor.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeController) StopActive(_ context.Context, reason string) (bool, error) {
	f.stops <- stopCall{reason: reason}
	return f.stopped, f.stopErr
}

func startServer(t *testing.T, controller *fakeController) string {
	t.Helper()

	socketPath := filepath.Join(testutil.SocketDir(t), "admin.sock")
	server := NewServer(socketPath, controller, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		server.Serve(ctx)
		close(serveDone)
	}()

	// Wait for the socket file to appear.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("control socket never came up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, serveDone, 5*time.Second, "waiting for Serve to exit")
	})

	return socketPath
}

func TestStatusAction(t *testing.T) {
	controller := &fakeController{
		status: supervisor.Status{State: "active", Owner: 42, QueueLength: 3},
		stops:  make(chan stopCall, 1),
	}
	socketPath := startServer(t, controller)

	response, err := Call(context.Background(), socketPath, Request{Action: "status"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	var status supervisor.Status
	if err := codec.Unmarshal(response.Data, &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.State != "active" || status.Owner != 42 || status.QueueLength != 3 {
		t.Fatalf("status = %+v", status)
	}
}

func TestStopActionDefaultsReason(t *testing.T) {
	controller := &fakeController{stopped: true, stops: make(chan stopCall, 1)}
	socketPath := startServer(t, controller)

	response, err := Call(context.Background(), socketPath, Request{Action: "stop"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	call := testutil.RequireReceive(t, controller.stops, 5*time.Second, "waiting for StopActive")
	if call.reason != "stopped by operator" {
		t.Errorf("reason = %q", call.reason)
	}

	var result StopResult
	if err := codec.Unmarshal(response.Data, &result); err != nil {
		t.Fatalf("decoding stop result: %v", err)
	}
	if !result.Stopped {
		t.Fatal("result.Stopped = false")
	}
}

func TestStopActionCarriesReason(t *testing.T) {
	controller := &fakeController{stopped: false, stops: make(chan stopCall, 1)}
	socketPath := startServer(t, controller)

	response, err := Call(context.Background(), socketPath, Request{Action: "stop", Reason: "maintenance window"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	call := testutil.RequireReceive(t, controller.stops, 5*time.Second, "waiting for StopActive")
	if call.reason != "maintenance window" {
		t.Errorf("reason = %q", call.reason)
	}

	var result StopResult
	if err := codec.Unmarshal(response.Data, &result); err != nil {
		t.Fatalf("decoding stop result: %v", err)
	}
	if result.Stopped {
		t.Fatal("result.Stopped = true, controller reported idle")
	}
}

func TestUnknownAction(t *testing.T) {
	controller := &fakeController{stops: make(chan stopCall, 1)}
	socketPath := startServer(t, controller)

	response, err := Call(context.Background(), socketPath, Request{Action: "reboot"})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
	if response == nil || response.OK {
		t.Fatalf("response = %+v", response)
	}
	if !strings.Contains(response.Error, "unknown action") {
		t.Errorf("error = %q", response.Error)
	}
}

func TestControllerErrorBecomesErrorResponse(t *testing.T) {
	controller := &fakeController{
		statusErr: errors.New("supervisor: not running"),
		stops:     make(chan stopCall, 1),
	}
	socketPath := startServer(t, controller)

	_, err := Call(context.Background(), socketPath, Request{Action: "status"})
	if err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("Call error = %v", err)
	}
}
