// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gswarm-tools/linkbot/lib/clock"
	"github.com/gswarm-tools/linkbot/lib/testutil"
)

type pollCall struct {
	offset  int64
	timeout time.Duration
}

type pollResult struct {
	updates []Update
	err     error
}

// fakeSource scripts GetUpdates: each call records its arguments and
// blocks until the test supplies a result.
type fakeSource struct {
	calls      chan pollCall
	results    chan pollResult
	idleClosed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:      make(chan pollCall, 16),
		results:    make(chan pollResult),
		idleClosed: make(chan struct{}, 16),
	}
}

func (s *fakeSource) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	s.calls <- pollCall{offset: offset, timeout: timeout}
	select {
	case result := <-s.results:
		return result.updates, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSource) CloseIdleConnections() {
	s.idleClosed <- struct{}{}
}

type handledCommand struct {
	chatID int64
	name   string
	args   string
}

type handledText struct {
	chatID int64
	text   string
}

type fakeHandler struct {
	commands chan handledCommand
	texts    chan handledText
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		commands: make(chan handledCommand, 16),
		texts:    make(chan handledText, 16),
	}
}

func (h *fakeHandler) HandleCommand(_ context.Context, chatID int64, name, args string) {
	h.commands <- handledCommand{chatID: chatID, name: name, args: args}
}

func (h *fakeHandler) HandleText(_ context.Context, chatID int64, text string) {
	h.texts <- handledText{chatID: chatID, text: text}
}

type pollerHarness struct {
	source  *fakeSource
	handler *fakeHandler
	clk     *clock.FakeClock
	cancel  context.CancelFunc
	runErr  chan error
}

func startPoller(t *testing.T) *pollerHarness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	source := newFakeSource()
	handler := newFakeHandler()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	poller := NewPoller(PollerConfig{
		Source:      source,
		Handler:     handler,
		Clock:       clk,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		BotUsername: "linkbot",
		PollTimeout: 30 * time.Second,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- poller.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, runErr, 5*time.Second, "waiting for Run to exit")
	})

	return &pollerHarness{source: source, handler: handler, clk: clk, cancel: cancel, runErr: runErr}
}

func textUpdate(updateID, chatID int64, text string) Update {
	return Update{
		UpdateID: updateID,
		Message: &Message{
			From: &User{ID: chatID},
			Chat: Chat{ID: chatID, Type: "private"},
			Text: text,
		},
	}
}

func TestPollerDispatchesAndAdvancesOffset(t *testing.T) {
	h := startPoller(t)

	call := testutil.RequireReceive(t, h.source.calls, 5*time.Second, "first poll")
	if call.offset != 0 || call.timeout != 30*time.Second {
		t.Fatalf("first call = %+v", call)
	}

	h.source.results <- pollResult{updates: []Update{
		textUpdate(10, 1, "hello"),
		textUpdate(11, 2, "/stop"),
	}}

	text := testutil.RequireReceive(t, h.handler.texts, 5*time.Second, "text dispatch")
	if text.chatID != 1 || text.text != "hello" {
		t.Fatalf("text = %+v", text)
	}
	command := testutil.RequireReceive(t, h.handler.commands, 5*time.Second, "command dispatch")
	if command.chatID != 2 || command.name != "stop" || command.args != "" {
		t.Fatalf("command = %+v", command)
	}

	// Next poll acknowledges the batch.
	call = testutil.RequireReceive(t, h.source.calls, 5*time.Second, "second poll")
	if call.offset != 12 {
		t.Fatalf("offset = %d, want 12", call.offset)
	}
}

func TestPollerIgnoresNonMessageAndBotTraffic(t *testing.T) {
	h := startPoller(t)

	testutil.RequireReceive(t, h.source.calls, 5*time.Second, "first poll")
	h.source.results <- pollResult{updates: []Update{
		{UpdateID: 1},
		{UpdateID: 2, Message: &Message{Chat: Chat{ID: 5}}},
		{UpdateID: 3, Message: &Message{From: &User{IsBot: true}, Chat: Chat{ID: 5}, Text: "beep"}},
		textUpdate(4, 9, "real"),
	}}

	text := testutil.RequireReceive(t, h.handler.texts, 5*time.Second, "text dispatch")
	if text.chatID != 9 || text.text != "real" {
		t.Fatalf("text = %+v, want only the real message", text)
	}
	select {
	case extra := <-h.handler.texts:
		t.Fatalf("unexpected extra dispatch %+v", extra)
	case extra := <-h.handler.commands:
		t.Fatalf("unexpected command dispatch %+v", extra)
	default:
	}
}

func TestPollerRetriesWithBackoff(t *testing.T) {
	h := startPoller(t)

	testutil.RequireReceive(t, h.source.calls, 5*time.Second, "first poll")
	h.source.results <- pollResult{err: errors.New("connection reset")}

	// The failed poll drops idle connections and waits out the backoff.
	testutil.RequireReceive(t, h.source.idleClosed, 5*time.Second, "idle connections reset")
	h.clk.WaitForTimers(1)
	h.clk.Advance(time.Second)

	call := testutil.RequireReceive(t, h.source.calls, 5*time.Second, "retry poll")
	if call.offset != 0 {
		t.Fatalf("retry offset = %d", call.offset)
	}
}

func TestPollerHonorsServerRetryAfter(t *testing.T) {
	h := startPoller(t)

	testutil.RequireReceive(t, h.source.calls, 5*time.Second, "first poll")
	h.source.results <- pollResult{err: &APIError{Code: 429, Description: "flood", RetryAfter: 42 * time.Second}}
	testutil.RequireReceive(t, h.source.idleClosed, 5*time.Second, "idle connections reset")

	h.clk.WaitForTimers(1)
	h.clk.Advance(41 * time.Second)
	select {
	case call := <-h.source.calls:
		t.Fatalf("poll %+v arrived before the flood-control wait elapsed", call)
	case <-time.After(100 * time.Millisecond):
	}

	h.clk.Advance(time.Second)
	testutil.RequireReceive(t, h.source.calls, 5*time.Second, "poll after flood-control wait")
}

func TestPollerGivesUpAfterConsecutiveFailures(t *testing.T) {
	h := startPoller(t)

	for attempt := 0; attempt < maxPollRetries+1; attempt++ {
		testutil.RequireReceive(t, h.source.calls, 5*time.Second, "poll attempt %d", attempt)
		h.source.results <- pollResult{err: errors.New("connection reset")}
		testutil.RequireReceive(t, h.source.idleClosed, 5*time.Second, "idle connection reset %d", attempt)
		if attempt < maxPollRetries {
			h.clk.WaitForTimers(1)
			h.clk.Advance(time.Second)
		}
	}

	err := testutil.RequireReceive(t, h.runErr, 5*time.Second, "Run should give up")
	if err == nil || !strings.Contains(err.Error(), "consecutive") {
		t.Fatalf("Run error = %v", err)
	}
	// Replace the consumed value so cleanup's receive succeeds.
	h.runErr <- nil
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"/start", "start", "", true},
		{"/STOP", "stop", "", true},
		{"/verify ABC-123", "verify", "ABC-123", true},
		{"/verify   ABC-123  ", "verify", "ABC-123", true},
		{"/stop@linkbot", "stop", "", true},
		{"/stop@LINKBOT", "stop", "", true},
		{"/stop@otherbot", "", "", false},
		{"/@linkbot", "", "", false},
		{"/", "", "", false},
		{"hello", "", "", false},
		{"0xabc", "", "", false},
	}
	for _, test := range tests {
		name, args, ok := parseCommand(test.text, "linkbot")
		if name != test.wantName || args != test.wantArgs || ok != test.wantOK {
			t.Errorf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
				test.text, name, args, ok, test.wantName, test.wantArgs, test.wantOK)
		}
	}
}
