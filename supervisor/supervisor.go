// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gswarm-tools/linkbot/lib/clock"
)

// ErrNotRunning is returned by Status and StopActive when the
// dispatcher loop has exited.
var ErrNotRunning = errors.New("supervisor: not running")

// Notifier delivers outbound text to a requester. Delivery is
// best-effort: the supervisor logs and swallows errors, they never
// reach the state machine.
type Notifier interface {
	Notify(ctx context.Context, requester RequesterID, text string) error
}

// Status is a point-in-time snapshot of the supervisor, answered by
// the dispatcher itself so it is always internally consistent.
type Status struct {
	// State is "idle" or "active".
	State string `json:"state"`

	// Owner is the active session's requester. Zero when idle.
	Owner RequesterID `json:"owner,omitempty"`

	// Address is the active session's target address. Empty when idle.
	Address string `json:"address,omitempty"`

	// QueueLength is the number of waiting requesters.
	QueueLength int `json:"queue_length"`

	// StartedAt is when the active session was admitted. Zero when idle.
	StartedAt time.Time `json:"started_at,omitzero"`

	// LastActiveAt is the active session's inactivity anchor. Zero
	// when idle.
	LastActiveAt time.Time `json:"last_active_at,omitzero"`
}

// Config configures a Supervisor. Launcher, Notifier, Clock, BotToken,
// ChildCommand, and ArtifactPath are required.
type Config struct {
	// Launcher starts linking processes.
	Launcher Launcher

	// Notifier carries outbound messages to requesters.
	Notifier Notifier

	// Clock drives timestamps and the eviction ticker.
	Clock clock.Clock

	// Logger is the structured logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// BotToken is the transport credential handed to the child via
	// the session artifact and environment.
	BotToken string

	// ChildCommand is the linking binary to launch per session.
	ChildCommand string

	// ArtifactPath is where the per-session configuration artifact is
	// written before each start.
	ArtifactPath string

	// WorkDir is the child's working directory. Defaults to the
	// directory containing ArtifactPath.
	WorkDir string

	// GracePeriod bounds Terminate's SIGTERM-to-SIGKILL window.
	// Default: 5s.
	GracePeriod time.Duration

	// InactivityTimeout evicts an active session whose owner has been
	// silent this long. Default: 10m.
	InactivityTimeout time.Duration

	// CheckInterval is how often the eviction check runs. Default: 30s.
	CheckInterval time.Duration
}

// Supervisor owns the single session slot and the FIFO waiting queue.
// All mutable state lives behind the dispatcher goroutine started by
// Run; the exported methods only enqueue events.
type Supervisor struct {
	launcher Launcher
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger

	botToken     string
	childCommand string
	artifactPath string
	workDir      string

	gracePeriod       time.Duration
	inactivityTimeout time.Duration
	checkInterval     time.Duration

	events chan event

	// done is closed when Run exits, unblocking producers.
	done chan struct{}

	// Dispatcher-owned state. Touched only from Run's goroutine.
	active *session
	queue  Queue
}

// session is the record of the one running linking process.
type session struct {
	requester    RequesterID
	address      string
	child        ChildProcess
	createdAt    time.Time
	lastActiveAt time.Time
}

// event is a command or observation delivered to the dispatcher.
type event interface{}

type messageEvent struct {
	requester RequesterID
	text      string
}

type startEvent struct {
	requester RequesterID
	address   string
}

type stopEvent struct {
	requester RequesterID
}

type verifyEvent struct {
	requester RequesterID
	text      string
}

type signalEvent struct {
	child  ChildProcess
	signal Signal
}

type eofEvent struct {
	child ChildProcess
}

type statusEvent struct {
	reply chan Status
}

type adminStopEvent struct {
	reason string
	reply  chan bool
}

// New creates a Supervisor. Panics on missing required configuration —
// these are wiring bugs, not runtime conditions.
func New(config Config) *Supervisor {
	if config.Launcher == nil {
		panic("supervisor: Launcher is required")
	}
	if config.Notifier == nil {
		panic("supervisor: Notifier is required")
	}
	if config.Clock == nil {
		panic("supervisor: Clock is required")
	}
	if config.ChildCommand == "" {
		panic("supervisor: ChildCommand is required")
	}
	if config.ArtifactPath == "" {
		panic("supervisor: ArtifactPath is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gracePeriod := config.GracePeriod
	if gracePeriod == 0 {
		gracePeriod = 5 * time.Second
	}
	inactivityTimeout := config.InactivityTimeout
	if inactivityTimeout == 0 {
		inactivityTimeout = 10 * time.Minute
	}
	checkInterval := config.CheckInterval
	if checkInterval == 0 {
		checkInterval = 30 * time.Second
	}

	workDir := config.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(config.ArtifactPath)
	}

	return &Supervisor{
		launcher:          config.Launcher,
		notifier:          config.Notifier,
		clock:             config.Clock,
		logger:            logger,
		botToken:          config.BotToken,
		childCommand:      config.ChildCommand,
		artifactPath:      config.ArtifactPath,
		workDir:           workDir,
		gracePeriod:       gracePeriod,
		inactivityTimeout: inactivityTimeout,
		checkInterval:     checkInterval,
		events:            make(chan event, 64),
		done:              make(chan struct{}),
	}
}

// Run executes the dispatcher loop until ctx is cancelled. On return
// the active session, if any, has been terminated and reaped.
//
// Run must be called exactly once.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.logger.Info("supervisor running",
		"child_command", s.childCommand,
		"inactivity_timeout", s.inactivityTimeout,
	)

	for {
		select {
		case <-ctx.Done():
			// Unblock producers before terminating synchronously.
			// Nothing drains s.events past this point, and a child can
			// flood its monitor with output while dying; with done
			// closed those sends fall through instead of backing up
			// into the child's line scanner.
			close(s.done)
			if s.active != nil {
				ended := s.active
				s.active = nil
				s.logger.Info("terminating active session for shutdown", "requester", ended.requester)
				ended.child.Terminate(s.gracePeriod)
			}
			return nil
		case ev := <-s.events:
			s.dispatch(ctx, ev)
		case <-ticker.C:
			s.checkInactivity(ctx)
		}
	}
}

// OnMessage delivers an ordinary (non-command) message from a
// requester. An address-shaped message is a start request; anything
// else refreshes the owner's activity and gets usage guidance.
func (s *Supervisor) OnMessage(ctx context.Context, requester RequesterID, text string) {
	s.produce(ctx, messageEvent{requester: requester, text: text})
}

// RequestStart asks for a session on behalf of requester for the
// given address: admitted immediately when the slot is free, queued
// otherwise. Duplicate requests are informational no-ops.
func (s *Supervisor) RequestStart(ctx context.Context, requester RequesterID, address string) {
	s.produce(ctx, startEvent{requester: requester, address: address})
}

// RequestStop delivers an explicit stop from a requester: terminates
// their active session, or removes them from the queue, or responds
// that there is nothing to stop.
func (s *Supervisor) RequestStop(ctx context.Context, requester RequesterID) {
	s.produce(ctx, stopEvent{requester: requester})
}

// OnVerifyCommand forwards a requester's verify command verbatim to
// their active session's stdin.
func (s *Supervisor) OnVerifyCommand(ctx context.Context, requester RequesterID, text string) {
	s.produce(ctx, verifyEvent{requester: requester, text: text})
}

// Status returns a consistent snapshot of the supervisor's state.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case s.events <- statusEvent{reply: reply}:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-s.done:
		return Status{}, ErrNotRunning
	}
	select {
	case status := <-reply:
		return status, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-s.done:
		return Status{}, ErrNotRunning
	}
}

// StopActive force-stops the active session with the given reason,
// regardless of owner. Returns true if a session was stopped, false if
// the supervisor was idle. Used by the operator control socket.
func (s *Supervisor) StopActive(ctx context.Context, reason string) (bool, error) {
	reply := make(chan bool, 1)
	select {
	case s.events <- adminStopEvent{reason: reason, reply: reply}:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.done:
		return false, ErrNotRunning
	}
	select {
	case stopped := <-reply:
		return stopped, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.done:
		return false, ErrNotRunning
	}
}

// produce enqueues an event, giving up if the caller's context ends or
// the dispatcher has exited.
func (s *Supervisor) produce(ctx context.Context, ev event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	case <-s.done:
	}
}

// dispatch routes one event. A panic while handling a single event is
// logged and must not take down the dispatcher loop.
func (s *Supervisor) dispatch(ctx context.Context, ev event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("event handler panicked",
				"event", fmt.Sprintf("%T", ev),
				"panic", recovered,
			)
		}
	}()

	switch ev := ev.(type) {
	case messageEvent:
		s.handleMessage(ctx, ev.requester, ev.text)
	case startEvent:
		s.requestStart(ctx, ev.requester, ev.address)
	case stopEvent:
		s.handleStop(ctx, ev.requester)
	case verifyEvent:
		s.handleVerify(ctx, ev.requester, ev.text)
	case signalEvent:
		s.handleSignal(ctx, ev)
	case eofEvent:
		s.handleEOF(ctx, ev)
	case statusEvent:
		ev.reply <- s.snapshot()
	case adminStopEvent:
		stopped := s.active != nil
		if stopped {
			s.stopAndAdvance(ctx, ev.reason)
		}
		ev.reply <- stopped
	default:
		s.logger.Error("unknown event type", "event", fmt.Sprintf("%T", ev))
	}
}

// User-facing notification texts.
const (
	usageText = "To start a linking session, send your EVM address (starting with 0x). " +
		"Use /stop to end your active session."
	alreadyActiveText = "You already have an active session. Send /stop to end it first."
	alreadyQueuedText = "You are already in the queue. You'll be notified when it's your turn."
	startedText       = "Linking session started. You'll receive updates in this chat.\n" +
		"Note: the session auto-stops after 10 minutes of inactivity."
	spawnFailedText = "The linking binary could not be started. " +
		"Please try again later or contact the operator."
	artifactFailedText = "Failed to prepare the session configuration. Please try again later."
	yourTurnText       = "Your turn! Starting your linking session now..."
	queueRemovedText   = "You've been removed from the queue."
	nothingToStopText  = "You don't have an active or queued session."
	noSessionToVerify  = "No active session to verify. Send your EVM address to start one."
	verifySentText     = "Verification command sent to the linking process."
	verifyDeadPipeText = "Could not deliver the verify command: the linking process is not accepting input."
	noPeerText         = "No peer IDs found for this address on-chain.\n" +
		"This usually means the address is not registered. Send another valid EVM address to retry."
	linkedText = "Account successfully linked! Ending the session."
)

// handleMessage implements the ordinary-message transition: refresh
// the owner's activity, treat an address-shaped payload as a start
// request, answer everything else with usage guidance.
func (s *Supervisor) handleMessage(ctx context.Context, requester RequesterID, text string) {
	if s.active != nil && s.active.requester == requester {
		s.active.lastActiveAt = s.clock.Now()
	}

	if isAddress(text) {
		s.requestStart(ctx, requester, text)
		return
	}

	s.notify(ctx, requester, usageText)
}

// requestStart admits the requester into the slot, or queues them.
// Duplicate requests (already active, already queued) are informational
// no-ops — never a second session or queue entry.
func (s *Supervisor) requestStart(ctx context.Context, requester RequesterID, address string) {
	if s.active != nil && s.active.requester == requester {
		s.notify(ctx, requester, alreadyActiveText)
		return
	}

	if s.active != nil {
		position, err := s.queue.Enqueue(requester, address)
		if errors.Is(err, ErrAlreadyQueued) {
			s.notify(ctx, requester, alreadyQueuedText)
			return
		}
		s.logger.Info("requester queued", "requester", requester, "position", position)
		s.notify(ctx, requester, fmt.Sprintf(
			"Another session is currently active.\nYou've been added to the queue at position #%d.\nYou'll be notified automatically when it's your turn.",
			position))
		return
	}

	// Idle with a non-empty queue happens after a promotion spawn
	// failure. Admission stays first come first served: the head
	// waiter takes the slot before this request is considered, so a
	// newcomer cannot jump the line and a queued requester is only
	// ever admitted through their existing entry.
	if s.queue.Len() > 0 {
		wasQueued := s.queue.Contains(requester)
		s.promoteNext(ctx)
		if s.active != nil && s.active.requester == requester {
			return
		}
		if wasQueued {
			s.notify(ctx, requester, alreadyQueuedText)
			return
		}
		s.requestStart(ctx, requester, address)
		return
	}

	s.startSession(ctx, requester, address)
}

// startSession writes the session artifact, launches the child, and
// transitions to active. On any failure the supervisor stays idle and
// the queue is untouched — no session was created to fail.
func (s *Supervisor) startSession(ctx context.Context, requester RequesterID, address string) {
	artifact := Artifact{
		BotToken:   s.botToken,
		ChatID:     int64(requester),
		EOAAddress: address,
	}
	if err := WriteArtifact(s.artifactPath, artifact); err != nil {
		s.logger.Error("writing session artifact", "path", s.artifactPath, "error", err)
		s.notify(ctx, requester, artifactFailedText)
		return
	}

	environment := append(os.Environ(),
		"GSWARM_TELEGRAM_CONFIG_PATH="+s.artifactPath,
		"GSWARM_UPDATE_TELEGRAM_CONFIG=false",
		"GSWARM_EOA_ADDRESS="+address,
		"GSWARM_TELEGRAM_BOT_TOKEN="+s.botToken,
		"GSWARM_TELEGRAM_CHAT_ID="+strconv.FormatInt(int64(requester), 10),
	)

	child, err := s.launcher.Start(StartSpec{
		Command: s.childCommand,
		Args:    []string{"--telegram-config-path=" + s.artifactPath},
		Env:     environment,
		Dir:     s.workDir,
	})
	if err != nil {
		s.logger.Error("spawning linking process", "command", s.childCommand, "error", err)
		s.notify(ctx, requester, spawnFailedText)
		return
	}

	now := s.clock.Now()
	s.active = &session{
		requester:    requester,
		address:      address,
		child:        child,
		createdAt:    now,
		lastActiveAt: now,
	}
	s.logger.Info("session started", "requester", requester, "address", address)
	s.notify(ctx, requester, startedText)

	go s.monitor(child)
}

// monitor pumps one child's output into the dispatcher: classify each
// line, then report end-of-stream. Runs until the child closes its
// output; stream order is preserved because a single goroutine does
// the forwarding. State is never touched here — the dispatcher decides
// what each signal means.
func (s *Supervisor) monitor(child ChildProcess) {
	for line := range child.Lines() {
		s.send(signalEvent{child: child, signal: Classify(line)})
	}
	s.send(eofEvent{child: child})
}

// send enqueues an internally produced event, giving up only if the
// dispatcher has exited.
func (s *Supervisor) send(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// handleSignal reacts to one classified output line. Events from a
// child that is no longer the active session are stale and ignored.
func (s *Supervisor) handleSignal(ctx context.Context, ev signalEvent) {
	if s.active == nil || s.active.child != ev.child {
		return
	}

	switch ev.signal.Kind {
	case SignalPassthrough:
		s.logger.Debug("child output", "line", ev.signal.Line)

	case SignalVerifyCode:
		code := ev.signal.Code
		if err := ev.child.WriteLine("/verify " + code); err != nil {
			s.logger.Warn("forwarding verification code", "code", code, "error", err)
			s.notify(ctx, s.active.requester, fmt.Sprintf(
				"Detected verification code %s but could not deliver it: the linking process is no longer accepting input.", code))
			return
		}
		s.logger.Info("verification code forwarded", "code", code)
		s.notify(ctx, s.active.requester, "Auto-sent verification code: "+code)

	case SignalNoPeerFound:
		s.notify(ctx, s.active.requester, noPeerText)
		s.stopAndAdvance(ctx, "no peer IDs found for this address")

	case SignalLinkSucceeded:
		s.notify(ctx, s.active.requester, linkedText)
		s.stopAndAdvance(ctx, "account linked successfully")
	}
}

// handleEOF reacts to the child closing its output without a terminal
// signal: the process exited on its own.
func (s *Supervisor) handleEOF(ctx context.Context, ev eofEvent) {
	if s.active == nil || s.active.child != ev.child {
		return
	}
	s.stopAndAdvance(ctx, "linking process exited")
}

// handleStop implements the explicit stop transition.
func (s *Supervisor) handleStop(ctx context.Context, requester RequesterID) {
	if s.active != nil && s.active.requester == requester {
		s.stopAndAdvance(ctx, "session stopped by user")
		return
	}
	if s.queue.Remove(requester) {
		s.notify(ctx, requester, queueRemovedText)
		return
	}
	s.notify(ctx, requester, nothingToStopText)
}

// handleVerify forwards a requester's verify command verbatim to their
// active child's stdin. Does not change session state.
func (s *Supervisor) handleVerify(ctx context.Context, requester RequesterID, text string) {
	if s.active == nil || s.active.requester != requester {
		s.notify(ctx, requester, noSessionToVerify)
		return
	}

	s.active.lastActiveAt = s.clock.Now()

	if err := s.active.child.WriteLine(text); err != nil {
		s.logger.Warn("forwarding verify command", "requester", requester, "error", err)
		s.notify(ctx, requester, verifyDeadPipeText)
		return
	}
	s.notify(ctx, requester, verifySentText)
}

// checkInactivity evicts the active session once its owner has been
// silent past the timeout. Never fires while idle.
func (s *Supervisor) checkInactivity(ctx context.Context) {
	if s.active == nil {
		return
	}
	idle := s.clock.Now().Sub(s.active.lastActiveAt)
	if idle <= s.inactivityTimeout {
		return
	}
	s.logger.Info("evicting inactive session",
		"requester", s.active.requester,
		"idle", idle,
	)
	s.stopAndAdvance(ctx, fmt.Sprintf("timed out after %s of inactivity", s.inactivityTimeout))
}

// stopAndAdvance is the single termination path: every way a session
// can end (explicit stop, timeout, terminal signal, process exit,
// operator stop) funnels through here so cleanup and promotion are
// identical everywhere.
func (s *Supervisor) stopAndAdvance(ctx context.Context, reason string) {
	if s.active == nil {
		return
	}
	ended := s.active
	s.active = nil

	s.logger.Info("session ended", "requester", ended.requester, "reason", reason)

	// Terminate in the background: it can block for the full grace
	// period and the dispatcher must stay responsive. The child reaps
	// itself; its monitor goroutine drains remaining output and the
	// resulting events are discarded as stale.
	go ended.child.Terminate(s.gracePeriod)

	s.notify(ctx, ended.requester, fmt.Sprintf(
		"Session ended: %s.\nSend your EVM address again if you want to restart.", reason))

	s.promoteNext(ctx)
}

// promoteNext starts a session for the queue head, if any. A spawn
// failure here notifies the promoted requester and leaves the
// supervisor idle with the rest of the queue intact; the next stop or
// start request will advance it again.
func (s *Supervisor) promoteNext(ctx context.Context) {
	entry, ok := s.queue.DequeueNext()
	if !ok {
		return
	}
	s.notify(ctx, entry.Requester, yourTurnText)
	s.startSession(ctx, entry.Requester, entry.Address)
}

// snapshot builds a Status from dispatcher-owned state.
func (s *Supervisor) snapshot() Status {
	status := Status{
		State:       "idle",
		QueueLength: s.queue.Len(),
	}
	if s.active != nil {
		status.State = "active"
		status.Owner = s.active.requester
		status.Address = s.active.address
		status.StartedAt = s.active.createdAt
		status.LastActiveAt = s.active.lastActiveAt
	}
	return status
}

// notifyTimeout bounds one outbound notification so a slow transport
// cannot stall the dispatcher indefinitely.
const notifyTimeout = 10 * time.Second

// notify delivers text to a requester, best-effort. Failures are
// logged and swallowed — they never affect the state machine.
func (s *Supervisor) notify(ctx context.Context, requester RequesterID, text string) {
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(notifyCtx, requester, text); err != nil {
		s.logger.Warn("notification failed", "requester", requester, "error", err)
	}
}

// isAddress reports whether text looks like an address payload: the
// fixed "0x" marker followed by 40 hex digits.
func isAddress(text string) bool {
	if len(text) != 42 || !strings.HasPrefix(text, "0x") {
		return false
	}
	for _, r := range text[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
