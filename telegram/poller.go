// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gswarm-tools/linkbot/lib/clock"
)

// Handler receives inbound traffic from a Poller. Calls arrive from
// the polling goroutine, in update order.
type Handler interface {
	// HandleCommand is invoked for bot commands. name is lowercased
	// with the leading slash and any @botname mention removed; args is
	// the trimmed remainder of the message.
	HandleCommand(ctx context.Context, chatID int64, name, args string)

	// HandleText is invoked for ordinary text messages.
	HandleText(ctx context.Context, chatID int64, text string)
}

// UpdateSource is the slice of Client the Poller needs. Tests
// substitute fakes.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	CloseIdleConnections()
}

// PollerConfig holds configuration for creating a Poller.
type PollerConfig struct {
	// Source supplies updates. Required.
	Source UpdateSource
	// Handler receives dispatched messages. Required.
	Handler Handler
	// Clock drives retry backoff. Required.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
	// BotUsername, when set, lets the parser recognize "/cmd@botname"
	// mentions and drop commands addressed to other bots.
	BotUsername string
	// PollTimeout is the server-side long-poll hold. Default: 30s.
	PollTimeout time.Duration
}

// maxPollRetries is the number of consecutive getUpdates failures
// allowed before Run returns an error. The process exits and the
// platform restarts it with a clean slate.
const maxPollRetries = 5

// retryDelay is the minimum wait between failed polls. A flood-control
// retry_after from the server extends it.
const retryDelay = time.Second

// Poller drives the getUpdates long-poll loop and dispatches inbound
// messages to a Handler.
type Poller struct {
	source      UpdateSource
	handler     Handler
	clock       clock.Clock
	logger      *slog.Logger
	botUsername string
	pollTimeout time.Duration

	// offset is the next update_id to request. Confirming an offset
	// acknowledges all earlier updates server-side.
	offset int64
}

// NewPoller creates a Poller. Panics on missing required
// configuration.
func NewPoller(config PollerConfig) *Poller {
	if config.Source == nil {
		panic("telegram: Source is required")
	}
	if config.Handler == nil {
		panic("telegram: Handler is required")
	}
	if config.Clock == nil {
		panic("telegram: Clock is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollTimeout := config.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = 30 * time.Second
	}

	return &Poller{
		source:      config.Source,
		handler:     config.Handler,
		clock:       config.Clock,
		logger:      logger,
		botUsername: config.BotUsername,
		pollTimeout: pollTimeout,
	}
}

// Run polls for updates until ctx is cancelled (returns nil) or
// polling fails maxPollRetries consecutive times (returns the last
// error). Transient errors reset idle connections so the next attempt
// opens a fresh socket instead of reusing a poisoned pooled one.
func (p *Poller) Run(ctx context.Context) error {
	var retries int

	for {
		updates, err := p.source.GetUpdates(ctx, p.offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			retries++
			p.source.CloseIdleConnections()
			if retries > maxPollRetries {
				return fmt.Errorf("telegram: polling failed %d consecutive times: %w", retries, err)
			}

			delay := retryDelay
			if serverDelay := RetryDelay(err); serverDelay > delay {
				delay = serverDelay
			}
			p.logger.Debug("poll error, retrying",
				"attempt", retries,
				"max_attempts", maxPollRetries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-p.clock.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		retries = 0

		for _, update := range updates {
			if update.UpdateID >= p.offset {
				p.offset = update.UpdateID + 1
			}
			p.dispatch(ctx, update)
		}
	}
}

// dispatch routes one update. Non-message updates, empty texts, and
// traffic from other bots are dropped.
func (p *Poller) dispatch(ctx context.Context, update Update) {
	message := update.Message
	if message == nil || message.Text == "" {
		return
	}
	if message.From != nil && message.From.IsBot {
		return
	}

	text := strings.TrimSpace(message.Text)
	if name, args, ok := parseCommand(text, p.botUsername); ok {
		p.handler.HandleCommand(ctx, message.Chat.ID, name, args)
		return
	}
	p.handler.HandleText(ctx, message.Chat.ID, text)
}

// parseCommand splits "/name@botname args" into a lowercased command
// name and its trimmed arguments. Returns ok=false for non-commands
// and for commands mentioning a different bot.
func parseCommand(text, botUsername string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, rest, _ := strings.Cut(text[1:], " ")
	if head == "" {
		return "", "", false
	}

	if base, mention, found := strings.Cut(head, "@"); found {
		if botUsername != "" && !strings.EqualFold(mention, botUsername) {
			return "", "", false
		}
		if base == "" {
			return "", "", false
		}
		head = base
	}

	return strings.ToLower(head), strings.TrimSpace(rest), true
}
