// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gswarm-tools/linkbot/supervisor"
	"github.com/gswarm-tools/linkbot/telegram"
)

// messageSender is the slice of telegram.Client the bot needs for its
// own replies (the supervisor sends its notifications through the
// Notifier). Tests substitute fakes.
type messageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (*telegram.Message, error)
}

// sessionControl is the slice of the supervisor the bot drives.
type sessionControl interface {
	OnMessage(ctx context.Context, requester supervisor.RequesterID, text string)
	RequestStop(ctx context.Context, requester supervisor.RequesterID)
	OnVerifyCommand(ctx context.Context, requester supervisor.RequesterID, text string)
	Status(ctx context.Context) (supervisor.Status, error)
}

const welcomeText = `Welcome to the gswarm linking bot.

Send your EVM address (starting with 0x) to start a linking session.

Commands:
/stop - end your active session or leave the queue
/verify <code> - forward a verification code to the linking process
/status - show the current session and queue`

// bot routes inbound Telegram traffic to the supervisor. It implements
// telegram.Handler.
type bot struct {
	sessions sessionControl
	sender   messageSender
	logger   *slog.Logger
}

// HandleCommand implements telegram.Handler.
func (b *bot) HandleCommand(ctx context.Context, chatID int64, name, args string) {
	requester := supervisor.RequesterID(chatID)

	switch name {
	case "start":
		b.reply(ctx, chatID, welcomeText)

	case "stop":
		b.sessions.RequestStop(ctx, requester)

	case "verify":
		// Forward the command as typed. The supervisor writes it
		// verbatim to the child's stdin.
		text := "/verify"
		if args != "" {
			text += " " + args
		}
		b.sessions.OnVerifyCommand(ctx, requester, text)

	case "status":
		status, err := b.sessions.Status(ctx)
		if err != nil {
			b.logger.Warn("status query failed", "error", err)
			b.reply(ctx, chatID, "Status is unavailable right now.")
			return
		}
		b.reply(ctx, chatID, formatStatus(status))

	default:
		b.reply(ctx, chatID, "Unknown command. "+welcomeText)
	}
}

// HandleText implements telegram.Handler.
func (b *bot) HandleText(ctx context.Context, chatID int64, text string) {
	b.sessions.OnMessage(ctx, supervisor.RequesterID(chatID), text)
}

// reply sends text to a chat, best-effort.
func (b *bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.sender.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Warn("reply failed", "chat_id", chatID, "error", err)
	}
}

// formatStatus renders a supervisor snapshot for chat. Owner identity
// is reduced to the address being linked; chat IDs stay out of other
// people's chats.
func formatStatus(status supervisor.Status) string {
	var sb strings.Builder
	if status.State == "active" {
		fmt.Fprintf(&sb, "A linking session is active for %s.\n", shortAddress(status.Address))
	} else {
		sb.WriteString("No active session.\n")
	}
	switch status.QueueLength {
	case 0:
		sb.WriteString("The queue is empty.")
	case 1:
		sb.WriteString("1 requester is waiting in the queue.")
	default:
		fmt.Fprintf(&sb, "%d requesters are waiting in the queue.", status.QueueLength)
	}
	return sb.String()
}

// shortAddress elides the middle of an address for display.
func shortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:8] + "..." + address[len(address)-4:]
}

// chatNotifier adapts telegram.Client to supervisor.Notifier.
type chatNotifier struct {
	sender messageSender
}

// Notify implements supervisor.Notifier.
func (n *chatNotifier) Notify(ctx context.Context, requester supervisor.RequesterID, text string) error {
	_, err := n.sender.SendMessage(ctx, int64(requester), text)
	return err
}
