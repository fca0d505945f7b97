// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package telegram is a minimal Telegram Bot API client and long-poll
// update loop.
//
// Client covers exactly the methods linkbot needs (getMe, sendMessage,
// getUpdates). Poller drives getUpdates long-polling, parses bot
// commands, and hands inbound traffic to a Handler. The bot token
// travels only in request URLs and is never logged.
package telegram
