// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package telegram

import "encoding/json"

// Update is one entry from getUpdates. Only message updates carry a
// non-nil Message; every other update kind is ignored by the poller.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound or outbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// User is a Telegram account, including the bot's own identity from
// getMe.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// apiResponse is the Bot API envelope. On success Result holds the
// method's payload; on failure ErrorCode and Description carry the
// error and Parameters may include flood-control hints.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *responseParams `json:"parameters"`
}

type responseParams struct {
	RetryAfter int `json:"retry_after"`
}
