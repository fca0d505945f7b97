// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gswarm-tools/linkbot/lib/netutil"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Token is the bot token from BotFather. Required.
	Token string
	// APIURL is the base URL of the Bot API server. If empty,
	// DefaultAPIURL is used.
	APIURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used. Its timeout must exceed the getUpdates long-poll hold,
	// or every poll will abort early.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client is a Telegram Bot API client. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Bot API client. The token appears only in
// request URLs; it is never logged and never part of error text.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("telegram: Token is required")
	}

	apiURL := config.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("telegram: invalid APIURL %q: %w", apiURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(apiURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Me returns the bot's own identity via getMe. Useful at startup both
// to validate the token and to learn the bot's username for command
// parsing.
func (c *Client) Me(ctx context.Context) (*User, error) {
	result, err := c.callMethod(ctx, "getMe", nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: getMe failed: %w", err)
	}

	var user User
	if err := json.Unmarshal(result, &user); err != nil {
		return nil, fmt.Errorf("telegram: failed to parse getMe response: %w", err)
	}
	return &user, nil
}

// SendMessage sends plain text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*Message, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	result, err := c.callMethod(ctx, "sendMessage", payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: sendMessage to chat %d failed: %w", chatID, err)
	}

	var message Message
	if err := json.Unmarshal(result, &message); err != nil {
		return nil, fmt.Errorf("telegram: failed to parse sendMessage response: %w", err)
	}
	return &message, nil
}

// GetUpdates long-polls the Bot API for updates with update_id >=
// offset. The server holds the connection for up to timeout before
// returning an empty batch. Bounded by ctx.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}
	result, err := c.callMethod(ctx, "getUpdates", payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates failed: %w", err)
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("telegram: failed to parse getUpdates response: %w", err)
	}
	return updates, nil
}

// callMethod performs one Bot API call and unwraps the response
// envelope. On ok:false, returns an *APIError. payload may be nil for
// parameterless methods.
func (c *Client) callMethod(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	requestURL := c.baseURL + "/bot" + c.token + "/" + method

	var bodyReader *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		// The error may embed the full request URL, token included.
		// Report only the method name.
		return nil, fmt.Errorf("request for %s failed: %w", method, urlStripped(err))
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Every Bot API response, success or failure, uses the same JSON
	// envelope regardless of HTTP status.
	var envelope apiResponse
	if err := json.Unmarshal(responseBody, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected %d response for %s: %s",
			response.StatusCode, method, string(responseBody))
	}

	if !envelope.OK {
		apiErr := &APIError{
			Code:        envelope.ErrorCode,
			Description: envelope.Description,
		}
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return nil, apiErr
	}

	return envelope.Result, nil
}

// urlStripped rewraps a transport error as its underlying cause when it
// is a *url.Error, dropping the URL string (which contains the bot
// token). Context cancellation remains visible through errors.Is.
func urlStripped(err error) error {
	if urlErr, ok := err.(*url.Error); ok {
		return urlErr.Err
	}
	return err
}
