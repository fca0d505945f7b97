// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the linkbot
// service.
//
// Configuration is loaded from a single YAML file specified by:
//   - LINKBOT_CONFIG environment variable, or
//   - --config flag passed to the binary
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; environment variables do not override
// config values. The only exceptions are the Telegram bot token, which
// is always read from TELEGRAM_BOT_TOKEN so it never lands in a config
// file, and ${VAR} path expansion for portability.
package config
