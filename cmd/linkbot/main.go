// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

// Command linkbot runs the gswarm Telegram linking service: a
// single-slot supervisor for the gswarm linking binary, driven by a
// Telegram long-poll loop, with an HTTP health surface and a local
// operator control socket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gswarm-tools/linkbot/adminsock"
	"github.com/gswarm-tools/linkbot/health"
	"github.com/gswarm-tools/linkbot/lib/clock"
	"github.com/gswarm-tools/linkbot/lib/config"
	"github.com/gswarm-tools/linkbot/lib/process"
	"github.com/gswarm-tools/linkbot/lib/version"
	"github.com/gswarm-tools/linkbot/supervisor"
	"github.com/gswarm-tools/linkbot/telegram"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("linkbot", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to linkbot.yaml (defaults to $LINKBOT_CONFIG)")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *showVersion {
		fmt.Println("linkbot " + version.Full())
		return nil
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The bot token is deliberately environment-only: it must never
	// appear in a config file that might get committed or mounted
	// world-readable.
	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := telegram.NewClient(telegram.ClientConfig{
		Token:  botToken,
		APIURL: cfg.Telegram.APIURL,
		HTTPClient: &http.Client{
			// Must exceed the getUpdates long-poll hold, with margin
			// for the round trip itself.
			Timeout: cfg.Telegram.PollTimeout.Std() + 15*time.Second,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// Validate the token and learn the bot's username before starting
	// anything else.
	me, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("validating bot token: %w", err)
	}
	logger.Info("authenticated to telegram", "bot_id", me.ID, "username", me.Username)

	systemClock := clock.Real()

	sessions := supervisor.New(supervisor.Config{
		Launcher:          supervisor.ExecLauncher{Clock: systemClock},
		Notifier:          &chatNotifier{sender: client},
		Clock:             systemClock,
		Logger:            logger,
		BotToken:          botToken,
		ChildCommand:      cfg.Child.Command,
		ArtifactPath:      cfg.Child.ConfigPath,
		WorkDir:           cfg.Child.WorkDir,
		GracePeriod:       cfg.Child.GracePeriod.Std(),
		InactivityTimeout: cfg.Session.InactivityTimeout.Std(),
		CheckInterval:     cfg.Session.CheckInterval.Std(),
	})

	poller := telegram.NewPoller(telegram.PollerConfig{
		Source:      client,
		Handler:     &bot{sessions: sessions, sender: client, logger: logger},
		Clock:       systemClock,
		Logger:      logger,
		BotUsername: me.Username,
		PollTimeout: cfg.Telegram.PollTimeout.Std(),
	})

	supervisorDone := make(chan error, 1)
	go func() {
		supervisorDone <- sessions.Run(ctx)
	}()

	pollerDone := make(chan error, 1)
	go func() {
		pollerDone <- poller.Run(ctx)
	}()

	var healthDone chan error
	if cfg.Health.Address != "" {
		healthServer := health.NewServer(health.Config{
			Address:    cfg.Health.Address,
			Supervisor: sessions,
			Logger:     logger,
		})
		healthDone = make(chan error, 1)
		go func() {
			healthDone <- healthServer.Serve(ctx)
		}()
	}

	var adminDone chan error
	if cfg.Admin.SocketPath != "" {
		adminServer := adminsock.NewServer(cfg.Admin.SocketPath, sessions, logger)
		adminDone = make(chan error, 1)
		go func() {
			adminDone <- adminServer.Serve(ctx)
		}()
	}

	logger.Info("linkbot running",
		"version", version.Info(),
		"child_command", cfg.Child.Command,
		"health_address", cfg.Health.Address,
		"admin_socket", cfg.Admin.SocketPath,
	)

	// The poller is the service's heartbeat: if it gives up, the
	// process exits non-zero and the platform restarts it. Everything
	// else shuts down on signal.
	var runErr error
	select {
	case runErr = <-pollerDone:
		stop()
	case <-ctx.Done():
		logger.Info("shutting down")
		runErr = <-pollerDone
	}

	// Drain the remaining services. The supervisor terminates any
	// active child before returning.
	if err := <-supervisorDone; err != nil {
		logger.Error("supervisor error", "error", err)
	}
	if healthDone != nil {
		if err := <-healthDone; err != nil {
			logger.Error("health server error", "error", err)
		}
	}
	if adminDone != nil {
		if err := <-adminDone; err != nil {
			logger.Error("control socket error", "error", err)
		}
	}

	return runErr
}

// loadConfig loads from the --config path when given, otherwise from
// $LINKBOT_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger builds the process-wide structured logger.
func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel,
	})), nil
}
