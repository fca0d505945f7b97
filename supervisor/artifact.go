// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact is the per-session configuration record the linking binary
// reads at startup. The field names are the child's wire format, not
// ours.
type Artifact struct {
	// BotToken lets the child report status directly to the chat.
	BotToken string `json:"botToken"`

	// ChatID is the session owner's chat.
	ChatID int64 `json:"chatID"`

	// EOAAddress is the target address being linked.
	EOAAddress string `json:"eoaAddress"`
}

// WriteArtifact atomically writes the artifact as JSON: temporary file
// in the same directory, fsync, rename into place, fsync the parent
// directory. The child never sees a partial write, even though only
// one session is ever active — the same path is reused sequentially
// and a crash mid-write must not leave a corrupt file for the next
// session.
//
// The parent directory is created if missing. The file is created with
// mode 0600: it carries the bot token.
func WriteArtifact(path string, artifact Artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session artifact: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary artifact file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary artifact file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary artifact file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary artifact file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming artifact file into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}
