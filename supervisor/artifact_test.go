// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app", "telegram-config.json")

	artifact := Artifact{
		BotToken:   "123:secret",
		ChatID:     42,
		EOAAddress: "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12",
	}
	if err := WriteArtifact(path, artifact); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("parsing artifact: %v", err)
	}
	// The child's wire format, exactly.
	if decoded["botToken"] != "123:secret" {
		t.Errorf("botToken = %v", decoded["botToken"])
	}
	if decoded["chatID"] != float64(42) {
		t.Errorf("chatID = %v", decoded["chatID"])
	}
	if decoded["eoaAddress"] != artifact.EOAAddress {
		t.Errorf("eoaAddress = %v", decoded["eoaAddress"])
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat artifact: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("artifact mode = %o, want 0600", mode)
	}
}

func TestWriteArtifactOverwritesSequentially(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegram-config.json")

	if err := WriteArtifact(path, Artifact{ChatID: 1}); err != nil {
		t.Fatalf("first WriteArtifact: %v", err)
	}
	if err := WriteArtifact(path, Artifact{ChatID: 2}); err != nil {
		t.Fatalf("second WriteArtifact: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	var decoded Artifact
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("parsing artifact: %v", err)
	}
	if decoded.ChatID != 2 {
		t.Fatalf("chatID = %d, want the later write", decoded.ChatID)
	}

	// No stray temporary file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file still present: %v", err)
	}
}
