// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantKind SignalKind
		wantCode string
	}{
		{
			name:     "verify code with colon",
			line:     "Your verify code: ABC-123",
			wantKind: SignalVerifyCode,
			wantCode: "ABC-123",
		},
		{
			name:     "verify code case-insensitive",
			line:     "VERIFY CODE 9f8e7d",
			wantKind: SignalVerifyCode,
			wantCode: "9f8e7d",
		},
		{
			name:     "no peer ids found",
			line:     "No peer IDs found for address 0xdeadbeef",
			wantKind: SignalNoPeerFound,
		},
		{
			name:     "link succeeded",
			line:     "Account successfully linked",
			wantKind: SignalLinkSucceeded,
		},
		{
			name:     "alternate success phrase",
			line:     "INFO: accounts linked successfully, shutting down",
			wantKind: SignalLinkSucceeded,
		},
		{
			name:     "discord telegram success phrase",
			line:     "You can now use both Discord and Telegram!",
			wantKind: SignalLinkSucceeded,
		},
		{
			name:     "ordinary output",
			line:     "starting up...",
			wantKind: SignalPassthrough,
		},
		{
			name:     "empty line",
			line:     "",
			wantKind: SignalPassthrough,
		},
		{
			// Terminal phrases win over a code on the same line so a
			// finished session can never be re-driven by its own output.
			name:     "terminal beats verify code",
			line:     "account successfully linked, verify code: XYZ",
			wantKind: SignalLinkSucceeded,
		},
		{
			name:     "no peer beats verify code",
			line:     "no peer IDs found for address 0xabc, verify code: XYZ",
			wantKind: SignalNoPeerFound,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			signal := Classify(test.line)
			if signal.Kind != test.wantKind {
				t.Fatalf("Classify(%q).Kind = %v, want %v", test.line, signal.Kind, test.wantKind)
			}
			if signal.Code != test.wantCode {
				t.Fatalf("Classify(%q).Code = %q, want %q", test.line, signal.Code, test.wantCode)
			}
			if signal.Line != test.line {
				t.Fatalf("Classify(%q).Line = %q, want the raw line", test.line, signal.Line)
			}
		})
	}
}
