// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"regexp"
	"strings"
)

// SignalKind identifies the semantic meaning of one child output line.
type SignalKind int

const (
	// SignalPassthrough is a line with no control meaning.
	SignalPassthrough SignalKind = iota

	// SignalVerifyCode is a line announcing a verification code that
	// should be written back to the child's stdin.
	SignalVerifyCode

	// SignalNoPeerFound is a terminal line: the target address has no
	// registered peer IDs on-chain.
	SignalNoPeerFound

	// SignalLinkSucceeded is a terminal line: the accounts were linked.
	SignalLinkSucceeded
)

// Signal is the classification of a single child output line. Code is
// set only for SignalVerifyCode; Line always carries the raw line.
type Signal struct {
	Kind SignalKind
	Code string
	Line string
}

// verifyCodePattern matches lines like "Your verify code: ABC-123".
// The code token is alphanumeric with hyphens.
var verifyCodePattern = regexp.MustCompile(`(?i)verify\s+code[:\s]+([A-Za-z0-9-]+)`)

// noPeerPhrase appears when the target address is not registered.
const noPeerPhrase = "no peer ids found for address"

// successPhrases are the known link-success announcements. Matching is
// case-insensitive substring.
var successPhrases = []string{
	"account successfully linked",
	"accounts linked successfully",
	"you can now use both discord and telegram",
}

// Classify maps one raw output line to its Signal. Deterministic and
// side-effect-free.
//
// Terminal signals take precedence over a verification code found on
// the same line: once the child announces failure or success, the
// session is over and writing a code back would be pointless.
func Classify(line string) Signal {
	lower := strings.ToLower(line)

	if strings.Contains(lower, noPeerPhrase) {
		return Signal{Kind: SignalNoPeerFound, Line: line}
	}

	for _, phrase := range successPhrases {
		if strings.Contains(lower, phrase) {
			return Signal{Kind: SignalLinkSucceeded, Line: line}
		}
	}

	if match := verifyCodePattern.FindStringSubmatch(line); match != nil {
		return Signal{Kind: SignalVerifyCode, Code: match[1], Line: line}
	}

	return Signal{Kind: SignalPassthrough, Line: line}
}
