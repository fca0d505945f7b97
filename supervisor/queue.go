// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "errors"

// RequesterID identifies the chat on whose behalf a session runs.
// For the Telegram transport this is the chat ID.
type RequesterID int64

// ErrAlreadyQueued is returned by Queue.Enqueue when the requester is
// already waiting for the slot.
var ErrAlreadyQueued = errors.New("supervisor: requester already queued")

// Entry is one waiting requester and the address payload their session
// will be started with.
type Entry struct {
	Requester RequesterID
	Address   string
}

// Queue is the FIFO waiting list for the single session slot. Strict
// arrival order, no priorities. A requester appears at most once.
//
// Queue is not safe for concurrent use; it is owned and mutated only
// by the supervisor's dispatcher goroutine.
type Queue struct {
	entries []Entry
}

// Enqueue appends a requester and returns their 1-based position.
// Returns ErrAlreadyQueued if the requester is already waiting.
func (q *Queue) Enqueue(requester RequesterID, address string) (int, error) {
	if q.Contains(requester) {
		return 0, ErrAlreadyQueued
	}
	q.entries = append(q.entries, Entry{Requester: requester, Address: address})
	return len(q.entries), nil
}

// DequeueNext removes and returns the head entry. The second return is
// false when the queue is empty.
func (q *Queue) DequeueNext() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// Remove deletes the given requester from the queue. Returns true if
// an entry was removed, false if the requester was not queued.
func (q *Queue) Remove(requester RequesterID) bool {
	for i, entry := range q.entries {
		if entry.Requester == requester {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether the requester is waiting in the queue.
func (q *Queue) Contains(requester RequesterID) bool {
	for _, entry := range q.entries {
		if entry.Requester == requester {
			return true
		}
	}
	return false
}

// Len returns the number of waiting requesters.
func (q *Queue) Len() int { return len(q.entries) }
