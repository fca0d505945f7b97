// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"testing"
)

func TestQueueFIFOOrder(t *testing.T) {
	var queue Queue

	for i, requester := range []RequesterID{101, 102, 103} {
		position, err := queue.Enqueue(requester, "0xabc")
		if err != nil {
			t.Fatalf("Enqueue(%d): %v", requester, err)
		}
		if position != i+1 {
			t.Fatalf("Enqueue(%d) position = %d, want %d", requester, position, i+1)
		}
	}

	for _, want := range []RequesterID{101, 102, 103} {
		entry, ok := queue.DequeueNext()
		if !ok {
			t.Fatalf("DequeueNext: queue unexpectedly empty, want %d", want)
		}
		if entry.Requester != want {
			t.Fatalf("DequeueNext = %d, want %d", entry.Requester, want)
		}
	}

	if _, ok := queue.DequeueNext(); ok {
		t.Fatal("DequeueNext on empty queue returned an entry")
	}
}

func TestQueueRejectsDuplicates(t *testing.T) {
	var queue Queue

	if _, err := queue.Enqueue(7, "0xaaa"); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := queue.Enqueue(7, "0xbbb"); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("duplicate Enqueue error = %v, want ErrAlreadyQueued", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("Len = %d after duplicate enqueue, want 1", queue.Len())
	}
}

func TestQueueRemove(t *testing.T) {
	var queue Queue
	queue.Enqueue(1, "0xaaa")
	queue.Enqueue(2, "0xbbb")
	queue.Enqueue(3, "0xccc")

	if !queue.Remove(2) {
		t.Fatal("Remove(2) = false, want true")
	}
	if queue.Remove(2) {
		t.Fatal("second Remove(2) = true, want false")
	}
	if queue.Contains(2) {
		t.Fatal("Contains(2) after Remove")
	}

	// Remaining entries keep their relative order.
	first, _ := queue.DequeueNext()
	second, _ := queue.DequeueNext()
	if first.Requester != 1 || second.Requester != 3 {
		t.Fatalf("order after Remove = %d, %d, want 1, 3", first.Requester, second.Requester)
	}
}

func TestQueueRemoveMissing(t *testing.T) {
	var queue Queue
	if queue.Remove(99) {
		t.Fatal("Remove on empty queue = true")
	}
}
