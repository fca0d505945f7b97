// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the single-slot session supervisor at
// the core of linkbot.
//
// At most one linking process runs at any instant. Requesters arriving
// while the slot is occupied join a strict FIFO queue and are promoted
// in order as the slot frees. The supervisor owns the active session
// and the queue behind a single dispatcher goroutine: inbound
// transport messages, classified child-output signals, and eviction
// ticks all arrive as events on one channel, so no state transition
// ever interleaves with another.
//
// The child's stdout is read line by line and classified into
// semantic signals (see Classify): a detected verification code is
// written back to the child's stdin, while terminal signals
// (no-peer-found, link-succeeded) end the session. Every termination
// path (explicit stop, inactivity timeout, terminal signal, process
// exit) funnels through one stop-and-advance routine so cleanup and
// queue promotion are identical everywhere.
package supervisor
