// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for linkbot packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts are
// used; everything else runs against lib/clock's FakeClock.
//
// [SocketDir] creates a short-pathed temporary directory in /tmp for
// Unix domain sockets, which have a 108-byte path limit (sun_path in
// sockaddr_un) that deeply nested t.TempDir() paths can exceed.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
