// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides CBOR encoding for the admin socket protocol.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical request or response always produces identical bytes.
// CBOR is self-delimiting, which lets the socket protocol run without
// a framing layer: each side decodes exactly one value per
// request-response cycle.
//
// Consumers import only this package, never fxamacker/cbor directly.
package codec
