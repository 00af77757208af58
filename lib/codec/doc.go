// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides warden's standard CBOR encoding.
//
// All durable state (operator records, the passkey table, session
// metadata, deleted-message logs) is persisted as CBOR through
// [Marshal] and [Unmarshal]. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2), so the same logical entity always
// produces identical bytes; the decoder ignores unknown fields so
// older state files remain readable after schema additions.
package codec
