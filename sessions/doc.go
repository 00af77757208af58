// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessions owns one supervised managed-channel connection per
// (operator, account) pair and drives each through the linking state
// machine: Linking (qr or phone) → Active → Closed.
//
// [Manager] is a stateful service object constructed once per
// process. At most one live connection exists per pair: the existence
// check and the handle's creation form a single logical step guarded
// by a per-pair mutex, so two concurrent StartSession calls resolve
// to exactly one connection. A duplicate StartSession is a no-op, not
// an error.
//
// Each session runs one event-loop goroutine consuming its
// connection's event stream. QR challenges are rendered to PNG and
// pushed to the operator (every challenge — the protocol rotates
// them); pairing codes are pushed as text; the connection-open event
// promotes the session to Active and persists its metadata,
// preserving the lifetime delete counter across relinks; the
// connection-close event is the only way a session leaves Active or
// abandons Linking. Failures in one session never propagate to
// another.
//
// The recovery sweep ([Manager.Recover], repeated by [Manager.Run])
// re-establishes a session for every account linked to every stored
// operator: sessions are expected to always be running for all
// configured accounts, so crash recovery needs no persisted intent.
package sessions
