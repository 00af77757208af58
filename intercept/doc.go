// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package intercept watches outgoing traffic on active sessions,
// applies the auto-delete policy, and maintains the recoverable
// deleted-message audit log.
//
// When auto-delete is enabled, every outgoing message observed on an
// active connection is deleted on the managed channel and recorded in
// the owning account's audit log. The capture is best-effort by
// design: a failed remote delete is logged and surfaced but never
// aborts the audit append or the operator notification — the log
// records what was intercepted, not proof of successful remote
// deletion. Messages with no renderable body are recorded with a nil
// body rather than skipped, keeping the log a complete sequential
// record.
//
// Review resolves records one of two ways. [ChoicePurge] discards the
// record. [ChoiceKeep] first exports the captured content back to the
// operator, then removes the record from the retained log — keeping a
// message means getting it back, not leaving it in the queue.
package intercept
