// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package access gates every warden operation behind the operator
// registry and the passkey onboarding flow.
//
// Onboarding decouples "who may request" from "who decides": any
// principal can call [Access.RequestAccess], but the generated passkey
// is revealed only on the admin's control channel, and
// [Access.Verify] is a single atomic compare-and-consume — a passkey
// is valid for at most one verification attempt and is deleted on
// first successful use, so an intercepted key cannot be replayed.
// Passkeys optionally expire after a configured TTL; expired keys are
// indistinguishable from invalid ones.
//
// Admin-only registry commands bypass passkeys entirely and are gated
// by an exact string comparison of the caller identity against the
// configured admin identity.
package access
