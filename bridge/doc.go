// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge routes control-channel commands to the access,
// session, and interception subsystems.
//
// [Bridge.Run] consumes a command stream and dispatches each command
// on its own goroutine, so an interactive flow blocked on an operator
// prompt never stalls the loop. Authorization is checked here, before
// any subsystem is touched: operator commands require a registered
// operator, admin commands require the configured admin identity.
// Per-account serialization is not this package's concern; it lives
// in [github.com/chatwarden/warden/sessions].
package bridge
