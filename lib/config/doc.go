// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for warden.
//
// Configuration is loaded from a single file specified by either the
// WARDEN_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The file carries the admin identity, the state directory, and the
// policy knobs: passkey length and optional expiry, the per-account
// deleted-message retention limit, the auto-delete switch, and the
// session recovery sweep interval. [Default] supplies the values the
// original deployment shipped with; [Config.Validate] rejects
// configurations the rest of the process would misbehave under.
//
// This package depends on no other warden packages.
package config
