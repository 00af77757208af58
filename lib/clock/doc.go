// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects [Real]; tests inject [Fake] and drive time
// forward explicitly with Advance. Any warden function that would call
// time.Now or time.NewTicker takes a Clock parameter (or is a method
// on a struct with a Clock field) instead of calling the time package
// directly. This is what makes passkey expiry and the session recovery
// sweep deterministic under test.
package clock
