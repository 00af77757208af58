// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package control defines the contract between warden and the
// control-channel transport — the chat surface where human operators
// issue commands and receive notices.
//
// The transport itself (command parsing on the wire, message
// formatting, photo delivery) is an external collaborator. Warden
// consumes three primitives: an inbound stream of [Command] values, a
// [Notifier] for outbound text and images, and a [Prompter] for
// interactive labeled choices (link method selection, per-record
// keep/purge review). [Recorder] is the in-process implementation of
// Notifier and Prompter used by tests and the local harness.
package control
