// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the contract between warden and the
// managed-channel protocol — the messaging network whose accounts
// warden links and supervises.
//
// The wire protocol itself (authentication handshakes, end-to-end
// encryption, QR/pairing-code generation) is an external
// collaborator. Warden consumes a [Connector] that opens one [Conn]
// per account; the Conn delivers lifecycle and traffic [Event] values
// on a channel and accepts DeleteMessage and Logout calls.
// [Credentials] is the durability callback: the protocol hands back
// updated credential state whenever it changes, and Save must
// complete before durability is assumed.
//
// [MemoryConnector] is the in-process implementation used by tests
// and the local harness: tests script connection events and observe
// delete/logout calls without any network.
package transport
