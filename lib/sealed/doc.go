// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for warden credential blobs.
//
// Every linked account carries a managed-channel credential blob that
// must never sit on disk in plaintext. The store encrypts each blob to
// the deployment's x25519 keypair with [Encrypt] before writing and
// decrypts with [Decrypt] on load. Ciphertext is the raw age format —
// the blobs live in their own files, so no transport encoding is
// applied.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair
//   - [Encrypt] / [Decrypt] -- seal and open a blob
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
package sealed
