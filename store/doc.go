// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is warden's durable state store: the operator
// registry, the passkey table, per-account session metadata,
// credential blobs, and per-account deleted-message logs.
//
// Storage is file-per-entity under a single state directory:
//
//	operators/<id>.cbor      one operator record
//	passkeys.cbor            the pending-passkey table
//	sessions/<account>.cbor  one session metadata record
//	deleted/<account>.cbor.zst  one audit log, zstd-compressed
//	credentials/<account>.age   one age-encrypted credential blob
//
// Entities are encoded with lib/codec (deterministic CBOR) and
// written atomically (temp file, fsync, rename), so a crash leaves
// either the old or the new version of an entity, never a torn one.
// All reads are served from an in-memory cache preloaded by [Open];
// every mutation is a read-modify-write of one entity under the store
// mutex, persisted before the mutex is released. Keeping writes
// entity-scoped is what allows concurrent command handling without
// lost updates — there is no whole-registry rewrite anywhere.
//
// Persistence failures are always returned to the caller; durability
// loss is never silent.
package store
