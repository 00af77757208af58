// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/chatwarden/warden/lib/codec"
)

// Audit logs are text-heavy and append-mostly, so the on-disk form is
// zstd-compressed CBOR. Package-level coder instances are reused
// across writes; both are safe for concurrent use via EncodeAll and
// DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// AppendDeleted appends a record to an account's deleted-message log,
// evicting the oldest records past the configured limit (bounded
// FIFO). Eviction is independent of operator review.
func (s *Store) AppendDeleted(account string, record DeletedMessage) error {
	if err := validateID(account); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.deleted[account], record)
	if len(log) > s.limit {
		log = log[len(log)-s.limit:]
	}
	if err := s.persistDeletedLocked(account, log); err != nil {
		return err
	}
	s.deleted[account] = log
	return nil
}

// DeletedMessages returns an account's deleted-message log in capture
// order.
func (s *Store) DeletedMessages(account string) []DeletedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeletedMessage(nil), s.deleted[account]...)
}

// RemoveDeleted removes one record by id, returning the removed
// record. The relative order of the remainder is preserved.
func (s *Store) RemoveDeleted(account, recordID string) (DeletedMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.deleted[account]
	for i, record := range log {
		if record.ID != recordID {
			continue
		}
		updated := append(append([]DeletedMessage(nil), log[:i]...), log[i+1:]...)
		if err := s.persistDeletedLocked(account, updated); err != nil {
			return DeletedMessage{}, false, err
		}
		s.deleted[account] = updated
		return record, true, nil
	}
	return DeletedMessage{}, false, nil
}

// persistDeletedLocked writes an account's full log. An empty log
// removes the file.
func (s *Store) persistDeletedLocked(account string, log []DeletedMessage) error {
	path := s.deletedPath(account)
	if len(log) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing deleted-message log for %s: %w", account, err)
		}
		return nil
	}

	data, err := codec.Marshal(log)
	if err != nil {
		return fmt.Errorf("encoding deleted-message log for %s: %w", account, err)
	}
	if err := writeFileAtomic(path, zstdEncoder.EncodeAll(data, nil)); err != nil {
		return fmt.Errorf("persisting deleted-message log for %s: %w", account, err)
	}
	return nil
}

// preloadDeleted loads every account's log during Open.
func (s *Store) preloadDeleted() error {
	accounts, err := listEntityFiles(filepath.Join(s.dir, "deleted"), ".cbor.zst")
	if err != nil {
		return err
	}
	for _, account := range accounts {
		compressed, err := os.ReadFile(s.deletedPath(account))
		if err != nil {
			return fmt.Errorf("loading deleted-message log for %s: %w", account, err)
		}
		data, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return fmt.Errorf("decompressing deleted-message log for %s: %w", account, err)
		}
		var log []DeletedMessage
		if err := codec.Unmarshal(data, &log); err != nil {
			return fmt.Errorf("decoding deleted-message log for %s: %w", account, err)
		}
		s.deleted[account] = log
	}
	return nil
}

func (s *Store) deletedPath(account string) string {
	return filepath.Join(s.dir, "deleted", account+".cbor.zst")
}
