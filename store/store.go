// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatwarden/warden/lib/codec"
	"github.com/chatwarden/warden/lib/sealed"
)

// ActivityEntry is one timestamped event in an operator's activity
// log.
type ActivityEntry struct {
	Time    time.Time `cbor:"time"`
	Message string    `cbor:"message"`
}

// Operator is one registered operator.
type Operator struct {
	// ID is the operator's control-channel identity. Opaque.
	ID string `cbor:"id"`

	// Active is the authorization flag. Operators created through
	// passkey verification are active; admin-added operators start
	// inactive until they verify.
	Active bool `cbor:"active"`

	// Accounts lists the managed-channel accounts linked to this
	// operator.
	Accounts []string `cbor:"accounts"`

	// Activity is the ordered activity log.
	Activity []ActivityEntry `cbor:"activity"`
}

// Passkey is one pending access credential. A passkey maps to exactly
// one operator identity and is consumed on first successful use.
type Passkey struct {
	OperatorID string    `cbor:"operator_id"`
	IssuedAt   time.Time `cbor:"issued_at"`
}

// SessionMeta is the durable metadata for one linked account. The
// runtime connection handle is never persisted; only this record
// survives restarts.
type SessionMeta struct {
	Account    string `cbor:"account"`
	OperatorID string `cbor:"operator_id"`
	Status     string `cbor:"status"`

	// MessagesDeleted counts audit-log captures across the account's
	// lifetime, surviving relinks.
	MessagesDeleted int `cbor:"messages_deleted"`
}

// DeletedMessage is one captured outgoing message. Immutable once
// appended; removed only by operator review or FIFO eviction.
type DeletedMessage struct {
	// ID is the record id (not the protocol message id).
	ID string `cbor:"id"`

	// Destination is the remote identity the message was sent to.
	Destination string `cbor:"destination"`

	// Body is the text content, nil for non-text content. Nil bodies
	// are recorded rather than omitted so the log stays a complete
	// sequential record.
	Body *string `cbor:"body,omitempty"`

	CapturedAt time.Time `cbor:"captured_at"`
}

// Options configures a Store.
type Options struct {
	// Keypair encrypts credential blobs at rest. Required.
	Keypair *sealed.Keypair

	// DeletedMessagesLimit caps each account's audit log; the oldest
	// records are evicted first past the limit. Must be positive.
	DeletedMessagesLimit int
}

// Store is the durable state store. Safe for concurrent use: every
// mutation is a read-modify-write of a single entity under the store
// mutex and is persisted before the mutex is released.
type Store struct {
	dir     string
	keypair *sealed.Keypair
	limit   int

	mu        sync.Mutex
	operators map[string]Operator
	passkeys  map[string]Passkey
	sessions  map[string]SessionMeta
	deleted   map[string][]DeletedMessage
}

// Open opens (creating if necessary) the store rooted at dir and
// preloads every entity into the in-memory cache.
func Open(dir string, options Options) (*Store, error) {
	if options.Keypair == nil {
		return nil, fmt.Errorf("store: a credential keypair is required")
	}
	if options.DeletedMessagesLimit < 1 {
		return nil, fmt.Errorf("store: deleted messages limit must be positive, got %d", options.DeletedMessagesLimit)
	}

	for _, sub := range []string{"operators", "sessions", "deleted", "credentials"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	s := &Store{
		dir:       dir,
		keypair:   options.Keypair,
		limit:     options.DeletedMessagesLimit,
		operators: make(map[string]Operator),
		passkeys:  make(map[string]Passkey),
		sessions:  make(map[string]SessionMeta),
		deleted:   make(map[string][]DeletedMessage),
	}

	if err := s.preload(); err != nil {
		return nil, err
	}
	return s, nil
}

// preload reads every persisted entity into the cache.
func (s *Store) preload() error {
	operatorIDs, err := listEntityFiles(filepath.Join(s.dir, "operators"), ".cbor")
	if err != nil {
		return err
	}
	for _, id := range operatorIDs {
		var operator Operator
		if err := readEntity(s.operatorPath(id), &operator); err != nil {
			return fmt.Errorf("loading operator %s: %w", id, err)
		}
		s.operators[id] = operator
	}

	passkeyPath := filepath.Join(s.dir, "passkeys.cbor")
	if _, err := os.Stat(passkeyPath); err == nil {
		if err := readEntity(passkeyPath, &s.passkeys); err != nil {
			return fmt.Errorf("loading passkey table: %w", err)
		}
	}

	accounts, err := listEntityFiles(filepath.Join(s.dir, "sessions"), ".cbor")
	if err != nil {
		return err
	}
	for _, account := range accounts {
		var meta SessionMeta
		if err := readEntity(s.sessionPath(account), &meta); err != nil {
			return fmt.Errorf("loading session metadata for %s: %w", account, err)
		}
		s.sessions[account] = meta
	}

	return s.preloadDeleted()
}

// cloneOperator deep-copies the slice fields. Snapshot accessors
// return clones so a later mutation of the stored record can never
// write through a snapshot's backing array.
func cloneOperator(operator Operator) Operator {
	operator.Accounts = append([]string(nil), operator.Accounts...)
	operator.Activity = append([]ActivityEntry(nil), operator.Activity...)
	return operator
}

// Operator returns the operator record for id.
func (s *Store) Operator(id string) (Operator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	operator, ok := s.operators[id]
	return cloneOperator(operator), ok
}

// Operators returns every operator record, ordered by id.
func (s *Store) Operators() []Operator {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]Operator, 0, len(s.operators))
	for _, operator := range s.operators {
		all = append(all, cloneOperator(operator))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// PutOperator stores an operator record.
func (s *Store) PutOperator(operator Operator) error {
	if err := validateID(operator.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeEntity(s.operatorPath(operator.ID), operator); err != nil {
		return fmt.Errorf("persisting operator %s: %w", operator.ID, err)
	}
	s.operators[operator.ID] = operator
	return nil
}

// DeleteOperator removes an operator record, returning the removed
// record.
func (s *Store) DeleteOperator(id string) (Operator, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	operator, ok := s.operators[id]
	if !ok {
		return Operator{}, false, nil
	}
	if err := os.Remove(s.operatorPath(id)); err != nil && !os.IsNotExist(err) {
		return Operator{}, false, fmt.Errorf("removing operator %s: %w", id, err)
	}
	delete(s.operators, id)
	return operator, true, nil
}

// AppendActivity appends a timestamped entry to an operator's
// activity log. A no-op for unknown operators.
func (s *Store) AppendActivity(id string, at time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	operator, ok := s.operators[id]
	if !ok {
		return nil
	}
	operator.Activity = append(operator.Activity, ActivityEntry{Time: at, Message: message})
	if err := writeEntity(s.operatorPath(id), operator); err != nil {
		return fmt.Errorf("persisting operator %s: %w", id, err)
	}
	s.operators[id] = operator
	return nil
}

// LinkAccount records an account against an operator. Idempotent.
func (s *Store) LinkAccount(operatorID, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	operator, ok := s.operators[operatorID]
	if !ok {
		return fmt.Errorf("store: unknown operator %s", operatorID)
	}
	for _, linked := range operator.Accounts {
		if linked == account {
			return nil
		}
	}
	operator.Accounts = append(operator.Accounts, account)
	if err := writeEntity(s.operatorPath(operatorID), operator); err != nil {
		return fmt.Errorf("persisting operator %s: %w", operatorID, err)
	}
	s.operators[operatorID] = operator
	return nil
}

// UnlinkAccount removes an account from an operator's list. A no-op
// when absent.
func (s *Store) UnlinkAccount(operatorID, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	operator, ok := s.operators[operatorID]
	if !ok {
		return nil
	}
	// Filter into a fresh slice: an in-place rewrite would write
	// through the backing array shared with caller-held copies of the
	// record.
	kept := make([]string, 0, len(operator.Accounts))
	for _, linked := range operator.Accounts {
		if linked != account {
			kept = append(kept, linked)
		}
	}
	if len(kept) == len(operator.Accounts) {
		return nil
	}
	operator.Accounts = kept
	if err := writeEntity(s.operatorPath(operatorID), operator); err != nil {
		return fmt.Errorf("persisting operator %s: %w", operatorID, err)
	}
	s.operators[operatorID] = operator
	return nil
}

// PutPasskey stores a pending passkey for an operator.
func (s *Store) PutPasskey(key, operatorID string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.passkeys[key] = Passkey{OperatorID: operatorID, IssuedAt: issuedAt}
	if err := s.persistPasskeysLocked(); err != nil {
		delete(s.passkeys, key)
		return err
	}
	return nil
}

// ConsumePasskey atomically verifies and deletes a passkey, returning
// the consumed record. It succeeds only when key maps exactly to
// operatorID and was issued after notBefore (pass the zero time to
// disable the expiry check). On failure nothing changes and no
// passkey is consumed.
func (s *Store) ConsumePasskey(key, operatorID string, notBefore time.Time) (Passkey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	passkey, ok := s.passkeys[key]
	if !ok || passkey.OperatorID != operatorID {
		return Passkey{}, false, nil
	}
	if !notBefore.IsZero() && passkey.IssuedAt.Before(notBefore) {
		// Expired: drop the stale entry, the verification still
		// fails.
		delete(s.passkeys, key)
		if err := s.persistPasskeysLocked(); err != nil {
			return Passkey{}, false, err
		}
		return Passkey{}, false, nil
	}

	delete(s.passkeys, key)
	if err := s.persistPasskeysLocked(); err != nil {
		s.passkeys[key] = passkey
		return Passkey{}, false, err
	}
	return passkey, true, nil
}

// PrunePasskeys drops every passkey issued before the cutoff.
func (s *Store) PrunePasskeys(before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := false
	for key, passkey := range s.passkeys {
		if passkey.IssuedAt.Before(before) {
			delete(s.passkeys, key)
			pruned = true
		}
	}
	if !pruned {
		return nil
	}
	return s.persistPasskeysLocked()
}

// PasskeyCount returns the number of pending passkeys.
func (s *Store) PasskeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.passkeys)
}

func (s *Store) persistPasskeysLocked() error {
	if err := writeEntity(filepath.Join(s.dir, "passkeys.cbor"), s.passkeys); err != nil {
		return fmt.Errorf("persisting passkey table: %w", err)
	}
	return nil
}

// SessionMeta returns the durable session metadata for an account.
func (s *Store) SessionMeta(account string) (SessionMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.sessions[account]
	return meta, ok
}

// PutSessionMeta stores session metadata for an account.
func (s *Store) PutSessionMeta(meta SessionMeta) error {
	if err := validateID(meta.Account); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeEntity(s.sessionPath(meta.Account), meta); err != nil {
		return fmt.Errorf("persisting session metadata for %s: %w", meta.Account, err)
	}
	s.sessions[meta.Account] = meta
	return nil
}

// IncrementDeleted bumps the account's lifetime delete counter. A
// no-op for accounts with no session metadata.
func (s *Store) IncrementDeleted(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.sessions[account]
	if !ok {
		return nil
	}
	meta.MessagesDeleted++
	if err := writeEntity(s.sessionPath(account), meta); err != nil {
		return fmt.Errorf("persisting session metadata for %s: %w", account, err)
	}
	s.sessions[account] = meta
	return nil
}

func (s *Store) operatorPath(id string) string {
	return filepath.Join(s.dir, "operators", id+".cbor")
}

func (s *Store) sessionPath(account string) string {
	return filepath.Join(s.dir, "sessions", account+".cbor")
}

// validateID rejects identifiers that would escape the entity
// directory when used as a file name.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("store: empty identifier")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("store: invalid identifier %q", id)
	}
	return nil
}

// listEntityFiles returns the entity ids (file names minus suffix) in
// a directory.
func listEntityFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, suffix))
	}
	return ids, nil
}

// readEntity decodes one CBOR entity file into v.
func readEntity(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, v)
}

// writeEntity encodes v and writes it atomically: temp file in the
// same directory, fsync, rename. A crash leaves the old or the new
// version, never a torn file.
func writeEntity(path string, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
