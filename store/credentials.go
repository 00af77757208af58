// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chatwarden/warden/lib/sealed"
	"github.com/chatwarden/warden/transport"
)

// AccountCredentials returns the credential persistence handle for an
// account, suitable for passing to transport.Connector.Open. Blobs
// are age-encrypted to the store's keypair at rest; Save flushes to
// disk before returning, as the managed-channel protocol requires.
func (s *Store) AccountCredentials(account string) transport.Credentials {
	return &accountCredentials{store: s, account: account}
}

type accountCredentials struct {
	store   *Store
	account string
}

var _ transport.Credentials = (*accountCredentials)(nil)

func (c *accountCredentials) path() string {
	return filepath.Join(c.store.dir, "credentials", c.account+".age")
}

// Load decrypts and returns the stored blob, or nil when the account
// has never been linked.
func (c *accountCredentials) Load() ([]byte, error) {
	if err := validateID(c.account); err != nil {
		return nil, err
	}

	ciphertext, err := os.ReadFile(c.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials for %s: %w", c.account, err)
	}

	plaintext, err := sealed.Decrypt(ciphertext, c.store.keypair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting credentials for %s: %w", c.account, err)
	}
	return plaintext, nil
}

// Save encrypts and durably stores the blob.
func (c *accountCredentials) Save(blob []byte) error {
	if err := validateID(c.account); err != nil {
		return err
	}

	ciphertext, err := sealed.Encrypt(blob, c.store.keypair.PublicKey)
	if err != nil {
		return fmt.Errorf("encrypting credentials for %s: %w", c.account, err)
	}
	if err := writeFileAtomic(c.path(), ciphertext); err != nil {
		return fmt.Errorf("persisting credentials for %s: %w", c.account, err)
	}
	return nil
}

// RemoveCredentials deletes an account's stored credential blob, used
// when an operator unlinks the account. A no-op when absent.
func (s *Store) RemoveCredentials(account string) error {
	if err := validateID(account); err != nil {
		return err
	}
	path := filepath.Join(s.dir, "credentials", account+".age")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials for %s: %w", account, err)
	}
	return nil
}
