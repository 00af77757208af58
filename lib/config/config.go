// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for warden.
type Config struct {
	// AdminID is the control-channel identity of the single admin
	// operator. Admin-only commands compare the caller identity to
	// this value with an exact string match.
	AdminID string `yaml:"admin_id"`

	// StateDir is the directory holding all durable state: operator
	// records, the passkey table, session metadata, credential blobs,
	// and deleted-message logs.
	StateDir string `yaml:"state_dir"`

	// PasskeyLength is the number of decimal digits in a generated
	// passkey. Default: 6.
	PasskeyLength int `yaml:"passkey_length"`

	// PasskeyTTL bounds how long an unconsumed passkey stays valid.
	// Zero means passkeys never expire.
	PasskeyTTL time.Duration `yaml:"passkey_ttl"`

	// DeletedMessagesLimit caps each account's deleted-message log.
	// When the log exceeds the limit, the oldest records are evicted
	// first. Default: 1000.
	DeletedMessagesLimit int `yaml:"deleted_messages_limit"`

	// AutoDelete enables interception of outgoing messages on active
	// sessions: each observed message is deleted on the managed
	// channel and recorded in the audit log.
	AutoDelete bool `yaml:"auto_delete"`

	// LogDeletedMessages controls whether intercepted messages are
	// recorded in the audit log. Default: true.
	LogDeletedMessages bool `yaml:"log_deleted_messages"`

	// LogOperatorActivity controls whether operator commands are
	// appended to the per-operator activity log. Default: true.
	LogOperatorActivity bool `yaml:"log_operator_activity"`

	// NotifyAdminOnAccessAttempt controls whether the admin is
	// notified when an unregistered principal issues /start.
	// Default: true.
	NotifyAdminOnAccessAttempt bool `yaml:"notify_admin_on_access_attempt"`

	// RecoveryInterval is how often the session manager re-checks
	// that a session is running for every linked account. Zero
	// disables the periodic sweep (the startup sweep always runs).
	// Default: 6s.
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

// Default returns the default configuration. The config file is still
// required — these exist so unset fields have the values the original
// deployment shipped with, not as a substitute for a file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		StateDir:                   filepath.Join(homeDir, ".local", "share", "warden"),
		PasskeyLength:              6,
		PasskeyTTL:                 0,
		DeletedMessagesLimit:       1000,
		AutoDelete:                 false,
		LogDeletedMessages:         true,
		LogOperatorActivity:        true,
		NotifyAdminOnAccessAttempt: true,
		RecoveryInterval:           6 * time.Second,
	}
}

// Load loads configuration from the path in the WARDEN_CONFIG
// environment variable. There are no fallbacks: if WARDEN_CONFIG is
// not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("WARDEN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WARDEN_CONFIG environment variable not set; " +
			"set it to the path of your warden.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file's values over [Default]. Environment variables do not override
// config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.AdminID == "" {
		errs = append(errs, fmt.Errorf("admin_id is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}
	if c.PasskeyLength < 4 {
		errs = append(errs, fmt.Errorf("passkey_length must be at least 4, got %d", c.PasskeyLength))
	}
	if c.PasskeyTTL < 0 {
		errs = append(errs, fmt.Errorf("passkey_ttl must not be negative"))
	}
	if c.DeletedMessagesLimit < 1 {
		errs = append(errs, fmt.Errorf("deleted_messages_limit must be at least 1, got %d", c.DeletedMessagesLimit))
	}
	if c.RecoveryInterval < 0 {
		errs = append(errs, fmt.Errorf("recovery_interval must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
