// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/chatwarden/warden/control"
	"github.com/chatwarden/warden/lib/clock"
	"github.com/chatwarden/warden/store"
)

// ErrInvalidPasskey is returned by Verify for unknown, mismatched, or
// expired passkeys. Deliberately one error for all three: a caller
// probing the verification endpoint learns nothing about which keys
// exist.
var ErrInvalidPasskey = errors.New("access: invalid or expired passkey")

// Access is the access-control service. Construct one per process
// with the dependency fields set; the zero value of the optional
// fields (Logger, PasskeyTTL) is usable.
type Access struct {
	// Store is the durable operator registry and passkey table.
	Store *store.Store

	// Notifier delivers passkeys and access notices to the admin.
	Notifier control.Notifier

	// Clock provides issuance timestamps and the expiry cutoff.
	Clock clock.Clock

	// AdminID is the admin operator's control-channel identity.
	AdminID string

	// PasskeyLength is the number of decimal digits per passkey.
	PasskeyLength int

	// PasskeyTTL bounds passkey validity. Zero means no expiry.
	PasskeyTTL time.Duration

	// LogActivity enables the per-operator activity log.
	LogActivity bool

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

func (a *Access) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// RequestAccess handles an access request from operatorID. For an
// already-registered operator this is an idempotent no-op returning
// an empty key: no new passkey, no duplicate admin notice. Otherwise
// a passkey is generated, stored, revealed to the admin, and
// returned.
func (a *Access) RequestAccess(ctx context.Context, operatorID string) (string, error) {
	if _, registered := a.Store.Operator(operatorID); registered {
		return "", nil
	}

	key, err := generatePasskey(a.PasskeyLength)
	if err != nil {
		return "", fmt.Errorf("generating passkey: %w", err)
	}
	if err := a.Store.PutPasskey(key, operatorID, a.Clock.Now()); err != nil {
		return "", err
	}

	notice := fmt.Sprintf("User %s requested access. Passkey: %s", operatorID, key)
	if err := a.Notifier.Notify(ctx, a.AdminID, notice, nil); err != nil {
		// The passkey is stored either way; the admin can still find
		// it in the logs if the control channel hiccuped.
		a.logger().Error("failed to notify admin of access request",
			"operator", operatorID,
			"error", err,
		)
	}

	a.logger().Info("passkey issued", "operator", operatorID)
	return key, nil
}

// Verify atomically checks and consumes a passkey for operatorID. On
// success the operator record is created (or re-activated) with
// Active set. On failure nothing changes and ErrInvalidPasskey is
// returned.
func (a *Access) Verify(ctx context.Context, operatorID, suppliedKey string) error {
	var notBefore time.Time
	if a.PasskeyTTL > 0 {
		notBefore = a.Clock.Now().Add(-a.PasskeyTTL)
	}

	passkey, consumed, err := a.Store.ConsumePasskey(suppliedKey, operatorID, notBefore)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidPasskey
	}

	operator, ok := a.Store.Operator(operatorID)
	if !ok {
		operator = store.Operator{ID: operatorID}
	}
	operator.Active = true
	if err := a.Store.PutOperator(operator); err != nil {
		// Reinstate the consumed key so the operator can retry after
		// the caller surfaces the persistence failure, instead of
		// re-running the whole request flow.
		if restoreErr := a.Store.PutPasskey(suppliedKey, operatorID, passkey.IssuedAt); restoreErr != nil {
			a.logger().Error("failed to reinstate passkey after persistence failure",
				"operator", operatorID,
				"error", restoreErr,
			)
		}
		return err
	}

	a.logger().Info("operator verified", "operator", operatorID)
	return nil
}

// IsAuthorized reports whether operatorID is a registered operator.
// Every command besides request/verify requires this to hold.
func (a *Access) IsAuthorized(operatorID string) bool {
	_, ok := a.Store.Operator(operatorID)
	return ok
}

// IsAdmin reports whether callerID is the configured admin identity.
func (a *Access) IsAdmin(callerID string) bool {
	return callerID == a.AdminID
}

// AddOperator registers an operator directly (admin path, no
// passkey). The record starts inactive. Returns false when the
// operator already exists.
func (a *Access) AddOperator(operatorID string) (bool, error) {
	if _, exists := a.Store.Operator(operatorID); exists {
		return false, nil
	}
	if err := a.Store.PutOperator(store.Operator{ID: operatorID}); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveOperator deletes an operator record, returning the removed
// record.
func (a *Access) RemoveOperator(operatorID string) (store.Operator, bool, error) {
	return a.Store.DeleteOperator(operatorID)
}

// ViewOperator returns one operator record.
func (a *Access) ViewOperator(operatorID string) (store.Operator, bool) {
	return a.Store.Operator(operatorID)
}

// ListOperators returns every operator record, ordered by id.
func (a *Access) ListOperators() []store.Operator {
	return a.Store.Operators()
}

// RecordActivity appends to an operator's activity log when activity
// logging is enabled.
func (a *Access) RecordActivity(operatorID, message string) error {
	if !a.LogActivity {
		return nil
	}
	return a.Store.AppendActivity(operatorID, a.Clock.Now(), message)
}

// NotifyAccessAttempt tells the admin that an unregistered principal
// tried to use warden.
func (a *Access) NotifyAccessAttempt(ctx context.Context, principalID string) {
	notice := fmt.Sprintf("User %s attempted access.", principalID)
	if err := a.Notifier.Notify(ctx, a.AdminID, notice, nil); err != nil {
		a.logger().Error("failed to notify admin of access attempt",
			"principal", principalID,
			"error", err,
		)
	}
}

// PruneExpiredPasskeys drops passkeys older than the TTL. A no-op
// when expiry is disabled.
func (a *Access) PruneExpiredPasskeys() error {
	if a.PasskeyTTL <= 0 {
		return nil
	}
	return a.Store.PrunePasskeys(a.Clock.Now().Add(-a.PasskeyTTL))
}

// generatePasskey returns a random numeric credential of the given
// length. Each digit is drawn independently from crypto/rand, so
// leading zeros are possible and the keyspace is exactly 10^length.
func generatePasskey(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("access: passkey length must be positive, got %d", length)
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = '0' + byte(n.Int64())
	}
	return string(digits), nil
}
