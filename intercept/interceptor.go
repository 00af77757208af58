// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package intercept

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chatwarden/warden/control"
	"github.com/chatwarden/warden/lib/clock"
	"github.com/chatwarden/warden/store"
	"github.com/chatwarden/warden/transport"
)

// Review choices presented to the operator for each captured record.
const (
	ChoiceKeep  = "Keep"
	ChoicePurge = "Delete permanently"
)

// ErrUnknownRecord is returned by Resolve for record ids not present
// in the account's log (already resolved, or evicted by the FIFO
// bound).
var ErrUnknownRecord = errors.New("intercept: unknown record")

// Deleter is the slice of transport.Conn the interceptor needs.
type Deleter interface {
	DeleteMessage(ctx context.Context, key transport.MessageKey) error
}

// Interceptor applies the auto-delete policy and owns the audit log.
type Interceptor struct {
	// Store holds the per-account audit logs and delete counters.
	Store *store.Store

	// Notifier reports captures and exports kept messages.
	Notifier control.Notifier

	// Clock timestamps captures.
	Clock clock.Clock

	// AutoDelete is the global interception switch. Off, observed
	// messages pass through untouched.
	AutoDelete bool

	// LogCaptures controls whether captured messages are recorded in
	// the audit log. Deletion and notification happen regardless.
	LogCaptures bool

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

func (i *Interceptor) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}

// HandleOutgoing processes one outgoing message observed on an active
// session. Messages not sent by the supervised account are ignored.
func (i *Interceptor) HandleOutgoing(ctx context.Context, operatorID, account string, message transport.OutgoingMessage, conn Deleter) {
	if !i.AutoDelete || !message.Key.FromMe {
		return
	}

	logger := i.logger().With("account", account, "destination", message.Destination)

	if err := conn.DeleteMessage(ctx, message.Key); err != nil {
		// Best-effort capture: the record and the notice still go
		// out even when the remote delete failed.
		logger.Error("failed to delete outgoing message", "error", err)
	}

	if i.LogCaptures {
		record := store.DeletedMessage{
			ID:          uuid.NewString(),
			Destination: message.Destination,
			Body:        message.Body,
			CapturedAt:  i.Clock.Now(),
		}
		if err := i.Store.AppendDeleted(account, record); err != nil {
			// Durability loss must not go unnoticed (the operator
			// believes the message was captured).
			logger.Error("failed to record deleted message", "error", err)
			i.notify(ctx, operatorID, fmt.Sprintf("Warning: failed to record deleted message for %s: %v", account, err))
		}
	}

	if err := i.Store.IncrementDeleted(account); err != nil {
		logger.Error("failed to update delete counter", "error", err)
	}

	i.notify(ctx, operatorID, fmt.Sprintf("Outgoing message to %s auto-deleted.", message.Destination))
}

// Resolve applies an operator's review choice to one record. Both
// choices remove the record from the retained log; ChoiceKeep first
// exports the captured content back to the operator.
func (i *Interceptor) Resolve(ctx context.Context, operatorID, account, recordID, choice string) error {
	record, found, err := i.Store.RemoveDeleted(account, recordID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, recordID)
	}

	switch choice {
	case ChoiceKeep:
		i.notify(ctx, operatorID, fmt.Sprintf("Restored message to %s:\n%s", record.Destination, RenderBody(record)))
		i.notify(ctx, operatorID, "Message restored.")
	case ChoicePurge:
		i.notify(ctx, operatorID, "Message deleted permanently.")
	default:
		return fmt.Errorf("intercept: unknown review choice %q", choice)
	}
	return nil
}

// RenderBody returns the displayable content of a record, with the
// placeholder used for non-text captures.
func RenderBody(record store.DeletedMessage) string {
	if record.Body == nil {
		return "[Media/Unknown]"
	}
	return *record.Body
}

func (i *Interceptor) notify(ctx context.Context, operatorID, text string) {
	if err := i.Notifier.Notify(ctx, operatorID, text, nil); err != nil {
		i.logger().Error("failed to notify operator", "operator", operatorID, "error", err)
	}
}
