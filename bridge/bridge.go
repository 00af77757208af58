// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chatwarden/warden/access"
	"github.com/chatwarden/warden/control"
	"github.com/chatwarden/warden/intercept"
	"github.com/chatwarden/warden/sessions"
	"github.com/chatwarden/warden/store"
	"github.com/chatwarden/warden/transport"
)

// Linking choices offered after /link.
const (
	choiceLinkQR    = "QR code"
	choiceLinkPhone = "Phone number"
	choiceUnlink    = "Unlink"
)

// Bridge routes control-channel commands. All fields except Logger
// are required.
type Bridge struct {
	// Access gates every command and owns the operator registry.
	Access *access.Access

	// Sessions owns the managed-channel connections.
	Sessions *sessions.Manager

	// Interceptor resolves deleted-message review choices.
	Interceptor *intercept.Interceptor

	// Store supplies operator account lists and audit logs for the
	// review flow.
	Store *store.Store

	// Notifier delivers command responses.
	Notifier control.Notifier

	// Prompter presents the interactive linking and review choices.
	Prompter control.Prompter

	// NotifyAccessAttempts forwards unregistered /start attempts to
	// the admin.
	NotifyAccessAttempts bool

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	wg sync.WaitGroup
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Run consumes commands until the channel closes or ctx is cancelled,
// then waits for in-flight handlers to finish. Each command runs on
// its own goroutine: interactive flows block on operator prompts, and
// one stuck prompt must not stall unrelated commands.
func (b *Bridge) Run(ctx context.Context, commands <-chan control.Command) {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case command, ok := <-commands:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.Handle(ctx, command)
			}()
		}
	}
}

// Handle dispatches a single command. Exported for the local harness
// and tests; Run is the production entry point.
func (b *Bridge) Handle(ctx context.Context, command control.Command) {
	name := strings.TrimPrefix(command.Name, "/")
	args := strings.TrimSpace(command.Args)

	b.logger().Debug("command received",
		"sender", command.Sender,
		"command", name)

	switch name {
	case "start":
		b.handleStart(ctx, command.Sender)
	case "request_passkey":
		b.handleRequestPasskey(ctx, command.Sender)
	case "verify":
		b.handleVerify(ctx, command.Sender, args)
	case "link":
		b.handleLink(ctx, command.Sender, args)
	case "deleted_messages":
		b.handleDeletedMessages(ctx, command.Sender)
	case "add_user":
		b.handleAddUser(ctx, command.Sender, args)
	case "remove_user":
		b.handleRemoveUser(ctx, command.Sender, args)
	case "view_user":
		b.handleViewUser(ctx, command.Sender, args)
	case "list_users":
		b.handleListUsers(ctx, command.Sender)
	default:
		b.notify(ctx, command.Sender, fmt.Sprintf("Unknown command: /%s", name))
	}
}

func (b *Bridge) handleStart(ctx context.Context, sender string) {
	if !b.Access.IsAuthorized(sender) {
		b.notify(ctx, sender, "You are not registered. Request access from the admin.")
		if b.NotifyAccessAttempts {
			b.Access.NotifyAccessAttempt(ctx, sender)
		}
		return
	}
	b.notify(ctx, sender, "Welcome! You can link/unlink accounts and review deleted messages.")
	b.recordActivity(sender, "started a control session")
}

func (b *Bridge) handleRequestPasskey(ctx context.Context, sender string) {
	key, err := b.Access.RequestAccess(ctx, sender)
	if err != nil {
		b.notifyStorageFailure(ctx, sender, err)
		return
	}
	// Registered senders get no new passkey and no response, matching
	// the idempotent no-op contract.
	if key == "" {
		return
	}
	b.notify(ctx, sender, "Request sent to admin. Await passkey.")
}

func (b *Bridge) handleVerify(ctx context.Context, sender, args string) {
	key := firstField(args)
	if key == "" {
		b.notify(ctx, sender, "Usage: /verify <passkey>")
		return
	}
	switch err := b.Access.Verify(ctx, sender, key); {
	case err == nil:
		b.notify(ctx, sender, "Access granted!")
		b.recordActivity(sender, "verified a passkey")
	case errors.Is(err, access.ErrInvalidPasskey):
		b.notify(ctx, sender, "Invalid or expired passkey!")
	default:
		b.notifyStorageFailure(ctx, sender, err)
	}
}

func (b *Bridge) handleLink(ctx context.Context, sender, args string) {
	if !b.Access.IsAuthorized(sender) {
		b.notify(ctx, sender, "You are not authorized.")
		return
	}
	account := firstField(args)
	if account == "" {
		b.notify(ctx, sender, "Usage: /link <account>")
		return
	}

	prompt := fmt.Sprintf("Choose how to link account %s:", account)
	choice, err := b.Prompter.Prompt(ctx, sender, prompt, []string{choiceLinkQR, choiceLinkPhone, choiceUnlink})
	if err != nil {
		b.logger().Warn("linking prompt failed",
			"operator", sender,
			"account", account,
			"error", err)
		return
	}

	switch choice {
	case choiceLinkQR:
		b.notify(ctx, sender, fmt.Sprintf("Processing QR linking for %s...", account))
		if err := b.Sessions.StartSession(ctx, sender, account, transport.LinkQR); err == nil {
			b.recordActivity(sender, fmt.Sprintf("started QR linking for %s", account))
		}
	case choiceLinkPhone:
		b.notify(ctx, sender, fmt.Sprintf("Processing phone linking for %s...", account))
		if err := b.Sessions.StartSession(ctx, sender, account, transport.LinkPhone); err == nil {
			b.recordActivity(sender, fmt.Sprintf("started phone linking for %s", account))
		}
	case choiceUnlink:
		b.notify(ctx, sender, fmt.Sprintf("Unlinking account %s...", account))
		if err := b.Sessions.StopSession(ctx, sender, account); err != nil {
			b.notifyStorageFailure(ctx, sender, err)
			return
		}
		b.recordActivity(sender, fmt.Sprintf("unlinked %s", account))
	default:
		b.logger().Warn("unexpected linking choice",
			"operator", sender,
			"choice", choice)
	}
}

func (b *Bridge) handleDeletedMessages(ctx context.Context, sender string) {
	if !b.Access.IsAuthorized(sender) {
		b.notify(ctx, sender, "You are not authorized.")
		return
	}

	operator, _ := b.Access.ViewOperator(sender)
	reviewed := 0
	for _, account := range operator.Accounts {
		for _, record := range b.Store.DeletedMessages(account) {
			reviewed++
			text := fmt.Sprintf("Message %d to %s:\n%s",
				reviewed, record.Destination, intercept.RenderBody(record))
			choice, err := b.Prompter.Prompt(ctx, sender, text, []string{intercept.ChoiceKeep, intercept.ChoicePurge})
			if err != nil {
				b.logger().Warn("review prompt failed",
					"operator", sender,
					"account", account,
					"error", err)
				return
			}
			err = b.Interceptor.Resolve(ctx, sender, account, record.ID, choice)
			switch {
			case errors.Is(err, intercept.ErrUnknownRecord):
				// Evicted by the FIFO bound or resolved from a
				// concurrent review; nothing left to do.
			case err != nil:
				b.notifyStorageFailure(ctx, sender, err)
			}
		}
	}
	if reviewed == 0 {
		b.notify(ctx, sender, "No deleted messages.")
	}
}

func (b *Bridge) handleAddUser(ctx context.Context, sender, args string) {
	if !b.requireAdmin(ctx, sender) {
		return
	}
	target := firstField(args)
	if target == "" {
		b.notify(ctx, sender, "Usage: /add_user <id>")
		return
	}
	added, err := b.Access.AddOperator(target)
	if err != nil {
		b.notifyStorageFailure(ctx, sender, err)
		return
	}
	if !added {
		b.notify(ctx, sender, fmt.Sprintf("User %s already exists.", target))
		return
	}
	b.notify(ctx, sender, fmt.Sprintf("User %s added successfully.", target))
}

func (b *Bridge) handleRemoveUser(ctx context.Context, sender, args string) {
	if !b.requireAdmin(ctx, sender) {
		return
	}
	target := firstField(args)
	if target == "" {
		b.notify(ctx, sender, "Usage: /remove_user <id>")
		return
	}
	_, removed, err := b.Access.RemoveOperator(target)
	if err != nil {
		b.notifyStorageFailure(ctx, sender, err)
		return
	}
	if !removed {
		b.notify(ctx, sender, "User not found.")
		return
	}
	b.notify(ctx, sender, fmt.Sprintf("User %s removed successfully.", target))
}

func (b *Bridge) handleViewUser(ctx context.Context, sender, args string) {
	if !b.requireAdmin(ctx, sender) {
		return
	}
	target := firstField(args)
	if target == "" {
		b.notify(ctx, sender, "Usage: /view_user <id>")
		return
	}
	operator, found := b.Access.ViewOperator(target)
	if !found {
		b.notify(ctx, sender, "User not found.")
		return
	}
	b.notify(ctx, sender, describeOperator(operator))
}

func (b *Bridge) handleListUsers(ctx context.Context, sender string) {
	if !b.requireAdmin(ctx, sender) {
		return
	}
	operators := b.Access.ListOperators()
	if len(operators) == 0 {
		b.notify(ctx, sender, "No users found.")
		return
	}
	lines := make([]string, 0, len(operators))
	for _, operator := range operators {
		lines = append(lines, describeOperator(operator))
	}
	b.notify(ctx, sender, strings.Join(lines, "\n"))
}

func (b *Bridge) requireAdmin(ctx context.Context, sender string) bool {
	if b.Access.IsAdmin(sender) {
		return true
	}
	b.notify(ctx, sender, "You are not authorized.")
	return false
}

func (b *Bridge) recordActivity(operatorID, message string) {
	if err := b.Access.RecordActivity(operatorID, message); err != nil {
		b.logger().Warn("recording operator activity failed",
			"operator", operatorID,
			"error", err)
	}
}

func (b *Bridge) notify(ctx context.Context, recipient, text string) {
	if err := b.Notifier.Notify(ctx, recipient, text, nil); err != nil {
		b.logger().Warn("control notification failed",
			"recipient", recipient,
			"error", err)
	}
}

// notifyStorageFailure surfaces a persistence error to the operator
// who issued the mutating command. Durability loss must not be
// silent.
func (b *Bridge) notifyStorageFailure(ctx context.Context, recipient string, err error) {
	b.logger().Error("command failed",
		"recipient", recipient,
		"error", err)
	b.notify(ctx, recipient, fmt.Sprintf("Command failed: %v", err))
}

func describeOperator(operator store.Operator) string {
	accounts := "none"
	if len(operator.Accounts) > 0 {
		accounts = strings.Join(operator.Accounts, ", ")
	}
	return fmt.Sprintf("%s: active=%t accounts=%s", operator.ID, operator.Active, accounts)
}

func firstField(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
