// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package control

import "context"

// Command is one inbound operator command from the control channel.
type Command struct {
	// Sender is the control-channel identity of the principal who
	// issued the command. Opaque to warden.
	Sender string

	// Name is the command verb including the leading slash, e.g.
	// "/link" or "/request_passkey".
	Name string

	// Args is the raw argument string after the verb, unparsed.
	// Empty for argument-less commands.
	Args string
}

// Notifier delivers human-readable events to a control-channel
// principal. Implementations must be safe for concurrent use: session
// event loops, the interceptor, and the command router all notify
// independently.
type Notifier interface {
	// Notify sends text to the recipient. A non-nil image is
	// delivered as a photo (PNG bytes) with the text as caption.
	Notify(ctx context.Context, recipient, text string, image []byte) error
}

// Prompter presents a labeled choice to a principal and reports the
// selection. The underlying transport resolves the choice
// asynchronously (an inline keyboard callback, typically); Prompt
// blocks until the selection arrives or ctx is cancelled.
type Prompter interface {
	Prompt(ctx context.Context, recipient, text string, options []string) (string, error)
}
