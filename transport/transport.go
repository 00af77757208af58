// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// LinkingMode selects how a new account proves ownership during
// linking.
type LinkingMode string

const (
	// LinkQR links by scanning a QR challenge with the account's
	// primary device.
	LinkQR LinkingMode = "qr"

	// LinkPhone links by entering a short pairing code on the
	// account's primary device.
	LinkPhone LinkingMode = "phone"
)

// EventType discriminates the Event union.
type EventType string

const (
	// EventQRChallenge carries a QR payload to present to the
	// operator. The protocol may rotate challenges; each one is a
	// separate event.
	EventQRChallenge EventType = "qr_challenge"

	// EventPairingCode carries a pairing code to present to the
	// operator.
	EventPairingCode EventType = "pairing_code"

	// EventConnected signals the connection is authenticated and
	// live.
	EventConnected EventType = "connected"

	// EventClosed signals the connection has terminated. Always the
	// final event on a Conn.
	EventClosed EventType = "closed"

	// EventMessage carries an outgoing message observed on the
	// account.
	EventMessage EventType = "message"
)

// MessageKey identifies one message on the managed channel, as
// required by Conn.DeleteMessage.
type MessageKey struct {
	// ID is the protocol-assigned message id.
	ID string

	// Remote is the conversation the message belongs to.
	Remote string

	// FromMe reports whether the account under supervision sent the
	// message. The interceptor only acts on FromMe messages.
	FromMe bool
}

// OutgoingMessage is one outgoing message observed on an active
// connection.
type OutgoingMessage struct {
	Key MessageKey

	// Destination is the remote identity the message was sent to.
	Destination string

	// Body is the renderable text content, or nil for media and
	// other non-text content. Nil bodies are still recorded — the
	// audit log is a complete sequential record.
	Body *string
}

// Event is one connection-lifecycle or traffic event. Exactly the
// fields implied by Type are set.
type Event struct {
	Type EventType

	// QR is the challenge payload for EventQRChallenge.
	QR string

	// PairingCode is the code for EventPairingCode.
	PairingCode string

	// Message is the observed message for EventMessage.
	Message *OutgoingMessage
}

// Credentials persists one account's protocol credential state. The
// connection invokes Save whenever the protocol state changes; Save
// must flush before returning, since the protocol assumes durability
// from that point on.
type Credentials interface {
	// Load returns the stored credential blob, or nil when the
	// account has never been linked.
	Load() ([]byte, error)

	// Save durably stores the credential blob.
	Save([]byte) error
}

// Conn is one live managed-channel connection.
type Conn interface {
	// Events returns the connection's event stream. The channel is
	// closed after EventClosed is delivered.
	Events() <-chan Event

	// DeleteMessage requests remote deletion of a message.
	DeleteMessage(ctx context.Context, key MessageKey) error

	// Logout gracefully unlinks the account and terminates the
	// connection.
	Logout(ctx context.Context) error

	// Close terminates the connection without unlinking.
	Close() error
}

// Connector opens managed-channel connections.
type Connector interface {
	// Open starts a connection for the account in the requested
	// linking mode. Previously linked accounts resume from the
	// stored credentials; fresh accounts emit QR or pairing-code
	// events until linked.
	Open(ctx context.Context, account string, mode LinkingMode, credentials Credentials) (Conn, error)
}
