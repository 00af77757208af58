// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time interface checks.
var (
	_ Connector = (*MemoryConnector)(nil)
	_ Conn      = (*MemoryConn)(nil)
)

// MemoryConnector is an in-process Connector for tests and the local
// harness. Opened connections exchange no network traffic; tests
// script protocol behavior by emitting events on the returned
// MemoryConn and observe DeleteMessage/Logout calls through its
// accessors.
type MemoryConnector struct {
	mu        sync.Mutex
	conns     map[string][]*MemoryConn
	openError error
}

// NewMemoryConnector creates a MemoryConnector.
func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{conns: make(map[string][]*MemoryConn)}
}

// FailOpens makes every subsequent Open return err. Pass nil to
// restore normal behavior.
func (c *MemoryConnector) FailOpens(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openError = err
}

// Open creates a new MemoryConn for the account.
func (c *MemoryConnector) Open(_ context.Context, account string, mode LinkingMode, credentials Credentials) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openError != nil {
		return nil, c.openError
	}

	conn := &MemoryConn{
		account:     account,
		mode:        mode,
		credentials: credentials,
		events:      make(chan Event, 32),
	}
	c.conns[account] = append(c.conns[account], conn)
	return conn, nil
}

// Conn returns the most recently opened connection for the account,
// or nil if none was opened.
func (c *MemoryConnector) Conn(account string) *MemoryConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	opened := c.conns[account]
	if len(opened) == 0 {
		return nil
	}
	return opened[len(opened)-1]
}

// OpenCount returns how many connections were opened for the account.
func (c *MemoryConnector) OpenCount(account string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns[account])
}

// MemoryConn is the Conn returned by MemoryConnector. Tests drive it
// with the Emit methods and inspect protocol calls with Deleted and
// LoggedOut.
type MemoryConn struct {
	account     string
	mode        LinkingMode
	credentials Credentials

	mu          sync.Mutex
	events      chan Event
	closed      bool
	deleted     []MessageKey
	deleteError error
	logoutError error
	loggedOut   bool
}

// Account returns the account this connection was opened for.
func (c *MemoryConn) Account() string { return c.account }

// Mode returns the linking mode the connection was opened in.
func (c *MemoryConn) Mode() LinkingMode { return c.mode }

func (c *MemoryConn) Events() <-chan Event { return c.events }

// DeleteMessage records the key and returns the scripted error, if
// any.
func (c *MemoryConn) DeleteMessage(_ context.Context, key MessageKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, key)
	return c.deleteError
}

// Logout marks the connection logged out, returns the scripted error
// if any, and otherwise terminates the event stream.
func (c *MemoryConn) Logout(context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	err := c.logoutError
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.EmitClosed()
	return nil
}

// Close terminates the event stream without unlinking. Idempotent.
func (c *MemoryConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// FailDeletes makes every subsequent DeleteMessage return err. The
// key is still recorded.
func (c *MemoryConn) FailDeletes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteError = err
}

// FailLogout makes Logout return err without closing the stream.
func (c *MemoryConn) FailLogout(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logoutError = err
}

// Deleted returns the message keys DeleteMessage was called with.
func (c *MemoryConn) Deleted() []MessageKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MessageKey(nil), c.deleted...)
}

// LoggedOut reports whether Logout was called.
func (c *MemoryConn) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// EmitQR delivers a QR challenge event.
func (c *MemoryConn) EmitQR(payload string) {
	c.emit(Event{Type: EventQRChallenge, QR: payload})
}

// EmitPairingCode delivers a pairing-code event.
func (c *MemoryConn) EmitPairingCode(code string) {
	c.emit(Event{Type: EventPairingCode, PairingCode: code})
}

// EmitConnected delivers the connection-open event.
func (c *MemoryConn) EmitConnected() {
	c.emit(Event{Type: EventConnected})
}

// EmitClosed delivers the connection-close event and closes the
// stream. Idempotent.
func (c *MemoryConn) EmitClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- Event{Type: EventClosed}
	c.closed = true
	close(c.events)
}

// EmitOutgoing delivers an observed outgoing message. A nil body
// models media and other non-text content.
func (c *MemoryConn) EmitOutgoing(id, destination string, body *string) {
	c.emit(Event{Type: EventMessage, Message: &OutgoingMessage{
		Key:         MessageKey{ID: id, Remote: destination, FromMe: true},
		Destination: destination,
		Body:        body,
	}})
}

// SaveCredentials simulates a protocol credential-state change,
// invoking the Credentials callback the connection was opened with.
func (c *MemoryConn) SaveCredentials(blob []byte) error {
	if c.credentials == nil {
		return fmt.Errorf("transport: connection opened without credentials")
	}
	return c.credentials.Save(blob)
}

func (c *MemoryConn) emit(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- event
}
