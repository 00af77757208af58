// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatwarden/warden/control"
	"github.com/chatwarden/warden/intercept"
	"github.com/chatwarden/warden/lib/clock"
	"github.com/chatwarden/warden/store"
	"github.com/chatwarden/warden/transport"
)

// State is a session's position in the lifecycle state machine.
type State string

const (
	// StateLinking means the connection is open but not yet
	// authenticated; QR challenges or pairing codes are flowing to
	// the operator.
	StateLinking State = "linking"

	// StateActive means the connection is authenticated and
	// outgoing traffic is being observed.
	StateActive State = "active"

	// StateClosed is terminal for a session instance. A fresh
	// session may be started for the same pair afterward.
	StateClosed State = "closed"
)

// Info describes one live session.
type Info struct {
	OperatorID string
	Account    string
	Mode       transport.LinkingMode
	State      State
}

type sessionKey struct {
	operatorID string
	account    string
}

// session is the runtime handle for one supervised connection. Never
// persisted; reconstructed by the recovery sweep after a restart.
type session struct {
	operatorID string
	account    string
	mode       transport.LinkingMode
	conn       transport.Conn

	mu      sync.Mutex
	state   State
	stopped bool

	// done closes when the event loop exits.
	done chan struct{}
}

func (s *session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// markStopped records an explicit StopSession, so the event loop's
// teardown skips the duplicate close notice. Reports whether the
// session was already stopped.
func (s *session) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	already := s.stopped
	s.stopped = true
	return already
}

func (s *session) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Manager supervises all live sessions.
type Manager struct {
	// Store persists session metadata and operator account lists,
	// and supplies per-account credential handles.
	Store *store.Store

	// Connector opens managed-channel connections.
	Connector transport.Connector

	// Notifier delivers linking challenges and lifecycle notices to
	// operators.
	Notifier control.Notifier

	// Interceptor receives every outgoing message observed on active
	// connections.
	Interceptor *intercept.Interceptor

	// Clock drives the periodic recovery sweep.
	Clock clock.Clock

	// RecoveryInterval is the sweep period for Run. Zero disables
	// the periodic sweep (the initial sweep still runs).
	RecoveryInterval time.Duration

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session
	keyLocks map[sessionKey]*sync.Mutex
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// lockFor returns the mutex serializing all lifecycle mutations for
// one (operator, account) pair. The lock is held across the
// check-then-create sequence in StartSession, including the
// Connector.Open call — this is the serialization point that keeps
// two concurrent StartSession calls from both observing "no handle"
// and opening two connections.
func (m *Manager) lockFor(key sessionKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keyLocks == nil {
		m.keyLocks = make(map[sessionKey]*sync.Mutex)
	}
	lock, ok := m.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[key] = lock
	}
	return lock
}

// StartSession opens a supervised connection for the pair and enters
// Linking. A live session for the same pair makes this a no-op.
func (m *Manager) StartSession(ctx context.Context, operatorID, account string, mode transport.LinkingMode) error {
	key := sessionKey{operatorID: operatorID, account: account}
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	_, exists := m.sessions[key]
	m.mu.Unlock()
	if exists {
		return nil
	}

	conn, err := m.Connector.Open(ctx, account, mode, m.Store.AccountCredentials(account))
	if err != nil {
		m.notify(ctx, operatorID, fmt.Sprintf("Failed to link %s: %v", account, err))
		return fmt.Errorf("opening connection for %s: %w", account, err)
	}

	sess := &session{
		operatorID: operatorID,
		account:    account,
		mode:       mode,
		conn:       conn,
		state:      StateLinking,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.sessions == nil {
		m.sessions = make(map[sessionKey]*session)
	}
	m.sessions[key] = sess
	m.mu.Unlock()

	m.logger().Info("session linking",
		"operator", operatorID,
		"account", account,
		"mode", mode,
	)

	go m.runSession(ctx, key, sess)
	return nil
}

// StopSession gracefully unlinks a pair's session. A transport
// failure during logout is logged but never leaves the handle stuck:
// the session is removed regardless, and the operator is notified
// either way. A no-op without a live handle.
func (m *Manager) StopSession(ctx context.Context, operatorID, account string) error {
	key := sessionKey{operatorID: operatorID, account: account}
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess, exists := m.sessions[key]
	m.mu.Unlock()
	if !exists {
		return nil
	}

	sess.markStopped()

	if err := sess.conn.Logout(ctx); err != nil {
		m.logger().Error("logout failed",
			"operator", operatorID,
			"account", account,
			"error", err,
		)
		// The stream will not close on its own after a failed
		// logout; drop the connection so the event loop exits.
		sess.conn.Close()
	} else if err := m.Store.RemoveCredentials(account); err != nil {
		m.logger().Error("failed to remove credentials after logout",
			"account", account,
			"error", err,
		)
	}

	m.removeSession(key, sess)
	sess.setState(StateClosed)

	// The event loop skips its teardown for explicitly stopped
	// sessions, so the durable status is written here.
	if meta, ok := m.Store.SessionMeta(account); ok {
		meta.Status = string(StateClosed)
		if err := m.Store.PutSessionMeta(meta); err != nil {
			m.logger().Error("failed to persist session metadata",
				"account", account,
				"error", err,
			)
		}
	}

	if err := m.Store.UnlinkAccount(operatorID, account); err != nil {
		m.logger().Error("failed to unlink account from operator",
			"operator", operatorID,
			"account", account,
			"error", err,
		)
	}

	m.notify(ctx, operatorID, fmt.Sprintf("Session unlinked for %s", account))
	return nil
}

// ListActiveSessions returns the operator's live sessions,
// Linking and Active alike.
func (m *Manager) ListActiveSessions(operatorID string) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []Info
	for key, sess := range m.sessions {
		if key.operatorID != operatorID {
			continue
		}
		infos = append(infos, Info{
			OperatorID: key.operatorID,
			Account:    key.account,
			Mode:       sess.mode,
			State:      sess.currentState(),
		})
	}
	return infos
}

// Has reports whether a live session exists for the pair.
func (m *Manager) Has(operatorID, account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionKey{operatorID: operatorID, account: account}]
	return ok
}

// Recover starts a session for every account linked to every stored
// operator. Already-running pairs are no-ops. One pair's failure
// never aborts the sweep.
func (m *Manager) Recover(ctx context.Context) {
	for _, operator := range m.Store.Operators() {
		for _, account := range operator.Accounts {
			if err := m.StartSession(ctx, operator.ID, account, transport.LinkQR); err != nil {
				m.logger().Error("recovery failed for account",
					"operator", operator.ID,
					"account", account,
					"error", err,
				)
			}
		}
	}
}

// Run performs the startup recovery sweep and then repeats it every
// RecoveryInterval until ctx is cancelled. With a zero interval only
// the startup sweep runs.
func (m *Manager) Run(ctx context.Context) {
	m.Recover(ctx)

	if m.RecoveryInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := m.Clock.NewTicker(m.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Recover(ctx)
		}
	}
}

// runSession consumes one connection's event stream until it ends.
func (m *Manager) runSession(ctx context.Context, key sessionKey, sess *session) {
	defer close(sess.done)

	logger := m.logger().With("operator", sess.operatorID, "account", sess.account)

	for event := range sess.conn.Events() {
		switch event.Type {
		case transport.EventQRChallenge:
			if sess.mode != transport.LinkQR {
				continue
			}
			// The protocol rotates challenges; forward every one.
			png, err := renderQR(event.QR)
			if err != nil {
				logger.Error("QR render failed", "error", err)
				continue
			}
			m.notify(ctx, sess.operatorID, fmt.Sprintf("Scan this QR to link %s", sess.account), png)

		case transport.EventPairingCode:
			if sess.mode != transport.LinkPhone {
				continue
			}
			m.notify(ctx, sess.operatorID, fmt.Sprintf("Your pairing code for %s: %s", sess.account, event.PairingCode))

		case transport.EventConnected:
			sess.setState(StateActive)
			logger.Info("session active")
			if err := m.persistActive(sess); err != nil {
				logger.Error("failed to persist session metadata", "error", err)
				m.notify(ctx, sess.operatorID, fmt.Sprintf("Warning: failed to persist session state for %s: %v", sess.account, err))
			}
			m.notify(ctx, sess.operatorID, fmt.Sprintf("Connected successfully: %s", sess.account))

		case transport.EventMessage:
			if event.Message != nil {
				m.Interceptor.HandleOutgoing(ctx, sess.operatorID, sess.account, *event.Message, sess.conn)
			}

		case transport.EventClosed:
			// Teardown happens below, after the stream drains.
		}
	}

	sess.setState(StateClosed)

	// An explicit StopSession already removed the handle and told
	// the operator.
	if sess.wasStopped() {
		return
	}

	m.removeSession(key, sess)
	logger.Info("session closed")

	if meta, ok := m.Store.SessionMeta(sess.account); ok {
		meta.Status = string(StateClosed)
		if err := m.Store.PutSessionMeta(meta); err != nil {
			logger.Error("failed to persist session metadata", "error", err)
		}
	}

	m.notify(ctx, sess.operatorID, fmt.Sprintf("Session closed for %s", sess.account))
}

// persistActive writes the account's durable metadata on
// connection-open. An existing record keeps its lifetime delete
// counter — reconnects resume counting, they do not reset.
func (m *Manager) persistActive(sess *session) error {
	meta, ok := m.Store.SessionMeta(sess.account)
	if !ok {
		meta = store.SessionMeta{Account: sess.account}
	}
	meta.OperatorID = sess.operatorID
	meta.Status = string(StateActive)
	if err := m.Store.PutSessionMeta(meta); err != nil {
		return err
	}
	return m.Store.LinkAccount(sess.operatorID, sess.account)
}

// removeSession drops the handle if it is still the registered one.
// A later session for the same pair is left alone.
func (m *Manager) removeSession(key sessionKey, sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[key]; ok && current == sess {
		delete(m.sessions, key)
	}
}

func (m *Manager) notify(ctx context.Context, operatorID, text string, image ...[]byte) {
	var png []byte
	if len(image) > 0 {
		png = image[0]
	}
	if err := m.Notifier.Notify(ctx, operatorID, text, png); err != nil {
		m.logger().Error("failed to notify operator", "operator", operatorID, "error", err)
	}
}
