// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package session tracks stream clients and the dispatch loop feeding each.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/dispatch"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/mode"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

// Dispatcher runs the outbound loop for one client.
type Dispatcher interface {
	SendMessagesToClient(ctx context.Context, connCtx dispatch.ConnectionContext, queue string) error
}

type Session struct {
	ID        string
	Tenant    string
	Route     routing.Route
	Conn      dispatch.ConnectionContext
	CreatedAt time.Time

	lastSeen atomic.Int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// Done is closed when the dispatch loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

type Manager struct {
	sessions   sync.Map
	routes     *routing.Table
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(routes *routing.Table, dispatcher Dispatcher, logger *slog.Logger) *Manager {
	return &Manager{
		routes:     routes,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateSession starts forwarding the tenant's out-queue to connCtx.
func (m *Manager) CreateSession(ctx context.Context, tenant string, connCtx dispatch.ConnectionContext) (*Session, error) {
	if _, err := dispatch.CreateSender(connCtx); err != nil {
		return nil, err
	}

	route := m.routes.Resolve(tenant)
	sessionCtx, sessionCancel := context.WithCancel(ctx)
	sess := &Session{
		ID:        uuid.New().String(),
		Tenant:    route.Tenant,
		Route:     route,
		Conn:      connCtx,
		CreatedAt: m.now().UTC(),
		cancel:    sessionCancel,
		done:      make(chan struct{}),
	}
	sess.lastSeen.Store(sess.CreatedAt.UnixNano())
	m.sessions.Store(sess.ID, sess)

	go func() {
		defer close(sess.done)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("dispatch panic recovered", "session_id", sess.ID, "error", r)
			}
		}()
		err := m.dispatcher.SendMessagesToClient(sessionCtx, connCtx, route.OutQueue)
		if err != nil && sessionCtx.Err() == nil {
			m.logger.Error("dispatch error", "session_id", sess.ID, "error", err)
		}
	}()

	m.logger.Info("session created",
		"session_id", sess.ID,
		"tenant", sess.Tenant,
		"transport", connCtx.Transport(),
		"remote", connCtx.RemoteAddr(),
		"out_queue", route.OutQueue,
	)
	return sess, nil
}

// DestroySession stops the session's dispatch loop and closes its
// connection.
func (m *Manager) DestroySession(sessionID string) error {
	return m.destroy(sessionID, dispatch.CloseNormal, "session closed")
}

func (m *Manager) destroy(sessionID string, code int, reason string) error {
	val, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return fmt.Errorf("%w: id=%s", core.ErrSessionNotFound, sessionID)
	}
	sess := val.(*Session)
	sess.cancel()
	_ = dispatch.Disconnect(sess.Conn, code, reason)

	m.logger.Info("session destroyed",
		"session_id", sessionID,
		"tenant", sess.Tenant,
		"transport", sess.Conn.Transport(),
		"reason", reason,
	)
	return nil
}

// DestroyAll ends every session, e.g. on shutdown.
func (m *Manager) DestroyAll() {
	m.destroyAll(dispatch.CloseGoingAway, "server shutting down")
}

// CloseStreams ends every session because stream ingestion was disabled.
// Clients reconnect once the mode allows streams again.
func (m *Manager) CloseStreams(reason string) {
	m.destroyAll(dispatch.ClosePolicyViolated, reason)
}

func (m *Manager) destroyAll(code int, reason string) {
	m.sessions.Range(func(key, _ any) bool {
		_ = m.destroy(key.(string), code, reason)
		return true
	})
}

// ModeObserver closes all stream sessions whenever a mode change disables
// streams.
func (m *Manager) ModeObserver(ev mode.ChangeEvent) {
	if !ev.New.StreamEnabled() {
		m.CloseStreams("stream ingestion disabled")
	}
}

func (m *Manager) ActiveCount() int {
	count := 0
	m.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	val, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// FindByRemote returns the session bound to a peer address.
func (m *Manager) FindByRemote(transport, remote string) (*Session, bool) {
	var found *Session
	m.sessions.Range(func(_, val any) bool {
		sess := val.(*Session)
		if sess.Conn.Transport() == transport && sess.Conn.RemoteAddr() == remote {
			found = sess
			return false
		}
		return true
	})
	return found, found != nil
}

// Touch records activity on a session.
func (m *Manager) Touch(sessionID string) {
	if sess, ok := m.Get(sessionID); ok {
		sess.lastSeen.Store(m.now().UnixNano())
	}
}

// ExpireIdle destroys UDP sessions with no activity for maxIdle and returns
// how many were removed. Connection-backed sessions end with their
// connection, so UDP peers are the only ones removed this way.
func (m *Manager) ExpireIdle(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle).UnixNano()
	expired := 0
	m.sessions.Range(func(key, val any) bool {
		sess := val.(*Session)
		if sess.Conn.Transport() == dispatch.TransportUDP && sess.lastSeen.Load() < cutoff {
			if m.destroy(key.(string), dispatch.CloseNormal, "idle") == nil {
				expired++
			}
		}
		return true
	})
	if expired > 0 {
		m.logger.Info("idle sessions expired", "count", expired, "max_idle", maxIdle)
	}
	return expired
}

// RunIdleReaper calls ExpireIdle every interval until ctx is done.
func (m *Manager) RunIdleReaper(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.ExpireIdle(maxIdle)
		}
	}
}
