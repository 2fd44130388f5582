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

// Package backendtest provides in-memory bus and store handles for tests.
package backendtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

var ErrClosed = errors.New("backendtest: closed")

// Store keeps records in memory. Fail* fields inject errors.
type Store struct {
	Name string

	mu           sync.Mutex
	outbox       []core.OutboxMessage
	incidents    []core.IncidentRecord
	closed       bool
	FailOutbox   error
	FailIncident error
	FailDelete   error
	FailPing     error
	deleteCalls  []time.Time
}

func NewStore(name string) *Store { return &Store{Name: name} }

func (s *Store) Type() string { return s.Name }

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.FailPing
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) SaveOutbox(ctx context.Context, msg *core.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOutbox != nil {
		return s.FailOutbox
	}
	s.outbox = append(s.outbox, *msg)
	return nil
}

func (s *Store) SaveIncident(ctx context.Context, rec *core.IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailIncident != nil {
		return s.FailIncident
	}
	s.incidents = append(s.incidents, *rec)
	return nil
}

func (s *Store) DeleteOutboxBefore(ctx context.Context, cutoff time.Time, processedOnly bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, cutoff)
	if s.FailDelete != nil {
		return 0, s.FailDelete
	}
	before := len(s.outbox)
	s.outbox = slices.DeleteFunc(s.outbox, func(m core.OutboxMessage) bool {
		return m.CreatedAt.Before(cutoff) && (!processedOnly || m.IsProcessed)
	})
	return int64(before - len(s.outbox)), nil
}

func (s *Store) DeleteIncidentsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, cutoff)
	if s.FailDelete != nil {
		return 0, s.FailDelete
	}
	before := len(s.incidents)
	s.incidents = slices.DeleteFunc(s.incidents, func(r core.IncidentRecord) bool {
		return r.CreatedAt.Before(cutoff)
	})
	return int64(before - len(s.incidents)), nil
}

func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]core.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.OutboxMessage
	for _, m := range s.outbox {
		if len(out) >= limit {
			break
		}
		if !m.IsProcessed {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id && !s.outbox[i].IsProcessed {
			s.outbox[i].IsProcessed = true
			processed := at
			s.outbox[i].ProcessedAt = &processed
		}
	}
	return nil
}

// DeleteCalls returns the cutoffs of every delete, in call order.
func (s *Store) DeleteCalls() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.deleteCalls)
}

func (s *Store) Outbox() []core.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.outbox)
}

func (s *Store) Incidents() []core.IncidentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.incidents)
}

// Seed inserts records as-is.
func (s *Store) Seed(outbox []core.OutboxMessage, incidents []core.IncidentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, outbox...)
	s.incidents = append(s.incidents, incidents...)
}

// Bus delivers published messages to subscribers of the same queue.
type Bus struct {
	Name string

	mu          sync.Mutex
	published   []core.BusMessage
	subscribers map[string][]chan []byte
	closed      bool
	done        chan struct{}
	FailPublish error
}

func NewBus(name string) *Bus {
	return &Bus{Name: name, subscribers: make(map[string][]chan []byte), done: make(chan struct{})}
}

func (b *Bus) Type() string { return b.Name }

func (b *Bus) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close ends every running Subscribe.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) Publish(ctx context.Context, msg core.BusMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.FailPublish != nil {
		return b.FailPublish
	}
	b.published = append(b.published, msg)
	for _, ch := range b.subscribers[msg.Queue] {
		select {
		case ch <- msg.Payload:
		default:
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, queue string, handler core.MessageHandler) error {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subscribers[queue] = append(b.subscribers[queue], ch)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.subscribers[queue] = slices.DeleteFunc(b.subscribers[queue], func(c chan []byte) bool { return c == ch })
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case payload := <-ch:
			handler(ctx, payload)
		}
	}
}

// Subscribers reports how many Subscribe calls are running for queue.
func (b *Bus) Subscribers(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[queue])
}

func (b *Bus) Published() []core.BusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published)
}

func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StoreRegistry returns a database registry whose tokens resolve to the given
// stores and selects current when it is not empty.
func StoreRegistry(t testing.TB, stores map[string]*Store, current string) *backend.Registry[core.Store] {
	t.Helper()
	factories := make(map[string]backend.Factory[core.Store], len(stores))
	for token, s := range stores {
		factories[token] = func(context.Context, map[string]any) (core.Store, error) { return s, nil }
	}
	r := backend.NewRegistry(core.KindDatabase, normalize.Database, factories, backend.WithLogger(Logger()))
	if current != "" {
		if err := r.SetCurrent(context.Background(), current, nil); err != nil {
			t.Fatalf("select store %s: %v", current, err)
		}
	}
	return r
}

// BusRegistry does the same for buses.
func BusRegistry(t testing.TB, buses map[string]*Bus, current string) *backend.Registry[core.Bus] {
	t.Helper()
	factories := make(map[string]backend.Factory[core.Bus], len(buses))
	for token, b := range buses {
		factories[token] = func(context.Context, map[string]any) (core.Bus, error) { return b, nil }
	}
	r := backend.NewRegistry(core.KindBus, normalize.Bus, factories, backend.WithLogger(Logger()))
	if current != "" {
		if err := r.SetCurrent(context.Background(), current, nil); err != nil {
			t.Fatalf("select bus %s: %v", current, err)
		}
	}
	return r
}
