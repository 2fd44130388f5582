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

// Package retention deletes aged outbox and incident records from the
// current store.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const (
	DefaultCleanupInterval   = 10 * time.Second
	DefaultOutboxTTL         = time.Hour
	DefaultIncidentInterval  = 30 * 24 * time.Hour
	DefaultIncidentTTLMonths = 60

	outboxLockKey   = "ingestion-gateway:retention:outbox"
	incidentLockKey = "ingestion-gateway:retention:incident"
)

type Config struct {
	CleanupInterval time.Duration
	OutboxTTL       time.Duration
	// ProcessedOnly restricts outbox deletes to rows the relay has handled.
	ProcessedOnly     bool
	IncidentInterval  time.Duration
	IncidentTTLMonths int
}

func (c Config) withDefaults() Config {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.OutboxTTL <= 0 {
		c.OutboxTTL = DefaultOutboxTTL
	}
	if c.IncidentInterval <= 0 {
		c.IncidentInterval = DefaultIncidentInterval
	}
	if c.IncidentTTLMonths <= 0 {
		c.IncidentTTLMonths = DefaultIncidentTTLMonths
	}
	return c
}

type Sweeper struct {
	stores *backend.Registry[core.Store]
	cfg    Config
	locker Locker
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Sweeper)

// WithLocker makes each sweep run only on the replica holding the lock.
func WithLocker(l Locker) Option {
	return func(s *Sweeper) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(stores *backend.Registry[core.Store], cfg Config, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		stores: stores,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Config() Config { return s.cfg }

// RunOutbox sweeps once immediately and then every CleanupInterval until ctx
// is done.
func (s *Sweeper) RunOutbox(ctx context.Context) error {
	return s.loop(ctx, "outbox", s.cfg.CleanupInterval, s.SweepOutbox)
}

// RunIncidents sweeps once immediately and then every IncidentInterval.
func (s *Sweeper) RunIncidents(ctx context.Context) error {
	return s.loop(ctx, "incident", s.cfg.IncidentInterval, s.SweepIncidents)
}

func (s *Sweeper) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) (int64, error)) error {
	s.logger.Info("retention sweeper started", "target", name, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("retention sweep failed", "target", name, "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped", "target", name)
			return nil
		case <-ticker.C:
		}
	}
}

// OutboxCutoff is now minus the outbox TTL.
func (s *Sweeper) OutboxCutoff() time.Time {
	return s.now().UTC().Add(-s.cfg.OutboxTTL)
}

// IncidentCutoff is now minus IncidentTTLMonths calendar months.
func (s *Sweeper) IncidentCutoff() time.Time {
	return s.now().UTC().AddDate(0, -s.cfg.IncidentTTLMonths, 0)
}

// SweepOutbox deletes outbox rows created strictly before the cutoff.
func (s *Sweeper) SweepOutbox(ctx context.Context) (int64, error) {
	return s.sweep(ctx, "outbox", outboxLockKey, s.cfg.CleanupInterval, func(ctx context.Context, store core.Store) (int64, time.Time, error) {
		cutoff := s.OutboxCutoff()
		n, err := store.DeleteOutboxBefore(ctx, cutoff, s.cfg.ProcessedOnly)
		return n, cutoff, err
	})
}

func (s *Sweeper) SweepIncidents(ctx context.Context) (int64, error) {
	return s.sweep(ctx, "incident", incidentLockKey, s.cfg.IncidentInterval, func(ctx context.Context, store core.Store) (int64, time.Time, error) {
		cutoff := s.IncidentCutoff()
		n, err := store.DeleteIncidentsBefore(ctx, cutoff)
		return n, cutoff, err
	})
}

func (s *Sweeper) sweep(
	ctx context.Context,
	name, lockKey string,
	lockTTL time.Duration,
	del func(context.Context, core.Store) (int64, time.Time, error),
) (int64, error) {
	// A successful sweep keeps the lock until it expires so other replicas
	// skip the same tick. A failed one hands it back.
	release := func() {}
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lockKey, lockTTL*9/10)
		if err != nil {
			return 0, fmt.Errorf("%s sweep lock: %w", name, err)
		}
		if !ok {
			s.logger.Debug("retention sweep skipped, lock held elsewhere", "target", name)
			return 0, nil
		}
		release = unlock
	}

	lease, err := s.stores.Acquire()
	if err != nil {
		release()
		return 0, err
	}
	defer lease.Release()

	store := lease.Handle()
	n, cutoff, err := del(ctx, store)
	if err != nil {
		release()
		return 0, fmt.Errorf("%s sweep on %s: %w", name, store.Type(), err)
	}

	attrs := []any{"target", name, "database", store.Type(), "deleted", n, "cutoff", cutoff}
	if n == 0 {
		s.logger.Debug("retention sweep completed", attrs...)
	} else {
		s.logger.Info("retention sweep completed", attrs...)
	}
	return n, nil
}
