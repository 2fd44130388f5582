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

package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const (
	defaultRelayInterval = time.Second
	defaultRelayBatch    = 100
)

type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay publishes unprocessed outbox rows to their in-queue on the current
// bus and marks them processed.
type Relay struct {
	stores *backend.Registry[core.Store]
	buses  *backend.Registry[core.Bus]
	cfg    RelayConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewRelay(stores *backend.Registry[core.Store], buses *backend.Registry[core.Bus], cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRelayInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRelayBatch
	}
	return &Relay{stores: stores, buses: buses, cfg: cfg, logger: logger, now: time.Now}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("outbox relay iteration failed", "error", err)
			}
		}
	}
}

// RelayOnce handles one batch and returns how many rows were published.
// A row whose publish fails stays unprocessed for the next pass.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	storeLease, err := r.stores.Acquire()
	if err != nil {
		return 0, err
	}
	defer storeLease.Release()

	pending, err := storeLease.Handle().ListUnprocessed(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	busLease, err := r.buses.Acquire()
	if err != nil {
		return 0, err
	}
	defer busLease.Release()

	bus := busLease.Handle()
	relayed := 0
	for _, msg := range pending {
		if ctx.Err() != nil {
			break
		}
		err := bus.Publish(ctx, core.BusMessage{
			ID:         msg.ID,
			Queue:      msg.InQueue,
			RoutingKey: msg.RoutingKey,
			Payload:    []byte(msg.Payload),
		})
		if err != nil {
			r.logger.Warn("outbox publish failed",
				"outbox_id", msg.ID,
				"queue", msg.InQueue,
				"bus", bus.Type(),
				"error", err,
			)
			continue
		}
		if err := storeLease.Handle().MarkProcessed(ctx, msg.ID, r.now().UTC()); err != nil {
			r.logger.Warn("outbox mark processed failed", "outbox_id", msg.ID, "error", err)
			continue
		}
		relayed++
	}
	if relayed > 0 {
		r.logger.Info("outbox relayed", "count", relayed, "pending", len(pending), "bus", bus.Type())
	}
	return relayed, nil
}
