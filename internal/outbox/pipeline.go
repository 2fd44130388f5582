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

// Package outbox records ingested payloads and relays them to the bus.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/logging"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const routingKeyPrefix = "routing_key_"

// Pipeline dual-writes an outbox row and an incident row per payload. The
// two saves are independent; a failure of one does not undo the other.
type Pipeline struct {
	stores    *backend.Registry[core.Store]
	packetLog *logging.PacketLogger
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewPipeline(stores *backend.Registry[core.Store], packetLog *logging.PacketLogger, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		stores:    stores,
		packetLog: packetLog,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Source renders the origin description stored on both records.
func Source(in core.Inbound) string {
	return fmt.Sprintf("%s-server-instance based on host: %s and port %s", in.Protocol, in.Host, in.PortString())
}

// Build creates the outbox and incident records for in.
func (p *Pipeline) Build(in core.Inbound) (*core.OutboxMessage, *core.IncidentRecord) {
	now := p.now().UTC()
	source := Source(in)

	msg := &core.OutboxMessage{
		ID:          p.newID(),
		ModelType:   core.ModelTypeOutbox,
		EventType:   core.EventTypeReceived,
		IsProcessed: false,
		InQueue:     in.InQueue,
		OutQueue:    in.OutQueue,
		Payload:     in.Payload,
		RoutingKey:  routingKeyPrefix + in.Protocol,
		CreatedAt:   now,
		Source:      source,
	}
	rec := &core.IncidentRecord{
		ID:            p.newID(),
		Payload:       in.Payload,
		CreatedAt:     now,
		CreatedBy:     source,
		IPAddress:     core.UnknownValue,
		UserAgent:     in.Protocol + "-server-instance",
		CorrelationID: p.newID(),
		ModelType:     core.ModelTypeIncident,
		IsProcessed:   false,
	}
	return msg, rec
}

// ProcessIncoming records in against the store that is current at call time.
// Failures are logged and never returned.
func (p *Pipeline) ProcessIncoming(ctx context.Context, in core.Inbound) {
	msg, rec := p.Build(in)

	lease, err := p.stores.Acquire()
	if err != nil {
		p.logger.Error("payload dropped",
			"protocol", in.Protocol,
			"in_queue", in.InQueue,
			"error", fmt.Errorf("%w: %w", core.ErrPersistence, err),
		)
		return
	}
	defer lease.Release()

	store := lease.Handle()
	if err := store.SaveOutbox(ctx, msg); err != nil {
		p.logger.Error("outbox save failed",
			"outbox_id", msg.ID,
			"database", store.Type(),
			"error", fmt.Errorf("%w: outbox: %w", core.ErrPersistence, err),
		)
	}
	if err := store.SaveIncident(ctx, rec); err != nil {
		p.logger.Error("incident save failed",
			"incident_id", rec.ID,
			"outbox_id", msg.ID,
			"database", store.Type(),
			"error", fmt.Errorf("%w: incident: %w", core.ErrPersistence, err),
		)
	}
	p.packetLog.Inbound(in, msg.ID)
}
