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

package core

import (
	"context"
	"time"
)

// Handle is a connected backend of either kind. Implementations must be
// safe for concurrent use.
type Handle interface {
	Type() string
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// MessageHandler is called once per delivery received from a queue.
type MessageHandler func(ctx context.Context, payload []byte)

type Bus interface {
	Handle
	Publish(ctx context.Context, msg BusMessage) error
	// Subscribe blocks until ctx is done or the delivery stream ends.
	Subscribe(ctx context.Context, queue string, handler MessageHandler) error
}

// Persister is the capability the ingest pipeline writes through.
type Persister interface {
	SaveOutbox(ctx context.Context, msg *OutboxMessage) error
	SaveIncident(ctx context.Context, rec *IncidentRecord) error
}

// Sweepable stores support range deletes by creation time. Deletes are
// strict: rows created exactly at cutoff are kept.
type Sweepable interface {
	DeleteOutboxBefore(ctx context.Context, cutoff time.Time, processedOnly bool) (int64, error)
	DeleteIncidentsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Relayable stores expose pending outbox rows to the relay.
type Relayable interface {
	ListUnprocessed(ctx context.Context, limit int) ([]OutboxMessage, error)
	// MarkProcessed only flips rows that are still unprocessed.
	MarkProcessed(ctx context.Context, id string, at time.Time) error
}

type Store interface {
	Handle
	Persister
	Sweepable
	Relayable
}
