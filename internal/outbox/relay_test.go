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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend/backendtest"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

func newTestRelay(t *testing.T) (*Relay, *backendtest.Store, *backendtest.Bus) {
	t.Helper()
	store := backendtest.NewStore(normalize.DatabaseMongo)
	bus := backendtest.NewBus(normalize.BusRabbit)
	stores := backendtest.StoreRegistry(t, map[string]*backendtest.Store{normalize.DatabaseMongo: store}, normalize.DatabaseMongo)
	buses := backendtest.BusRegistry(t, map[string]*backendtest.Bus{normalize.BusRabbit: bus}, normalize.BusRabbit)
	return NewRelay(stores, buses, RelayConfig{Interval: 10 * time.Millisecond, BatchSize: 2}, backendtest.Logger()), store, bus
}

func seedOutbox(store *backendtest.Store, ids ...string) {
	var msgs []core.OutboxMessage
	for _, id := range ids {
		msgs = append(msgs, core.OutboxMessage{
			ID:         id,
			InQueue:    "acme.in",
			RoutingKey: "routing_key_tcp",
			Payload:    "p-" + id,
			CreatedAt:  time.Now().UTC(),
		})
	}
	store.Seed(msgs, nil)
}

func TestRelayOncePublishesAndMarks(t *testing.T) {
	r, store, bus := newTestRelay(t)
	seedOutbox(store, "a", "b", "c")

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	published := bus.Published()
	require.Len(t, published, 2)
	assert.Equal(t, "acme.in", published[0].Queue)
	assert.Equal(t, "routing_key_tcp", published[0].RoutingKey)
	assert.Equal(t, []byte("p-a"), published[0].Payload)

	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, m := range store.Outbox() {
		assert.True(t, m.IsProcessed, m.ID)
		assert.NotNil(t, m.ProcessedAt)
	}
}

func TestRelayPublishFailureLeavesRow(t *testing.T) {
	r, store, bus := newTestRelay(t)
	seedOutbox(store, "a")
	bus.FailPublish = errors.New("channel closed")

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, store.Outbox()[0].IsProcessed)

	bus.FailPublish = nil
	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRelayNothingPending(t *testing.T) {
	r, _, bus := newTestRelay(t)
	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bus.Published())
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	r, store, bus := newTestRelay(t)
	seedOutbox(store, "a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(bus.Published()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
