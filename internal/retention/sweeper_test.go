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

package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend/backendtest"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestSweeper(t *testing.T, cfg Config, opts ...Option) (*Sweeper, *backendtest.Store) {
	t.Helper()
	store := backendtest.NewStore(normalize.DatabaseMongo)
	stores := backendtest.StoreRegistry(t, map[string]*backendtest.Store{normalize.DatabaseMongo: store}, normalize.DatabaseMongo)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewSweeper(stores, cfg, backendtest.Logger(), opts...), store
}

func TestDefaults(t *testing.T) {
	s, _ := newTestSweeper(t, Config{})
	cfg := s.Config()
	assert.Equal(t, 10*time.Second, cfg.CleanupInterval)
	assert.Equal(t, time.Hour, cfg.OutboxTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.IncidentInterval)
	assert.Equal(t, 60, cfg.IncidentTTLMonths)
	assert.False(t, cfg.ProcessedOnly)
}

func TestSweepOutboxStrictCutoff(t *testing.T) {
	s, store := newTestSweeper(t, Config{OutboxTTL: time.Hour})
	cutoff := fixedNow.Add(-time.Hour)
	store.Seed([]core.OutboxMessage{
		{ID: "old", CreatedAt: cutoff.Add(-time.Second)},
		{ID: "edge", CreatedAt: cutoff},
		{ID: "new", CreatedAt: fixedNow},
	}, nil)

	n, err := s.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var ids []string
	for _, m := range store.Outbox() {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"edge", "new"}, ids)
	assert.Equal(t, []time.Time{cutoff}, store.DeleteCalls())
}

func TestSweepOutboxProcessedOnly(t *testing.T) {
	s, store := newTestSweeper(t, Config{OutboxTTL: time.Minute, ProcessedOnly: true})
	old := fixedNow.Add(-time.Hour)
	store.Seed([]core.OutboxMessage{
		{ID: "pending", CreatedAt: old},
		{ID: "done", CreatedAt: old, IsProcessed: true},
	}, nil)

	n, err := s.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.Len(t, store.Outbox(), 1)
	assert.Equal(t, "pending", store.Outbox()[0].ID)
}

func TestSweepIncidentsUsesCalendarMonths(t *testing.T) {
	s, store := newTestSweeper(t, Config{IncidentTTLMonths: 60})
	cutoff := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, cutoff, s.IncidentCutoff())

	store.Seed(nil, []core.IncidentRecord{
		{ID: "old", CreatedAt: cutoff.Add(-time.Nanosecond)},
		{ID: "edge", CreatedAt: cutoff},
	})
	n, err := s.SweepIncidents(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.Len(t, store.Incidents(), 1)
	assert.Equal(t, "edge", store.Incidents()[0].ID)
}

func TestSweepErrorIsReturned(t *testing.T) {
	s, store := newTestSweeper(t, Config{})
	store.FailDelete = errors.New("connection reset")

	_, err := s.SweepOutbox(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestSweepWithoutStore(t *testing.T) {
	stores := backendtest.StoreRegistry(t, map[string]*backendtest.Store{}, "")
	s := NewSweeper(stores, Config{}, backendtest.Logger())

	_, err := s.SweepOutbox(context.Background())
	assert.ErrorIs(t, err, core.ErrNoBackend)
}

func TestRunOutboxSweepsAtStartAndKeepsGoingAfterErrors(t *testing.T) {
	s, store := newTestSweeper(t, Config{CleanupInterval: 10 * time.Millisecond})
	store.FailDelete = errors.New("boom")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunOutbox(ctx) }()

	require.Eventually(t, func() bool {
		return len(store.DeleteCalls()) >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunIncidentsStopsOnCancel(t *testing.T) {
	s, _ := newTestSweeper(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.RunIncidents(ctx))
}

func TestSweepSkipsWhenLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)

	first, store1 := newTestSweeper(t, Config{OutboxTTL: time.Minute}, WithLocker(locker))
	second, store2 := newTestSweeper(t, Config{OutboxTTL: time.Minute}, WithLocker(locker))
	old := []core.OutboxMessage{{ID: "a", CreatedAt: fixedNow.Add(-time.Hour)}}
	store1.Seed(old, nil)
	store2.Seed(old, nil)

	n, err := first.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = second.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store2.DeleteCalls())

	mr.FastForward(10 * time.Second)
	n, err = second.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestFailedSweepReleasesLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, store := newTestSweeper(t, Config{}, WithLocker(NewRedisLocker(client)))
	store.FailDelete = errors.New("boom")

	_, err := s.SweepOutbox(context.Background())
	require.Error(t, err)
	assert.False(t, mr.Exists(outboxLockKey))
}

func TestSweepUsesStoreCurrentAtSweepTime(t *testing.T) {
	mongo := backendtest.NewStore(normalize.DatabaseMongo)
	postgres := backendtest.NewStore(normalize.DatabasePostgres)
	stores := backendtest.StoreRegistry(t, map[string]*backendtest.Store{
		normalize.DatabaseMongo:    mongo,
		normalize.DatabasePostgres: postgres,
	}, normalize.DatabaseMongo)
	s := NewSweeper(stores, Config{OutboxTTL: time.Hour}, backendtest.Logger(),
		WithClock(func() time.Time { return fixedNow }))

	old := fixedNow.Add(-2 * time.Hour)
	mongo.Seed([]core.OutboxMessage{{ID: "m1", CreatedAt: old}}, nil)
	postgres.Seed([]core.OutboxMessage{{ID: "p1", CreatedAt: old}, {ID: "p2", CreatedAt: fixedNow}}, nil)

	n, err := s.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, mongo.DeleteCalls(), 1)
	assert.Empty(t, postgres.DeleteCalls())

	require.NoError(t, stores.SetCurrent(context.Background(), normalize.DatabasePostgres, nil))

	n, err = s.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, mongo.DeleteCalls(), 1, "retired store must not be swept again")
	assert.Equal(t, []time.Time{fixedNow.Add(-time.Hour)}, postgres.DeleteCalls())
	require.Len(t, postgres.Outbox(), 1)
	assert.Equal(t, "p2", postgres.Outbox()[0].ID)
}
