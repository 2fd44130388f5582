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

// Package mongo is the "mongo" store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/params"
)

var ErrEmptyURI = errors.New("mongo uri cannot be empty")

type Config struct {
	URI                    string
	Database               string
	OutboxCollection       string
	IncidentCollection     string
	ServerSelectionTimeout time.Duration
	MaxPoolSize            uint64
}

func ConfigFromParams(p map[string]any) (Config, error) {
	cfg := Config{
		URI:                params.String(p, "uri", params.String(p, "connectionString", "")),
		Database:           params.String(p, "database", "ingestion"),
		OutboxCollection:   params.String(p, "outboxCollection", "outbox"),
		IncidentCollection: params.String(p, "incidentCollection", "incidents"),
	}
	if cfg.URI == "" {
		return cfg, ErrEmptyURI
	}
	var err error
	if cfg.ServerSelectionTimeout, err = params.Duration(p, "serverSelectionTimeout", 5*time.Second); err != nil {
		return cfg, err
	}
	pool, err := params.Int(p, "maxPoolSize", 100)
	if err != nil {
		return cfg, err
	}
	if pool > 0 {
		cfg.MaxPoolSize = uint64(pool)
	}
	return cfg, nil
}

type Store struct {
	client    *mongo.Client
	outbox    *mongo.Collection
	incidents *mongo.Collection
	logger    *slog.Logger
}

func New(ctx context.Context, p map[string]any, logger *slog.Logger) (*Store, error) {
	cfg, err := ConfigFromParams(p)
	if err != nil {
		return nil, err
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("ingestion-gateway").
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	db := client.Database(cfg.Database)
	s := &Store{
		client:    client,
		outbox:    db.Collection(cfg.OutboxCollection),
		incidents: db.Collection(cfg.IncidentCollection),
		logger:    logger,
	}
	s.ensureIndexes(ctx)

	logger.Info("mongo store connected", "database", cfg.Database,
		"outbox", cfg.OutboxCollection, "incidents", cfg.IncidentCollection)
	return s, nil
}

// ensureIndexes is best effort; the store works without them.
func (s *Store) ensureIndexes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	indexes := map[*mongo.Collection]mongo.IndexModel{
		s.outbox:    {Keys: bson.D{{Key: "isProcessed", Value: 1}, {Key: "createdAt", Value: 1}}},
		s.incidents: {Keys: bson.D{{Key: "createdAt", Value: 1}}},
	}
	for coll, model := range indexes {
		if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
			s.logger.Debug("mongo index not created", "collection", coll.Name(), "error", err)
		}
	}
}

func (s *Store) Type() string { return normalize.DatabaseMongo }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) SaveOutbox(ctx context.Context, msg *core.OutboxMessage) error {
	if _, err := s.outbox.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("insert outbox %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) SaveIncident(ctx context.Context, rec *core.IncidentRecord) error {
	if _, err := s.incidents.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert incident %s: %w", rec.ID, err)
	}
	return nil
}

func outboxDeleteFilter(cutoff time.Time, processedOnly bool) bson.M {
	filter := bson.M{"createdAt": bson.M{"$lt": cutoff}}
	if processedOnly {
		filter["isProcessed"] = true
	}
	return filter
}

func (s *Store) DeleteOutboxBefore(ctx context.Context, cutoff time.Time, processedOnly bool) (int64, error) {
	res, err := s.outbox.DeleteMany(ctx, outboxDeleteFilter(cutoff, processedOnly))
	if err != nil {
		return 0, fmt.Errorf("delete outbox: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) DeleteIncidentsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.incidents.DeleteMany(ctx, bson.M{"createdAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("delete incidents: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]core.OutboxMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.outbox.Find(ctx, bson.M{"isProcessed": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("find unprocessed outbox: %w", err)
	}
	var out []core.OutboxMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode outbox: %w", err)
	}
	return out, nil
}

func markProcessedUpdate(id string, at time.Time) (bson.M, bson.M) {
	return bson.M{"_id": id, "isProcessed": false},
		bson.M{"$set": bson.M{"isProcessed": true, "processedAt": at}}
}

func (s *Store) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	filter, update := markProcessedUpdate(id, at)
	if _, err := s.outbox.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("mark outbox %s processed: %w", id, err)
	}
	return nil
}
