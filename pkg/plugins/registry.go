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

// Package plugins binds backend tokens to their driver constructors.
package plugins

import (
	"context"
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/activemq"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/kafka"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/mongo"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/postgres"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/pulsar"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/rabbitmq"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/tarantool"
)

type constructor[H any] func(ctx context.Context, p map[string]any, logger *slog.Logger) (H, error)

// Catalog is the fixed set of bus and store drivers.
type Catalog struct {
	logger *slog.Logger
}

func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{logger: logger}
}

func (c *Catalog) Buses() map[string]backend.Factory[core.Bus] {
	return map[string]backend.Factory[core.Bus]{
		normalize.BusRabbit:       busFactory(c, normalize.BusRabbit, rabbitmq.New),
		normalize.BusActiveMQ:     busFactory(c, normalize.BusActiveMQ, activemq.New),
		normalize.BusKafkaStreams: busFactory(c, normalize.BusKafkaStreams, kafka.New),
		normalize.BusPulsar:       busFactory(c, normalize.BusPulsar, pulsar.New),
		normalize.BusTarantool:    busFactory(c, normalize.BusTarantool, tarantool.New),
	}
}

func (c *Catalog) Stores() map[string]backend.Factory[core.Store] {
	return map[string]backend.Factory[core.Store]{
		normalize.DatabaseMongo:    storeFactory(c, normalize.DatabaseMongo, mongo.New),
		normalize.DatabasePostgres: storeFactory(c, normalize.DatabasePostgres, postgres.New),
	}
}

func (c *Catalog) BusRegistry(probeTimeout time.Duration) *backend.Registry[core.Bus] {
	return backend.NewRegistry(core.KindBus, normalize.Bus, c.Buses(),
		backend.WithProbeTimeout(probeTimeout),
		backend.WithLogger(c.logger),
	)
}

func (c *Catalog) StoreRegistry(probeTimeout time.Duration) *backend.Registry[core.Store] {
	return backend.NewRegistry(core.KindDatabase, normalize.Database, c.Stores(),
		backend.WithProbeTimeout(probeTimeout),
		backend.WithLogger(c.logger),
	)
}

// Failed constructions return a nil interface, never a typed nil.
func busFactory[B core.Bus](c *Catalog, name string, ctor constructor[B]) backend.Factory[core.Bus] {
	return func(ctx context.Context, p map[string]any) (core.Bus, error) {
		b, err := ctor(ctx, p, c.logger.With("bus", name))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func storeFactory[S core.Store](c *Catalog, name string, ctor constructor[S]) backend.Factory[core.Store] {
	return func(ctx context.Context, p map[string]any) (core.Store, error) {
		s, err := ctor(ctx, p, c.logger.With("database", name))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
