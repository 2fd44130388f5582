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

// Package pulsar is the "pulsar" bus. Queues map to persistent topics.
package pulsar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/params"
)

type Config struct {
	URL              string
	Token            string
	Tenant           string
	Namespace        string
	SubscriptionName string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

func ConfigFromParams(p map[string]any) (Config, error) {
	cfg := Config{
		URL:              params.String(p, "url", "pulsar://localhost:6650"),
		Token:            params.String(p, "token", ""),
		Tenant:           params.String(p, "tenant", "public"),
		Namespace:        params.String(p, "namespace", "default"),
		SubscriptionName: params.String(p, "subscription", "ingestion-gateway"),
	}
	var err error
	if cfg.ConnectTimeout, err = params.Duration(p, "connectTimeout", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OperationTimeout, err = params.Duration(p, "operationTimeout", 30*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Topic maps a queue name to a fully qualified topic.
func (c Config) Topic(queue string) string {
	return fmt.Sprintf("persistent://%s/%s/%s", c.Tenant, c.Namespace, queue)
}

type Bus struct {
	cfg       Config
	client    pulsar.Client
	mu        sync.Mutex
	producers map[string]pulsar.Producer
	logger    *slog.Logger
}

// New creates the client. The client connects lazily; Ping forces a
// lookup against the broker.
func New(ctx context.Context, p map[string]any, logger *slog.Logger) (*Bus, error) {
	cfg, err := ConfigFromParams(p)
	if err != nil {
		return nil, err
	}
	opts := pulsar.ClientOptions{
		URL:               cfg.URL,
		ConnectionTimeout: cfg.ConnectTimeout,
		OperationTimeout:  cfg.OperationTimeout,
	}
	if cfg.Token != "" {
		opts.Authentication = pulsar.NewAuthenticationToken(cfg.Token)
	}
	client, err := pulsar.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("pulsar client: %w", err)
	}
	logger.Info("pulsar bus configured", "url", cfg.URL, "namespace", cfg.Tenant+"/"+cfg.Namespace)
	return &Bus{
		cfg:       cfg,
		client:    client,
		producers: make(map[string]pulsar.Producer),
		logger:    logger,
	}, nil
}

func (b *Bus) Type() string { return normalize.BusPulsar }

// Ping looks up the partitions of a well-known topic.
func (b *Bus) Ping(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		_, err := b.client.TopicPartitions(b.cfg.Topic("ingestion-gateway-health"))
		errCh <- err
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("pulsar ping: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pulsar ping: %w", ctx.Err())
	}
}

func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	for _, p := range b.producers {
		p.Close()
	}
	b.producers = make(map[string]pulsar.Producer)
	b.mu.Unlock()
	b.client.Close()
	return nil
}

func (b *Bus) producer(queue string) (pulsar.Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.producers[queue]; ok {
		return p, nil
	}
	p, err := b.client.CreateProducer(pulsar.ProducerOptions{Topic: b.cfg.Topic(queue)})
	if err != nil {
		return nil, fmt.Errorf("pulsar producer %s: %w", queue, err)
	}
	b.producers[queue] = p
	return p, nil
}

func (b *Bus) Publish(ctx context.Context, msg core.BusMessage) error {
	p, err := b.producer(msg.Queue)
	if err != nil {
		return err
	}
	_, err = p.Send(ctx, &pulsar.ProducerMessage{
		Payload:    msg.Payload,
		Key:        msg.ID,
		Properties: map[string]string{"routingKey": msg.RoutingKey},
	})
	if err != nil {
		return fmt.Errorf("pulsar send %s: %w", msg.Queue, err)
	}
	return nil
}

// Subscribe uses a shared subscription so every gateway replica takes a
// share of the queue.
func (b *Bus) Subscribe(ctx context.Context, queue string, handler core.MessageHandler) error {
	consumer, err := b.client.Subscribe(pulsar.ConsumerOptions{
		Topic:            b.cfg.Topic(queue),
		SubscriptionName: b.cfg.SubscriptionName,
		Type:             pulsar.Shared,
	})
	if err != nil {
		return fmt.Errorf("pulsar subscribe %s: %w", queue, err)
	}
	defer consumer.Close()

	for {
		msg, err := consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pulsar receive %s: %w", queue, err)
		}
		handler(ctx, msg.Payload())
		if err := consumer.Ack(msg); err != nil {
			b.logger.Warn("pulsar ack failed", "queue", queue, "error", err)
		}
	}
}
