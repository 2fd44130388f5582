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

// Package kafka is the "kafkastreams" bus. Queues map to topics.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/params"
)

type Config struct {
	Brokers           []string
	GroupID           string
	TopicPrefix       string
	AutoCreateTopics  bool
	Partitions        int
	ReplicationFactor int
	DialTimeout       time.Duration
}

func ConfigFromParams(p map[string]any) (Config, error) {
	cfg := Config{
		Brokers:     params.Strings(p, "brokers", []string{"localhost:9092"}),
		GroupID:     params.String(p, "groupId", "ingestion-gateway"),
		TopicPrefix: params.String(p, "topicPrefix", ""),
	}
	if len(cfg.Brokers) == 0 {
		return cfg, errors.New("kafka: no brokers configured")
	}
	var err error
	if cfg.AutoCreateTopics, err = params.Bool(p, "autoCreateTopics", true); err != nil {
		return cfg, err
	}
	if cfg.Partitions, err = params.Int(p, "partitions", 1); err != nil {
		return cfg, err
	}
	if cfg.ReplicationFactor, err = params.Int(p, "replicationFactor", 1); err != nil {
		return cfg, err
	}
	if cfg.DialTimeout, err = params.Duration(p, "dialTimeout", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Topic maps a queue name to a topic name.
func (c Config) Topic(queue string) string {
	return c.TopicPrefix + queue
}

type Bus struct {
	cfg    Config
	dialer *kafka.Dialer
	writer *kafka.Writer
	logger *slog.Logger
}

func New(ctx context.Context, p map[string]any, logger *slog.Logger) (*Bus, error) {
	cfg, err := ConfigFromParams(p)
	if err != nil {
		return nil, err
	}
	dialer := &kafka.Dialer{Timeout: cfg.DialTimeout, ClientID: "ingestion-gateway"}

	b := &Bus{
		cfg:    cfg,
		dialer: dialer,
		// Topic is set per message.
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: cfg.AutoCreateTopics,
			BatchTimeout:           10 * time.Millisecond,
		},
		logger: logger,
	}
	logger.Info("kafka bus configured", "brokers", strings.Join(cfg.Brokers, ","), "group_id", cfg.GroupID)
	return b, nil
}

func (b *Bus) Type() string { return normalize.BusKafkaStreams }

// Ping dials a broker and reads the controller, which needs metadata.
func (b *Bus) Ping(ctx context.Context) error {
	var errs []error
	for _, broker := range b.cfg.Brokers {
		conn, err := b.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = conn.Controller()
		conn.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("kafka ping: %w", errors.Join(errs...))
}

func (b *Bus) Close(ctx context.Context) error {
	return b.writer.Close()
}

// EnsureTopic creates the topic through the controller. Existing topics are
// left alone.
func (b *Bus) EnsureTopic(ctx context.Context, queue string) error {
	conn, err := b.dialer.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := b.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             b.cfg.Topic(queue),
		NumPartitions:     b.cfg.Partitions,
		ReplicationFactor: b.cfg.ReplicationFactor,
	})
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return nil
	}
	return err
}

func (b *Bus) Publish(ctx context.Context, msg core.BusMessage) error {
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: b.cfg.Topic(msg.Queue),
		Key:   []byte(msg.ID),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: "routingKey", Value: []byte(msg.RoutingKey)},
		},
	})
}

// Subscribe joins the configured consumer group for the queue's topic and
// commits each message after the handler returns.
func (b *Bus) Subscribe(ctx context.Context, queue string, handler core.MessageHandler) error {
	if b.cfg.AutoCreateTopics {
		if err := b.EnsureTopic(ctx, queue); err != nil {
			b.logger.Warn("kafka topic create failed", "topic", b.cfg.Topic(queue), "error", err)
		}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		Topic:    b.cfg.Topic(queue),
		GroupID:  b.cfg.GroupID,
		Dialer:   b.dialer,
		MaxWait:  500 * time.Millisecond,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch %s: %w", b.cfg.Topic(queue), err)
		}
		handler(ctx, msg.Value)
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			b.logger.Warn("kafka commit failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}
