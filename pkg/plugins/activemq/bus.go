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

// Package activemq is the "activemq" bus, over AMQP 1.0.
package activemq

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/Azure/go-amqp"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/params"
)

const defaultURL = "amqp://localhost:5672"

type Config struct {
	URL           string
	Username      string
	Password      string
	AddressPrefix string
	Credit        int
	DialTimeout   time.Duration
}

func ConfigFromParams(p map[string]any) (Config, error) {
	cfg := Config{
		URL:           params.String(p, "url", ""),
		Username:      params.String(p, "username", ""),
		Password:      params.String(p, "password", ""),
		AddressPrefix: params.String(p, "addressPrefix", ""),
	}
	if cfg.URL == "" {
		cfg.URL = defaultURL
		if host := params.String(p, "host", ""); host != "" {
			cfg.URL = (&url.URL{Scheme: "amqp", Host: host + ":" + params.String(p, "port", "5672")}).String()
		}
	}
	var err error
	if cfg.Credit, err = params.Int(p, "credit", 1); err != nil {
		return cfg, err
	}
	if cfg.DialTimeout, err = params.Duration(p, "dialTimeout", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Address maps a queue name to the broker address.
func (c Config) Address(queue string) string {
	return c.AddressPrefix + queue
}

type Bus struct {
	cfg      Config
	conn     *amqp.Conn
	sendSess *amqp.Session
	mu       sync.Mutex
	senders  map[string]*amqp.Sender
	logger   *slog.Logger
}

func New(ctx context.Context, p map[string]any, logger *slog.Logger) (*Bus, error) {
	cfg, err := ConfigFromParams(p)
	if err != nil {
		return nil, err
	}

	opts := &amqp.ConnOptions{ContainerID: "ingestion-gateway"}
	if cfg.Username != "" {
		opts.SASLType = amqp.SASLTypePlain(cfg.Username, cfg.Password)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := amqp.Dial(dialCtx, cfg.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("activemq dial: %w", err)
	}

	sendSess, err := conn.NewSession(dialCtx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("activemq send session: %w", err)
	}

	logger.Info("activemq bus connected", "url", cfg.URL)
	return &Bus{
		cfg:      cfg,
		conn:     conn,
		sendSess: sendSess,
		senders:  make(map[string]*amqp.Sender),
		logger:   logger,
	}, nil
}

func (b *Bus) Type() string { return normalize.BusActiveMQ }

// Ping begins and ends a session on the connection.
func (b *Bus) Ping(ctx context.Context) error {
	sess, err := b.conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("activemq ping: %w", err)
	}
	return sess.Close(ctx)
}

func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	for _, s := range b.senders {
		s.Close(ctx)
	}
	b.senders = make(map[string]*amqp.Sender)
	b.mu.Unlock()

	b.sendSess.Close(ctx)
	return b.conn.Close()
}

func (b *Bus) sender(ctx context.Context, queue string) (*amqp.Sender, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.senders[queue]; ok {
		return s, nil
	}
	s, err := b.sendSess.NewSender(ctx, b.cfg.Address(queue), nil)
	if err != nil {
		return nil, fmt.Errorf("activemq sender %s: %w", queue, err)
	}
	b.senders[queue] = s
	return s, nil
}

func (b *Bus) dropSender(ctx context.Context, queue string, s *amqp.Sender) {
	b.mu.Lock()
	if b.senders[queue] == s {
		delete(b.senders, queue)
	}
	b.mu.Unlock()
	s.Close(ctx)
}

func (b *Bus) Publish(ctx context.Context, msg core.BusMessage) error {
	s, err := b.sender(ctx, msg.Queue)
	if err != nil {
		return err
	}
	subject := msg.RoutingKey
	err = s.Send(ctx, &amqp.Message{
		Data: [][]byte{msg.Payload},
		Properties: &amqp.MessageProperties{
			MessageID: msg.ID,
			Subject:   &subject,
		},
	}, nil)
	if err != nil {
		// link may be detached; rebuild on next publish
		b.dropSender(ctx, msg.Queue, s)
		return fmt.Errorf("activemq send %s: %w", msg.Queue, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, queue string, handler core.MessageHandler) error {
	recvSess, err := b.conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("activemq consumer session: %w", err)
	}
	defer recvSess.Close(context.Background())

	receiver, err := recvSess.NewReceiver(ctx, b.cfg.Address(queue), &amqp.ReceiverOptions{
		Credit: int32(b.cfg.Credit),
	})
	if err != nil {
		return fmt.Errorf("activemq receiver %s: %w", queue, err)
	}
	defer receiver.Close(context.Background())

	for {
		msg, err := receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("activemq receive %s: %w", queue, err)
		}
		handler(ctx, msg.GetData())
		if err := receiver.AcceptMessage(ctx, msg); err != nil && ctx.Err() == nil {
			b.logger.Warn("activemq accept failed", "queue", queue, "error", err)
		}
	}
}
