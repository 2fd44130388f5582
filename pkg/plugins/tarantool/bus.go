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

// Package tarantool is the "tarantool" bus, built on queue module tubes.
// Each queue name is one fifo tube.
package tarantool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/tarantool/go-tarantool/v2"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/params"
)

var tubeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

type Config struct {
	Address     string
	User        string
	Password    string
	TubeType    string
	Timeout     time.Duration
	TakeTimeout time.Duration
}

func ConfigFromParams(p map[string]any) (Config, error) {
	cfg := Config{
		Address:  params.String(p, "address", ""),
		User:     params.String(p, "user", "guest"),
		Password: params.String(p, "password", ""),
		TubeType: params.String(p, "tubeType", "fifo"),
	}
	if cfg.Address == "" {
		cfg.Address = params.String(p, "host", "localhost") + ":" + params.String(p, "port", "3301")
	}
	var err error
	if cfg.Timeout, err = params.Duration(p, "timeout", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.TakeTimeout, err = params.Duration(p, "takeTimeout", time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Tube maps a queue name to a valid tube identifier.
func Tube(queue string) string {
	return tubeName.ReplaceAllString(queue, "_")
}

type Bus struct {
	cfg     Config
	conn    *tarantool.Connection
	mu      sync.Mutex
	created map[string]bool
	logger  *slog.Logger
}

func New(ctx context.Context, p map[string]any, logger *slog.Logger) (*Bus, error) {
	cfg, err := ConfigFromParams(p)
	if err != nil {
		return nil, err
	}
	dialer := tarantool.NetDialer{
		Address:  cfg.Address,
		User:     cfg.User,
		Password: cfg.Password,
	}
	conn, err := tarantool.Connect(ctx, dialer, tarantool.Opts{
		Timeout:       cfg.Timeout,
		Reconnect:     time.Second,
		MaxReconnects: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("tarantool connect: %w", err)
	}
	logger.Info("tarantool bus connected", "address", cfg.Address)
	return &Bus{cfg: cfg, conn: conn, created: make(map[string]bool), logger: logger}, nil
}

func (b *Bus) Type() string { return normalize.BusTarantool }

func (b *Bus) Ping(ctx context.Context) error {
	if _, err := b.conn.Do(tarantool.NewPingRequest().Context(ctx)).Get(); err != nil {
		return fmt.Errorf("tarantool ping: %w", err)
	}
	return nil
}

func (b *Bus) Close(ctx context.Context) error {
	return b.conn.Close()
}

func (b *Bus) call(ctx context.Context, fn string, args ...any) ([]any, error) {
	req := tarantool.NewCallRequest(fn).Args(args).Context(ctx)
	return b.conn.Do(req).Get()
}

func (b *Bus) ensureTube(ctx context.Context, queue string) (string, error) {
	tube := Tube(queue)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.created[tube] {
		return tube, nil
	}
	_, err := b.call(ctx, "queue.create_tube", tube, b.cfg.TubeType, map[string]any{"if_not_exists": true})
	if err != nil {
		return "", fmt.Errorf("tarantool create tube %s: %w", tube, err)
	}
	b.created[tube] = true
	return tube, nil
}

func (b *Bus) Publish(ctx context.Context, msg core.BusMessage) error {
	tube, err := b.ensureTube(ctx, msg.Queue)
	if err != nil {
		return err
	}
	if _, err := b.call(ctx, "queue.tube."+tube+":put", string(msg.Payload)); err != nil {
		return fmt.Errorf("tarantool put %s: %w", tube, err)
	}
	return nil
}

// Subscribe polls take with a timeout and acks each task after the handler.
func (b *Bus) Subscribe(ctx context.Context, queue string, handler core.MessageHandler) error {
	tube, err := b.ensureTube(ctx, queue)
	if err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		// no context on take: cancelling it would orphan a task taken by
		// the server after the client gave up
		data, err := b.call(context.Background(), "queue.tube."+tube+":take", b.cfg.TakeTimeout.Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tarantool take %s: %w", tube, err)
		}
		id, payload, ok, err := parseTask(data)
		if err != nil {
			b.logger.Warn("tarantool task skipped", "tube", tube, "error", err)
			continue
		}
		if !ok {
			continue
		}
		handler(ctx, payload)
		if _, err := b.call(context.Background(), "queue.tube."+tube+":ack", id); err != nil {
			b.logger.Warn("tarantool ack failed", "tube", tube, "task_id", id, "error", err)
		}
	}
}

var errBadTask = errors.New("unexpected task shape")

// parseTask reads {task_id, status, data}. ok is false when take timed out.
func parseTask(data []any) (any, []byte, bool, error) {
	if len(data) == 0 || data[0] == nil {
		return nil, nil, false, nil
	}
	tuple, ok := data[0].([]any)
	if !ok {
		// some servers return the tuple fields flat
		tuple = data
	}
	if len(tuple) < 3 {
		return nil, nil, false, errBadTask
	}
	switch v := tuple[2].(type) {
	case string:
		return tuple[0], []byte(v), true, nil
	case []byte:
		return tuple[0], v, true, nil
	case nil:
		return tuple[0], nil, true, nil
	}
	return tuple[0], []byte(fmt.Sprint(tuple[2])), true, nil
}
