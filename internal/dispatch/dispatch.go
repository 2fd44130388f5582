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

package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/logging"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const defaultRetryDelay = time.Second

type Dispatcher struct {
	buses      *backend.Registry[core.Bus]
	packetLog  *logging.PacketLogger
	logger     *slog.Logger
	retryDelay time.Duration
}

func NewDispatcher(buses *backend.Registry[core.Bus], packetLog *logging.PacketLogger, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		buses:      buses,
		packetLog:  packetLog,
		logger:     logger,
		retryDelay: defaultRetryDelay,
	}
}

// SendMessagesToClient subscribes to queue on the current bus and writes
// every message, newline terminated, to the client. It follows bus swaps
// and returns when ctx is done or the subscription ends.
func (d *Dispatcher) SendMessagesToClient(ctx context.Context, connCtx ConnectionContext, queue string) error {
	sender, err := CreateSender(connCtx)
	if err != nil {
		return err
	}
	logger := d.logger.With("queue", queue, "transport", connCtx.Transport(), "remote", connCtx.RemoteAddr())

	handler := func(_ context.Context, payload []byte) {
		if len(payload) == 0 {
			logger.Warn("empty message skipped")
			return
		}
		data := make([]byte, 0, len(payload)+1)
		data = append(data, payload...)
		data = append(data, '\n')
		if err := sender.Send(data); err != nil {
			logger.Error("send to client failed", "error", err)
			return
		}
		d.packetLog.Outbound(queue, connCtx.Transport(), connCtx.RemoteAddr(), len(data))
	}

	for {
		lease, err := d.buses.Acquire()
		if err != nil {
			logger.Warn("no bus available, retrying", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.retryDelay):
				continue
			}
		}

		busType := lease.Handle().Type()
		retired, err := d.subscribe(ctx, lease, queue, handler)
		lease.Release()

		if ctx.Err() != nil {
			return nil
		}
		if retired {
			logger.Info("bus switched, resubscribing", "previous", busType)
			continue
		}
		if err != nil {
			logger.Error("subscription failed", "bus", busType, "error", err)
			return err
		}
		logger.Info("subscription ended", "bus", busType)
		return nil
	}
}

// subscribe runs one Subscribe call that is cancelled when the leased bus
// is retired.
func (d *Dispatcher) subscribe(ctx context.Context, lease *backend.Lease[core.Bus], queue string, handler core.MessageHandler) (bool, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-lease.Retired():
			cancel()
		case <-subCtx.Done():
		}
	}()

	err := lease.Handle().Subscribe(subCtx, queue, handler)
	select {
	case <-lease.Retired():
		return true, err
	default:
		return false, err
	}
}
