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

// Package logging holds the per-packet audit logger.
package logging

import (
	"log/slog"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type PacketLogger struct {
	logger *slog.Logger
}

func NewPacketLogger(logger *slog.Logger) *PacketLogger {
	return &PacketLogger{logger: logger}
}

// Inbound logs a payload accepted by a listener, with the outbox row it
// was recorded under.
func (p *PacketLogger) Inbound(in core.Inbound, outboxID string) {
	if p == nil {
		return
	}
	p.logger.Info("packet",
		"outbox_id", outboxID,
		"direction", DirectionInbound,
		"protocol", in.Protocol,
		"host", in.Host,
		"port", in.PortString(),
		"in_queue", in.InQueue,
		"out_queue", in.OutQueue,
		"payload_size", len(in.Payload),
	)
}

// Outbound logs a message forwarded from a queue to a connected client.
func (p *PacketLogger) Outbound(queue, transport, remote string, size int) {
	if p == nil {
		return
	}
	p.logger.Debug("packet",
		"direction", DirectionOutbound,
		"queue", queue,
		"transport", transport,
		"remote", remote,
		"payload_size", size,
	)
}
