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

// Package ingress holds what the transport listeners share.
package ingress

import (
	"bytes"
	"context"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/dispatch"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/session"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const (
	ProtocolHTTP      = "http"
	ProtocolTCP       = "tcp"
	ProtocolUDP       = "udp"
	ProtocolWebSocket = "websocket"
	ProtocolMQTT      = "mqtt"
)

// Ingestor accepts one payload. It never fails; persistence errors are
// logged downstream.
type Ingestor interface {
	ProcessIncoming(ctx context.Context, in core.Inbound)
}

// Sessions is the stream session lifecycle used by connection-oriented
// listeners.
type Sessions interface {
	CreateSession(ctx context.Context, tenant string, connCtx dispatch.ConnectionContext) (*session.Session, error)
	DestroySession(sessionID string) error
}

// NewInbound resolves the tenant's queues and assembles the ingest value.
func NewInbound(routes *routing.Table, tenant, protocol string, payload []byte, host string, port *int) core.Inbound {
	route := routes.Resolve(tenant)
	return core.Inbound{
		Payload:  string(payload),
		InQueue:  route.InQueue,
		OutQueue: route.OutQueue,
		Host:     host,
		Port:     port,
		Protocol: protocol,
	}
}

// TrimLine strips the line terminator of a stream frame.
func TrimLine(b []byte) []byte {
	return bytes.TrimRight(b, "\r\n")
}
