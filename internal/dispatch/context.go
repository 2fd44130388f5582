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

// Package dispatch forwards messages from a bus queue to a connected client.
package dispatch

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	TransportTCP       = "tcp"
	TransportUDP       = "udp"
	TransportWebSocket = "websocket"

	writeTimeout = 10 * time.Second
)

// ConnectionContext identifies the client a stream session writes to. The
// set of variants is closed: *TCPContext, *UDPContext, *WebSocketContext.
type ConnectionContext interface {
	Transport() string
	RemoteAddr() string
	isConnectionContext()
}

type TCPContext struct {
	Conn net.Conn
}

func (c *TCPContext) Transport() string  { return TransportTCP }
func (c *TCPContext) RemoteAddr() string { return addrString(c.Conn.RemoteAddr()) }
func (*TCPContext) isConnectionContext() {}

// UDPContext addresses one peer through the shared listener socket.
type UDPContext struct {
	Conn net.PacketConn
	Addr net.Addr
}

func (c *UDPContext) Transport() string  { return TransportUDP }
func (c *UDPContext) RemoteAddr() string { return addrString(c.Addr) }
func (*UDPContext) isConnectionContext() {}

// WebSocketContext serializes writes; gorilla connections allow one
// concurrent writer.
type WebSocketContext struct {
	Conn *websocket.Conn
	mu   sync.Mutex
}

func NewWebSocketContext(conn *websocket.Conn) *WebSocketContext {
	return &WebSocketContext{Conn: conn}
}

func (c *WebSocketContext) Transport() string  { return TransportWebSocket }
func (c *WebSocketContext) RemoteAddr() string { return addrString(c.Conn.RemoteAddr()) }
func (*WebSocketContext) isConnectionContext() {}

// WriteText sends one text frame.
func (c *WebSocketContext) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// WriteControl sends a control frame under the same write lock.
func (c *WebSocketContext) WriteControl(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(messageType, data, time.Now().Add(writeTimeout))
}

// Close codes sent to WebSocket clients when their session ends.
const (
	CloseNormal         = websocket.CloseNormalClosure
	CloseGoingAway      = websocket.CloseGoingAway
	ClosePolicyViolated = websocket.ClosePolicyViolation
)

// Disconnect ends the client's connection. WebSocket clients get a close
// frame with code and reason first. UDP peers share the listener socket,
// so nothing is closed for them.
func Disconnect(connCtx ConnectionContext, code int, reason string) error {
	switch c := connCtx.(type) {
	case *TCPContext:
		if c != nil && c.Conn != nil {
			return c.Conn.Close()
		}
	case *WebSocketContext:
		if c != nil && c.Conn != nil {
			_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
			return c.Conn.Close()
		}
	}
	return nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
