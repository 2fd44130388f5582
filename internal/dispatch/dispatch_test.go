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
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend/backendtest"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

type unknownContext struct{}

func (unknownContext) Transport() string    { return "quic" }
func (unknownContext) RemoteAddr() string   { return "" }
func (unknownContext) isConnectionContext() {}

func TestCreateSenderRejectsUnknown(t *testing.T) {
	for _, c := range []ConnectionContext{nil, unknownContext{}, &TCPContext{}, &UDPContext{}, (*WebSocketContext)(nil)} {
		_, err := CreateSender(c)
		assert.ErrorIs(t, err, core.ErrUnsupportedConnection, "%T", c)
	}
}

func TestSendMessagesToClientRejectsUnknownBeforeSubscribing(t *testing.T) {
	bus := backendtest.NewBus(normalize.BusRabbit)
	d := NewDispatcher(backendtest.BusRegistry(t, map[string]*backendtest.Bus{normalize.BusRabbit: bus}, normalize.BusRabbit), nil, backendtest.Logger())

	err := d.SendMessagesToClient(context.Background(), unknownContext{}, "q")
	assert.ErrorIs(t, err, core.ErrUnsupportedConnection)
	assert.Zero(t, bus.Subscribers("q"))
}

func publish(t *testing.T, bus *backendtest.Bus, queue string, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		require.NoError(t, bus.Publish(context.Background(), core.BusMessage{Queue: queue, Payload: []byte(p)}))
	}
}

func TestSendMessagesToClientTCP(t *testing.T) {
	bus := backendtest.NewBus(normalize.BusRabbit)
	d := NewDispatcher(backendtest.BusRegistry(t, map[string]*backendtest.Bus{normalize.BusRabbit: bus}, normalize.BusRabbit), nil, backendtest.Logger())

	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.SendMessagesToClient(ctx, &TCPContext{Conn: server}, "acme.out") }()

	require.Eventually(t, func() bool { return bus.Subscribers("acme.out") == 1 }, time.Second, 5*time.Millisecond)

	reader := bufio.NewReader(client)
	publish(t, bus, "acme.out", "hello")
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	// empty messages are skipped, the next one still arrives
	publish(t, bus, "acme.out", "", "world")
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "world\n", line)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestSendMessagesToClientFollowsBusSwitch(t *testing.T) {
	rabbit := backendtest.NewBus(normalize.BusRabbit)
	kafka := backendtest.NewBus(normalize.BusKafkaStreams)
	buses := backendtest.BusRegistry(t, map[string]*backendtest.Bus{
		normalize.BusRabbit:       rabbit,
		normalize.BusKafkaStreams: kafka,
	}, normalize.BusRabbit)
	d := NewDispatcher(buses, nil, backendtest.Logger())

	server, client := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.SendMessagesToClient(ctx, &TCPContext{Conn: server}, "q") }()

	require.Eventually(t, func() bool { return rabbit.Subscribers("q") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, buses.SetCurrent(context.Background(), "kafka", nil))
	require.Eventually(t, func() bool { return kafka.Subscribers("q") == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, rabbit.Closed, time.Second, 5*time.Millisecond)

	publish(t, kafka, "q", "from-kafka")
	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "from-kafka\n", line)
}

func TestSendMessagesToClientUDP(t *testing.T) {
	bus := backendtest.NewBus(normalize.BusPulsar)
	d := NewDispatcher(backendtest.BusRegistry(t, map[string]*backendtest.Bus{normalize.BusPulsar: bus}, normalize.BusPulsar), nil, backendtest.Logger())

	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()
	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = d.SendMessagesToClient(ctx, &UDPContext{Conn: server, Addr: peer.LocalAddr()}, "q")
	}()
	require.Eventually(t, func() bool { return bus.Subscribers("q") == 1 }, time.Second, 5*time.Millisecond)

	publish(t, bus, "q", "ping")
	buf := make([]byte, 64)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping\n", string(buf[:n]))
}

func TestSendMessagesToClientWebSocket(t *testing.T) {
	bus := backendtest.NewBus(normalize.BusTarantool)
	d := NewDispatcher(backendtest.BusRegistry(t, map[string]*backendtest.Bus{normalize.BusTarantool: bus}, normalize.BusTarantool), nil, backendtest.Logger())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = d.SendMessagesToClient(r.Context(), NewWebSocketContext(conn), "q")
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return bus.Subscribers("q") == 1 }, time.Second, 5*time.Millisecond)
	publish(t, bus, "q", "frame")

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "frame\n", string(data))
}
