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

package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/dispatch"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

// handleWebSocket ingests one payload per frame and streams the tenant's
// out-queue back over the same connection.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", "error", err)
		return
	}
	tenant := c.Param("tenant")
	clientID := core.ClientID(c.Request)
	connCtx := dispatch.NewWebSocketContext(conn)

	sess, err := s.deps.Sessions.CreateSession(c.Request.Context(), tenant, connCtx)
	if err != nil {
		s.logger.Error("session creation failed", "client_id", clientID, "tenant", tenant, "error", err)
		_ = connCtx.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"))
		conn.Close()
		return
	}
	defer func() {
		_ = s.deps.Sessions.DestroySession(sess.ID)
		conn.Close()
		s.logger.Info("ws client disconnected", "client_id", clientID, "session_id", sess.ID, "tenant", tenant)
	}()
	s.logger.Info("ws client connected",
		"client_id", clientID,
		"session_id", sess.ID,
		"tenant", tenant,
		"remote", connCtx.RemoteAddr(),
	)

	host, port := core.HostPort(c.Request)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("ws read error", "session_id", sess.ID, "error", err)
			}
			return
		}
		if !s.deps.Gate.StreamEnabled() {
			_ = connCtx.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "stream ingestion disabled"))
			return
		}
		if len(payload) == 0 {
			continue
		}
		in := ingress.NewInbound(s.deps.Routes, tenant, ingress.ProtocolWebSocket, payload, host, port)
		s.deps.Ingestor.ProcessIncoming(c.Request.Context(), in)
	}
}
