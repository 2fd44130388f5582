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

// Package udp ingests one payload per datagram. Each peer address gets a
// stream session that replies through the listener socket; sessions end
// only through idle expiry.
package udp

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/dispatch"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/mode"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/session"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const maxDatagramSize = 64 * 1024

// Sessions adds peer lookup, since datagrams carry no connection.
type Sessions interface {
	ingress.Sessions
	FindByRemote(transport, remote string) (*session.Session, bool)
	Touch(sessionID string)
}

type Config struct {
	Addr   string
	Tenant string
}

type Server struct {
	cfg      Config
	gate     *mode.Gate
	ingestor ingress.Ingestor
	routes   *routing.Table
	sessions Sessions
	logger   *slog.Logger
	conn     net.PacketConn
}

func NewServer(
	cfg Config,
	gate *mode.Gate,
	ingestor ingress.Ingestor,
	routes *routing.Table,
	sessions Sessions,
	logger *slog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		gate:     gate,
		ingestor: ingestor,
		routes:   routes,
		sessions: sessions,
		logger:   logger,
	}
}

func (s *Server) Start() error {
	conn, err := net.ListenPacket("udp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.logger.Info("udp listener started", "addr", conn.LocalAddr().String(), "tenant", s.cfg.Tenant)
	return nil
}

func (s *Server) Addr() string {
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return s.cfg.Addr
}

// Serve reads datagrams until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		if err := s.Start(); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	host, port := core.AddrHostPort(s.conn.LocalAddr())
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("udp listener stopped")
				return nil
			}
			s.logger.Warn("udp read failed", "error", err)
			continue
		}
		payload := ingress.TrimLine(buf[:n])
		if len(payload) == 0 {
			continue
		}
		if !s.gate.StreamEnabled() {
			s.logger.Debug("udp datagram dropped by mode", "remote", addr.String(), "mode", s.gate.Mode())
			continue
		}
		s.track(ctx, addr)
		in := ingress.NewInbound(s.routes, s.cfg.Tenant, ingress.ProtocolUDP, payload, host, port)
		s.ingestor.ProcessIncoming(ctx, in)
	}
}

// track refreshes the peer's session or opens one.
func (s *Server) track(ctx context.Context, addr net.Addr) {
	if sess, ok := s.sessions.FindByRemote(dispatch.TransportUDP, addr.String()); ok {
		s.sessions.Touch(sess.ID)
		return
	}
	if _, err := s.sessions.CreateSession(ctx, s.cfg.Tenant, &dispatch.UDPContext{Conn: s.conn, Addr: addr}); err != nil {
		s.logger.Error("session creation failed", "remote", addr.String(), "error", err)
	}
}
