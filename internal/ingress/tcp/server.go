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

// Package tcp ingests newline-delimited payloads over TCP and streams the
// tenant's out-queue back on the same connection.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/dispatch"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/mode"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

// DefaultMaxLineSize bounds a single payload line.
const DefaultMaxLineSize = 1024 * 1024

type Config struct {
	Addr        string
	Tenant      string
	MaxLineSize int
}

type Server struct {
	cfg      Config
	gate     *mode.Gate
	ingestor ingress.Ingestor
	routes   *routing.Table
	sessions ingress.Sessions
	logger   *slog.Logger

	listener net.Listener
	conns    sync.Map
	wg       sync.WaitGroup
}

func NewServer(
	cfg Config,
	gate *mode.Gate,
	ingestor ingress.Ingestor,
	routes *routing.Table,
	sessions ingress.Sessions,
	logger *slog.Logger,
) *Server {
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultMaxLineSize
	}
	return &Server{
		cfg:      cfg,
		gate:     gate,
		ingestor: ingestor,
		routes:   routes,
		sessions: sessions,
		logger:   logger,
	}
}

// Start binds the listener.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info("tcp listener started", "addr", listener.Addr().String(), "tenant", s.cfg.Tenant)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Serve accepts connections until ctx is done, then closes the listener and
// every open connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Start(); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.conns.Range(func(key, _ any) bool {
			key.(net.Conn).Close()
			return true
		})
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				s.logger.Info("tcp listener stopped")
				return nil
			}
			s.logger.Warn("tcp accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	s.conns.Store(conn, struct{}{})
	defer func() {
		s.conns.Delete(conn)
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	if !s.gate.StreamEnabled() {
		s.logger.Info("tcp connection refused by mode", "remote", remote, "mode", s.gate.Mode())
		return
	}

	sess, err := s.sessions.CreateSession(ctx, s.cfg.Tenant, &dispatch.TCPContext{Conn: conn})
	if err != nil {
		s.logger.Error("session creation failed", "remote", remote, "error", err)
		return
	}
	defer func() { _ = s.sessions.DestroySession(sess.ID) }()

	host, port := core.AddrHostPort(conn.LocalAddr())
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.cfg.MaxLineSize)), s.cfg.MaxLineSize)
	for scanner.Scan() {
		line := ingress.TrimLine(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !s.gate.StreamEnabled() {
			s.logger.Info("tcp connection closed by mode", "remote", remote, "mode", s.gate.Mode())
			return
		}
		in := ingress.NewInbound(s.routes, s.cfg.Tenant, ingress.ProtocolTCP, line, host, port)
		s.ingestor.ProcessIncoming(ctx, in)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.logger.Warn("tcp line exceeds max size", "remote", remote, "max", s.cfg.MaxLineSize)
			return
		}
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("tcp read error", "remote", remote, "error", err)
		}
	}
}
