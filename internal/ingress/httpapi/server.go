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

// Package httpapi serves the REST ingest endpoint, the admin API for mode
// and backends, and the WebSocket stream endpoint.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/mode"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const maxBodyBytes = 1 << 20

// BackendAPI is the admin surface of one backend kind.
type BackendAPI interface {
	Reconnect(ctx context.Context, token string, overrides map[string]any) error
	ConnectionInfo() backend.ConnectionInfo
	CheckHealth(ctx context.Context) backend.HealthStatus
	TestConnection(ctx context.Context) bool
}

type Deps struct {
	Gate     *mode.Gate
	Ingestor ingress.Ingestor
	Routes   *routing.Table
	Sessions ingress.Sessions
	Buses    BackendAPI
	Stores   BackendAPI
	Logger   *slog.Logger
}

type Server struct {
	addr     string
	deps     Deps
	upgrader websocket.Upgrader
	logger   *slog.Logger
	server   *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr: addr,
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleLiveness)

	api := r.Group("/api/v1")
	api.POST("/messages", s.requireSurface(mode.SurfaceRest), s.handleIngest)
	api.POST("/messages/:tenant", s.requireSurface(mode.SurfaceRest), s.handleIngest)
	api.GET("/mode", s.handleGetMode)
	api.PUT("/mode", s.handleSetMode)

	backends := api.Group("/backends/:kind", s.resolveBackend)
	backends.GET("", s.handleBackendInfo)
	backends.POST("/reconnect", s.handleReconnect)
	backends.GET("/health", s.handleBackendHealth)
	backends.GET("/test", s.handleBackendTest)

	r.GET("/ws/:tenant", s.requireSurface(mode.SurfaceStream), s.handleWebSocket)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()
	s.logger.Info("http server started", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

// requireSurface rejects requests with the mode 503 body while surface is
// disabled.
func (s *Server) requireSurface(surface mode.Surface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.deps.Gate.Enabled(surface) {
			s.logger.Debug("request rejected by mode",
				"surface", surface,
				"mode", s.deps.Gate.Mode(),
				"path", c.Request.URL.Path,
			)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, s.deps.Gate.Unavailable(surface))
			return
		}
		c.Next()
	}
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.deps.Gate.Mode()})
}

// handleIngest takes the tenant from the path, or from the tenant header on
// the bare /messages route.
func (s *Server) handleIngest(c *gin.Context) {
	tenant := c.Param("tenant")
	if tenant == "" {
		tenant = strings.TrimSpace(c.GetHeader(core.TenantHeader))
	}
	if tenant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant is required in the path or " + core.TenantHeader + " header"})
		return
	}

	payload, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload cannot be empty"})
		return
	}

	host, port := core.HostPort(c.Request)
	in := ingress.NewInbound(s.deps.Routes, tenant, ingress.ProtocolHTTP, payload, host, port)
	s.deps.Ingestor.ProcessIncoming(c.Request.Context(), in)
	s.logger.Debug("rest payload accepted",
		"tenant", tenant,
		"client_ip", core.RemoteIP(c.Request),
		"size", len(payload),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "accepted",
		"inQueue":  in.InQueue,
		"outQueue": in.OutQueue,
	})
}

func readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	return c.GetRawData()
}
