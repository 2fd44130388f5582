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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const backendKey = "backend"

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type modeResponse struct {
	Mode          core.ApplicationMode `json:"mode"`
	RestEnabled   bool                 `json:"restEnabled"`
	StreamEnabled bool                 `json:"streamEnabled"`
	Description   string               `json:"description"`
}

type reconnectRequest struct {
	Type       string         `json:"type" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) currentMode() modeResponse {
	return modeResponse{
		Mode:          s.deps.Gate.Mode(),
		RestEnabled:   s.deps.Gate.RestEnabled(),
		StreamEnabled: s.deps.Gate.StreamEnabled(),
		Description:   s.deps.Gate.Describe(),
	}
}

func (s *Server) handleGetMode(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentMode())
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing mode field"})
		return
	}
	m, err := core.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          err.Error(),
			"availableModes": core.AllModes,
		})
		return
	}
	s.deps.Gate.SetMode(m)
	c.JSON(http.StatusOK, s.currentMode())
}

// resolveBackend maps the :kind path segment to its manager.
func (s *Server) resolveBackend(c *gin.Context) {
	kind, ok := core.ParseBackendKind(c.Param("kind"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error": "unknown backend kind " + c.Param("kind"),
		})
		return
	}
	api := s.deps.Buses
	if kind == core.KindDatabase {
		api = s.deps.Stores
	}
	c.Set(backendKey, api)
	c.Next()
}

func backendFrom(c *gin.Context) BackendAPI {
	return c.MustGet(backendKey).(BackendAPI)
}

func (s *Server) handleBackendInfo(c *gin.Context) {
	c.JSON(http.StatusOK, backendFrom(c).ConnectionInfo())
}

func (s *Server) handleReconnect(c *gin.Context) {
	var req reconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing type field"})
		return
	}

	api := backendFrom(c)
	err := api.Reconnect(c.Request.Context(), req.Type, req.Parameters)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"status":     "switched",
			"connection": api.ConnectionInfo(),
		})
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":      err.Error(),
			"connection": api.ConnectionInfo(),
		})
	}
}

func (s *Server) handleBackendHealth(c *gin.Context) {
	status := backendFrom(c).CheckHealth(c.Request.Context())
	code := http.StatusOK
	if !status.IsHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (s *Server) handleBackendTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connected": backendFrom(c).TestConnection(c.Request.Context())})
}
