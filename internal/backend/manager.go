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

package backend

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const (
	defaultConnectTimeout = 10 * time.Second
	redactedValue         = "******"
)

var sensitiveKeyParts = []string{"password", "secret", "token", "credential", "apikey", "api_key"}

// ConnectionInfo is the redacted view of the current selection.
type ConnectionInfo struct {
	Kind       core.BackendKind `json:"kind"`
	Type       string           `json:"type"`
	Parameters map[string]any   `json:"parameters"`
	SwitchedAt *time.Time       `json:"switchedAt,omitempty"`
}

type HealthStatus struct {
	IsHealthy   bool             `json:"isHealthy"`
	Kind        core.BackendKind `json:"kind"`
	BackendType string           `json:"databaseType"`
	Message     string           `json:"message"`
	LastChecked time.Time        `json:"lastChecked"`
}

// Manager adds reconnect semantics on top of a Registry: configured
// defaults per token, a bounded connect timeout, health and redacted info.
type Manager[H core.Handle] struct {
	registry *Registry[H]
	defaults atomic.Pointer[map[string]map[string]any]
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewManager[H core.Handle](
	registry *Registry[H],
	defaults map[string]map[string]any,
	timeout time.Duration,
	logger *slog.Logger,
) *Manager[H] {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager[H]{
		registry: registry,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger,
	}
	m.SetDefaults(defaults)
	return m
}

func (m *Manager[H]) Registry() *Registry[H] { return m.registry }

// SetDefaults replaces the configured per-token parameters.
func (m *Manager[H]) SetDefaults(defaults map[string]map[string]any) {
	family := m.registry.Family()
	normalized := make(map[string]map[string]any, len(defaults))
	for token, params := range defaults {
		normalized[family.Normalize(token)] = maps.Clone(params)
	}
	m.defaults.Store(&normalized)
}

// Reconnect switches to token with the configured defaults merged with
// overrides. Overrides win.
func (m *Manager[H]) Reconnect(ctx context.Context, token string, overrides map[string]any) error {
	family := m.registry.Family()
	if !family.IsValid(token) {
		return fmt.Errorf("%w: %s type %q (supported: %s)",
			core.ErrValidation, m.registry.Kind(), token, strings.Join(family.Supported(), ", "))
	}
	canonical := family.Normalize(token)

	params := maps.Clone((*m.defaults.Load())[canonical])
	if params == nil {
		params = make(map[string]any, len(overrides))
	}
	maps.Copy(params, overrides)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.logger.Info("reconnecting backend",
		"kind", m.registry.Kind(),
		"type", canonical,
		"parameters", Redact(params),
	)
	if err := m.registry.SetCurrent(ctx, canonical, params); err != nil {
		m.logger.Error("backend reconnect failed",
			"kind", m.registry.Kind(),
			"type", canonical,
			"current", m.registry.Current().Type,
			"error", err,
		)
		return err
	}
	return nil
}

func (m *Manager[H]) ConnectionInfo() ConnectionInfo {
	sel := m.registry.Current()
	info := ConnectionInfo{
		Kind:       m.registry.Kind(),
		Type:       sel.Type,
		Parameters: Redact(sel.Params()),
	}
	if !sel.IsZero() {
		at := sel.SwitchedAt
		info.SwitchedAt = &at
	}
	return info
}

// CheckHealth probes the current backend. Probe failures are reported in
// the status, never returned.
func (m *Manager[H]) CheckHealth(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Kind:        m.registry.Kind(),
		BackendType: m.registry.Current().Type,
		LastChecked: m.now().UTC(),
	}
	if err := m.registry.ping(ctx); err != nil {
		status.Message = err.Error()
		m.logger.Warn("backend health check failed",
			"kind", status.Kind,
			"type", status.BackendType,
			"error", err,
		)
		return status
	}
	status.IsHealthy = true
	status.Message = fmt.Sprintf("%s %s connection is healthy", status.BackendType, status.Kind)
	return status
}

func (m *Manager[H]) TestConnection(ctx context.Context) bool {
	return m.registry.TestConnection(ctx)
}

// Redact masks secret-looking keys and URL passwords. Nested maps are
// walked; the input is not modified.
func Redact(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			out[k] = Redact(val)
		case string:
			out[k] = redactURL(val)
		default:
			out[k] = v
		}
	}
	return out
}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func redactURL(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); !ok {
		return s
	}
	return u.Redacted()
}
