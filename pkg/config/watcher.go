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

package config

import (
	"context"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/mode"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
)

const defaultWatchInterval = 5 * time.Second

// Reconnector is the part of a backend manager the watcher drives.
type Reconnector interface {
	SetDefaults(defaults map[string]map[string]any)
	Reconnect(ctx context.Context, token string, overrides map[string]any) error
}

// Watcher polls the config file and applies changed routes, backends and
// mode to the running gateway.
type Watcher struct {
	path     string
	interval time.Duration
	routes   *routing.Table
	buses    Reconnector
	stores   Reconnector
	gate     *mode.Gate
	logger   *slog.Logger
	lastMod  time.Time
	applied  *Config
}

func NewWatcher(
	path string,
	initial *Config,
	routes *routing.Table,
	buses, stores Reconnector,
	gate *mode.Gate,
	logger *slog.Logger,
) *Watcher {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		routes:   routes,
		buses:    buses,
		stores:   stores,
		gate:     gate,
		logger:   logger,
		applied:  initial,
	}
	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
	}
	return w
}

func (w *Watcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config stat failed", "path", w.path, "error", err)
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed", "path", w.path, "error", err)
		return
	}
	w.Apply(ctx, cfg)
}

// Apply pushes the differences between cfg and the last applied config.
// Routes are always replaced. A failed reconnect keeps the previous
// backend, and that section is not recorded as applied, so the next file
// change retries it even when the section itself did not change.
func (w *Watcher) Apply(ctx context.Context, cfg *Config) {
	prev := w.applied
	if prev == nil {
		prev = &Config{}
	}

	routes := cfg.Routes()
	w.routes.ReplaceAll(routes)
	w.logger.Info("routes reloaded", "count", len(routes))

	applied := *cfg
	if !w.applyBackend(ctx, "bus", normalize.Bus, w.buses, prev.Bus, cfg.Bus) {
		applied.Bus = prev.Bus
	}
	if !w.applyBackend(ctx, "database", normalize.Database, w.stores, prev.Database, cfg.Database) {
		applied.Database = prev.Database
	}

	if m := cfg.Mode(); m != w.gate.Mode() && cfg.App.Mode != prev.App.Mode {
		w.gate.SetMode(m)
	}
	w.applied = &applied
}

func (w *Watcher) applyBackend(
	ctx context.Context,
	kind string,
	family normalize.Family,
	target Reconnector,
	prev, next BackendConfig,
) bool {
	if target == nil {
		return true
	}
	target.SetDefaults(next.Backends)

	prevType, nextType := family.Normalize(prev.Type), family.Normalize(next.Type)
	if prevType == nextType && reflect.DeepEqual(prev.Backends[nextType], next.Backends[nextType]) {
		return true
	}
	if err := target.Reconnect(ctx, nextType, nil); err != nil {
		w.logger.Error("config reconnect failed", "kind", kind, "type", nextType, "error", err)
		return false
	}
	w.logger.Info("backend switched by config", "kind", kind, "from", prevType, "to", nextType)
	return true
}
