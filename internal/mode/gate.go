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

// Package mode gates the REST and stream ingress surfaces.
package mode

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

type Surface string

const (
	SurfaceRest   Surface = "rest"
	SurfaceStream Surface = "stream"
)

type ChangeEvent struct {
	Old       core.ApplicationMode
	New       core.ApplicationMode
	Timestamp time.Time
}

// Observer is called synchronously from SetMode. It may Subscribe or
// unsubscribe but must not call SetMode.
type Observer func(ChangeEvent)

// UnavailableResponse is the 503 body returned by a disabled surface.
type UnavailableResponse struct {
	Message        string                 `json:"message"`
	CurrentType    core.ApplicationMode   `json:"currentType"`
	RequiredMode   core.ApplicationMode   `json:"requiredMode"`
	AvailableModes []core.ApplicationMode `json:"availableModes"`
	CanEnableBy    []string               `json:"canEnableBy"`
	Timestamp      time.Time              `json:"timestamp"`
}

type Gate struct {
	current   atomic.Value // core.ApplicationMode
	// setMu serializes SetMode including the observer fan-out; mu only
	// guards the observer set.
	setMu     sync.Mutex
	mu        sync.Mutex
	observers map[uint64]Observer
	nextID    uint64
	now       func() time.Time
	logger    *slog.Logger
}

func NewGate(initial core.ApplicationMode, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		observers: make(map[uint64]Observer),
		now:       time.Now,
		logger:    logger,
	}
	g.current.Store(initial)
	return g
}

func (g *Gate) Mode() core.ApplicationMode {
	return g.current.Load().(core.ApplicationMode)
}

func (g *Gate) RestEnabled() bool   { return g.Mode().RestEnabled() }
func (g *Gate) StreamEnabled() bool { return g.Mode().StreamEnabled() }
func (g *Gate) BothEnabled() bool   { return g.Mode() == core.ModeBoth }

// SetMode publishes m and notifies every observer registered before the
// call. Observers have all returned when SetMode returns.
func (g *Gate) SetMode(m core.ApplicationMode) {
	g.setMu.Lock()
	defer g.setMu.Unlock()

	old := g.Mode()
	g.current.Store(m)

	evt := ChangeEvent{Old: old, New: m, Timestamp: g.now().UTC()}
	g.mu.Lock()
	observers := make([]Observer, 0, len(g.observers))
	for _, o := range g.observers {
		observers = append(observers, o)
	}
	g.mu.Unlock()

	g.logger.Info("application mode set", "old", old, "new", m, "observers", len(observers))
	for _, o := range observers {
		o(evt)
	}
}

// Subscribe registers o and returns a func that removes it.
func (g *Gate) Subscribe(o Observer) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.observers[id] = o
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.observers, id)
			g.mu.Unlock()
		})
	}
}

func (g *Gate) Describe() string {
	m := g.Mode()
	switch m {
	case core.ModeRestOnly:
		return "REST ingestion is enabled; stream listeners are disabled"
	case core.ModeStreamOnly:
		return "stream ingestion (TCP, UDP, WebSocket, MQTT) is enabled; REST ingestion is disabled"
	case core.ModeBoth:
		return "REST and stream ingestion are both enabled"
	}
	return fmt.Sprintf("unknown mode %q", m)
}

// Enabled reports whether surface accepts work in the current mode.
func (g *Gate) Enabled(s Surface) bool {
	if s == SurfaceStream {
		return g.StreamEnabled()
	}
	return g.RestEnabled()
}

// Unavailable builds the rejection body for a disabled surface.
func (g *Gate) Unavailable(s Surface) UnavailableResponse {
	required := core.ModeRestOnly
	if s == SurfaceStream {
		required = core.ModeStreamOnly
	}

	var available []core.ApplicationMode
	var enableBy []string
	for _, m := range core.AllModes {
		if (s == SurfaceStream && m.StreamEnabled()) || (s != SurfaceStream && m.RestEnabled()) {
			available = append(available, m)
			enableBy = append(enableBy, fmt.Sprintf(`PUT /api/v1/mode {"mode":"%s"}`, m))
		}
	}

	current := g.Mode()
	return UnavailableResponse{
		Message:        fmt.Sprintf("%s ingestion is not available in %s mode", s, current),
		CurrentType:    current,
		RequiredMode:   required,
		AvailableModes: available,
		CanEnableBy:    enableBy,
		Timestamp:      g.now().UTC(),
	}
}

// Err returns core.ErrModeUnavailable when s is disabled.
func (g *Gate) Err(s Surface) error {
	if g.Enabled(s) {
		return nil
	}
	return fmt.Errorf("%w: %s in %s", core.ErrModeUnavailable, s, g.Mode())
}
