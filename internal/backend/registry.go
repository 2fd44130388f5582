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

// Package backend holds the single current backend of each kind and swaps
// it at runtime.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const (
	defaultProbeTimeout = 5 * time.Second
	closeTimeout        = 10 * time.Second
)

// Factory builds a backend handle from connection parameters.
type Factory[H core.Handle] func(ctx context.Context, params map[string]any) (H, error)

type options struct {
	probeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*options)

func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// generation is one published {selection, handle} pair. It is closed once it
// has been replaced and its last lease is released.
type generation[H core.Handle] struct {
	selection core.BackendSelection
	handle    H
	refs      atomic.Int64
	retired   atomic.Bool
	retiredCh chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func (g *generation[H]) release() {
	if g.refs.Add(-1) == 0 && g.retired.Load() {
		g.close()
	}
}

func (g *generation[H]) retire() {
	if g.retired.Swap(true) {
		return
	}
	close(g.retiredCh)
	if g.refs.Load() == 0 {
		g.close()
	}
}

func (g *generation[H]) close() {
	g.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := g.handle.Close(ctx); err != nil {
			g.logger.Warn("backend close failed",
				"kind", g.selection.Kind,
				"type", g.selection.Type,
				"error", err,
			)
			return
		}
		g.logger.Info("backend closed", "kind", g.selection.Kind, "type", g.selection.Type)
	})
}

// Lease pins the generation that was current when it was acquired.
type Lease[H core.Handle] struct {
	gen  *generation[H]
	once sync.Once
}

func (l *Lease[H]) Handle() H                        { return l.gen.handle }
func (l *Lease[H]) Selection() core.BackendSelection { return l.gen.selection }

// Retired is closed when the leased backend is no longer current.
func (l *Lease[H]) Retired() <-chan struct{} { return l.gen.retiredCh }

func (l *Lease[H]) Release() {
	l.once.Do(l.gen.release)
}

// Registry maps canonical tokens to constructors and holds the current
// backend for one kind.
type Registry[H core.Handle] struct {
	kind      core.BackendKind
	family    normalize.Family
	factories map[string]Factory[H]
	opts      options
	swapMu    sync.Mutex
	current   atomic.Pointer[generation[H]]
}

func NewRegistry[H core.Handle](
	kind core.BackendKind,
	family normalize.Family,
	factories map[string]Factory[H],
	opts ...Option,
) *Registry[H] {
	o := options{
		probeTimeout: defaultProbeTimeout,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[H]{
		kind:      kind,
		family:    family,
		factories: maps.Clone(factories),
		opts:      o,
	}
}

func (r *Registry[H]) Kind() core.BackendKind   { return r.kind }
func (r *Registry[H]) Family() normalize.Family { return r.family }

// Resolve constructs a handle for token without publishing it.
func (r *Registry[H]) Resolve(ctx context.Context, token string, params map[string]any) (H, error) {
	var zero H
	canonical := r.family.Normalize(token)
	factory, ok := r.factories[canonical]
	if !ok || !r.family.IsValid(canonical) {
		return zero, fmt.Errorf("%w: %s type %q", core.ErrUnsupportedBackend, r.kind, token)
	}
	return factory(ctx, params)
}

// SetCurrent builds and health-checks a candidate and publishes it only if
// both succeed. On failure the previous selection stays current.
func (r *Registry[H]) SetCurrent(ctx context.Context, token string, params map[string]any) error {
	r.swapMu.Lock()
	defer r.swapMu.Unlock()

	canonical := r.family.Normalize(token)
	handle, err := r.Resolve(ctx, canonical, params)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", core.ErrReconnect, r.kind, canonical, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.opts.probeTimeout)
	err = handle.Ping(probeCtx)
	cancel()
	if err != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
		if cerr := handle.Close(closeCtx); cerr != nil {
			r.opts.logger.Warn("candidate close failed", "kind", r.kind, "type", canonical, "error", cerr)
		}
		closeCancel()
		return fmt.Errorf("%w: %s %s health check: %w", core.ErrReconnect, r.kind, canonical, err)
	}

	gen := &generation[H]{
		selection: core.NewBackendSelection(r.kind, canonical, params, r.opts.now().UTC()),
		handle:    handle,
		retiredCh: make(chan struct{}),
		logger:    r.opts.logger,
	}
	old := r.current.Swap(gen)

	from := ""
	if old != nil {
		from = old.selection.Type
		old.retire()
	}
	r.opts.logger.Info("backend switched", "kind", r.kind, "from", from, "to", canonical)
	return nil
}

// Current returns the published selection; the zero selection before the
// first successful SetCurrent.
func (r *Registry[H]) Current() core.BackendSelection {
	g := r.current.Load()
	if g == nil {
		return core.BackendSelection{Kind: r.kind}
	}
	return g.selection
}

// Acquire leases the current handle. Callers must Release it.
func (r *Registry[H]) Acquire() (*Lease[H], error) {
	for {
		g := r.current.Load()
		if g == nil {
			return nil, fmt.Errorf("%w: %s", core.ErrNoBackend, r.kind)
		}
		g.refs.Add(1)
		if r.current.Load() == g {
			return &Lease[H]{gen: g}, nil
		}
		// swapped between load and pin
		g.release()
	}
}

// TestConnection pings the current handle without changing any state.
func (r *Registry[H]) TestConnection(ctx context.Context) bool {
	return r.ping(ctx) == nil
}

func (r *Registry[H]) ping(ctx context.Context) error {
	lease, err := r.Acquire()
	if err != nil {
		return err
	}
	defer lease.Release()

	ctx, cancel := context.WithTimeout(ctx, r.opts.probeTimeout)
	defer cancel()
	return lease.Handle().Ping(ctx)
}

// Close unpublishes the current backend. It is closed once all leases are
// released.
func (r *Registry[H]) Close() {
	r.swapMu.Lock()
	defer r.swapMu.Unlock()
	if old := r.current.Swap(nil); old != nil {
		old.retire()
	}
}
