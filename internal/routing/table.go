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

// Package routing maps tenants to their inbound and outbound queues.
package routing

import (
	"maps"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	inSuffix  = ".in"
	outSuffix = ".out"
)

// Route is the queue pair used for one tenant.
type Route struct {
	Tenant   string
	InQueue  string
	OutQueue string
}

// Default derives <tenant>.in / <tenant>.out.
func Default(tenant string) Route {
	return Route{Tenant: tenant, InQueue: tenant + inSuffix, OutQueue: tenant + outSuffix}
}

// Table publishes an immutable tenant -> route snapshot. Readers never see
// a partially applied update; writers copy, modify and swap.
type Table struct {
	mu     sync.Mutex
	routes atomic.Pointer[map[string]Route]
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) snapshot() map[string]Route {
	if m := t.routes.Load(); m != nil {
		return *m
	}
	return nil
}

// update copies the current snapshot, applies fn and publishes the result.
func (t *Table) update(fn func(map[string]Route)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := maps.Clone(t.snapshot())
	if next == nil {
		next = make(map[string]Route)
	}
	fn(next)
	t.routes.Store(&next)
}

func (t *Table) Add(route Route) {
	t.update(func(m map[string]Route) { m[route.Tenant] = fill(route) })
}

func (t *Table) Remove(tenant string) {
	t.update(func(m map[string]Route) { delete(m, tenant) })
}

// Lookup returns only configured routes.
func (t *Table) Lookup(tenant string) (Route, bool) {
	r, ok := t.snapshot()[tenant]
	return r, ok
}

// Resolve returns the configured route, or the derived default.
func (t *Table) Resolve(tenant string) Route {
	tenant = strings.TrimSpace(tenant)
	if r, ok := t.Lookup(tenant); ok {
		return r
	}
	return Default(tenant)
}

// ReplaceAll swaps in a new route set in one step.
func (t *Table) ReplaceAll(routes []Route) {
	next := make(map[string]Route, len(routes))
	for _, r := range routes {
		next[r.Tenant] = fill(r)
	}
	t.mu.Lock()
	t.routes.Store(&next)
	t.mu.Unlock()
}

func (t *Table) Len() int {
	return len(t.snapshot())
}

// fill completes a partially configured route from the default.
func fill(r Route) Route {
	d := Default(r.Tenant)
	if r.InQueue == "" {
		r.InQueue = d.InQueue
	}
	if r.OutQueue == "" {
		r.OutQueue = d.OutQueue
	}
	return r
}
