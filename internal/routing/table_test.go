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

package routing

import (
	"sync"
	"testing"
)

func TestTableAddAndLookup(t *testing.T) {
	table := NewTable()
	table.Add(Route{Tenant: "acme", InQueue: "acme-ingest", OutQueue: "acme-replies"})

	got, ok := table.Lookup("acme")
	if !ok {
		t.Fatal("expected route to be found")
	}
	if got.InQueue != "acme-ingest" || got.OutQueue != "acme-replies" {
		t.Fatalf("unexpected route %+v", got)
	}
}

func TestTableLookupMiss(t *testing.T) {
	table := NewTable()
	if _, ok := table.Lookup("nonexistent"); ok {
		t.Fatal("expected route not to be found")
	}
}

func TestTableResolveDefault(t *testing.T) {
	table := NewTable()
	got := table.Resolve(" globex ")
	if got.InQueue != "globex.in" || got.OutQueue != "globex.out" {
		t.Fatalf("unexpected default route %+v", got)
	}
}

func TestTableFillsPartialRoute(t *testing.T) {
	table := NewTable()
	table.Add(Route{Tenant: "acme", OutQueue: "acme-replies"})

	got := table.Resolve("acme")
	if got.InQueue != "acme.in" || got.OutQueue != "acme-replies" {
		t.Fatalf("unexpected route %+v", got)
	}
}

func TestTableRemove(t *testing.T) {
	table := NewTable()
	table.Add(Route{Tenant: "acme", InQueue: "x"})
	table.Remove("acme")

	if _, ok := table.Lookup("acme"); ok {
		t.Fatal("expected route to be removed")
	}
}

func TestTableReplaceAll(t *testing.T) {
	table := NewTable()
	table.Add(Route{Tenant: "old"})

	table.ReplaceAll([]Route{{Tenant: "a"}, {Tenant: "b"}})

	if _, ok := table.Lookup("old"); ok {
		t.Fatal("expected old route to be removed")
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 routes, got %d", table.Len())
	}
}

func TestTableConcurrentAccess(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Add(Route{Tenant: "acme"})
			table.Resolve("acme")
		}()
	}
	wg.Wait()
}

func TestTableResolveDuringReplaceAll(t *testing.T) {
	table := NewTable()
	configured := []Route{{Tenant: "acme", InQueue: "acme-ingest", OutQueue: "acme-replies"}}
	table.ReplaceAll(configured)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20000; i++ {
			table.ReplaceAll(configured)
		}
		close(stop)
	}()

	misses := 0
	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
		}
		if table.Resolve("acme").InQueue != "acme-ingest" {
			misses++
		}
	}
	wg.Wait()
	if misses != 0 {
		t.Fatalf("resolve fell back to the default route %d times", misses)
	}
}
