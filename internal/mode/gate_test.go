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

package mode

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

func newTestGate(m core.ApplicationMode) *Gate {
	return NewGate(m, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGateFlags(t *testing.T) {
	tests := []struct {
		mode   core.ApplicationMode
		rest   bool
		stream bool
		both   bool
	}{
		{core.ModeRestOnly, true, false, false},
		{core.ModeStreamOnly, false, true, false},
		{core.ModeBoth, true, true, true},
	}
	for _, tt := range tests {
		g := newTestGate(tt.mode)
		if g.RestEnabled() != tt.rest || g.StreamEnabled() != tt.stream || g.BothEnabled() != tt.both {
			t.Fatalf("%s: got rest=%v stream=%v both=%v", tt.mode,
				g.RestEnabled(), g.StreamEnabled(), g.BothEnabled())
		}
		if g.Describe() == "" {
			t.Fatalf("%s: empty description", tt.mode)
		}
	}
}

func TestSetModeNotifiesBeforeReturn(t *testing.T) {
	g := newTestGate(core.ModeBoth)

	var got []ChangeEvent
	g.Subscribe(func(evt ChangeEvent) { got = append(got, evt) })

	g.SetMode(core.ModeRestOnly)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Old != core.ModeBoth || got[0].New != core.ModeRestOnly {
		t.Fatalf("unexpected event %+v", got[0])
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("event timestamp not set")
	}
	if g.Mode() != core.ModeRestOnly {
		t.Fatalf("expected RestOnly, got %s", g.Mode())
	}
}

func TestSetModeSameValueStillNotifies(t *testing.T) {
	g := newTestGate(core.ModeBoth)
	count := 0
	g.Subscribe(func(ChangeEvent) { count++ })

	g.SetMode(core.ModeBoth)
	g.SetMode(core.ModeBoth)
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}
}

func TestObserverSeesNewModeDuringCallback(t *testing.T) {
	g := newTestGate(core.ModeBoth)
	var seen core.ApplicationMode
	g.Subscribe(func(ChangeEvent) { seen = g.Mode() })

	g.SetMode(core.ModeStreamOnly)
	if seen != core.ModeStreamOnly {
		t.Fatalf("observer read %s", seen)
	}
}

func TestUnsubscribe(t *testing.T) {
	g := newTestGate(core.ModeBoth)
	count := 0
	unsubscribe := g.Subscribe(func(ChangeEvent) { count++ })

	g.SetMode(core.ModeRestOnly)
	unsubscribe()
	unsubscribe()
	g.SetMode(core.ModeStreamOnly)

	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
}

func TestConcurrentSetModeSerializesObservers(t *testing.T) {
	g := newTestGate(core.ModeBoth)

	var mu sync.Mutex
	inside := 0
	overlap := false
	events := 0
	g.Subscribe(func(ChangeEvent) {
		mu.Lock()
		inside++
		if inside > 1 {
			overlap = true
		}
		events++
		mu.Unlock()

		mu.Lock()
		inside--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g.SetMode(core.AllModes[i%len(core.AllModes)])
		}(i)
	}
	wg.Wait()

	if overlap {
		t.Fatal("observers ran concurrently")
	}
	if events != 50 {
		t.Fatalf("expected 50 events, got %d", events)
	}
}

func TestUnavailableRest(t *testing.T) {
	g := newTestGate(core.ModeStreamOnly)
	if g.Enabled(SurfaceRest) {
		t.Fatal("rest should be disabled")
	}

	resp := g.Unavailable(SurfaceRest)
	if resp.CurrentType != core.ModeStreamOnly {
		t.Fatalf("currentType = %s", resp.CurrentType)
	}
	if resp.RequiredMode != core.ModeRestOnly {
		t.Fatalf("requiredMode = %s", resp.RequiredMode)
	}
	if len(resp.AvailableModes) != 2 ||
		resp.AvailableModes[0] != core.ModeRestOnly || resp.AvailableModes[1] != core.ModeBoth {
		t.Fatalf("availableModes = %v", resp.AvailableModes)
	}
	if len(resp.CanEnableBy) != 2 {
		t.Fatalf("canEnableBy = %v", resp.CanEnableBy)
	}

	if err := g.Err(SurfaceRest); !errors.Is(err, core.ErrModeUnavailable) {
		t.Fatalf("expected ErrModeUnavailable, got %v", err)
	}
	if err := g.Err(SurfaceStream); err != nil {
		t.Fatalf("stream should be enabled, got %v", err)
	}
}

func TestUnavailableStream(t *testing.T) {
	g := newTestGate(core.ModeRestOnly)
	resp := g.Unavailable(SurfaceStream)
	if resp.RequiredMode != core.ModeStreamOnly {
		t.Fatalf("requiredMode = %s", resp.RequiredMode)
	}
	if len(resp.AvailableModes) != 2 ||
		resp.AvailableModes[0] != core.ModeStreamOnly || resp.AvailableModes[1] != core.ModeBoth {
		t.Fatalf("availableModes = %v", resp.AvailableModes)
	}
}

func TestObserverMaySubscribeAndUnsubscribe(t *testing.T) {
	g := newTestGate(core.ModeBoth)

	var late []core.ApplicationMode
	var unsubscribe func()
	unsubscribe = g.Subscribe(func(ev ChangeEvent) {
		unsubscribe()
		g.Subscribe(func(ev ChangeEvent) { late = append(late, ev.New) })
	})

	done := make(chan struct{})
	go func() {
		g.SetMode(core.ModeRestOnly)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetMode blocked on an observer that changed the observer set")
	}

	g.SetMode(core.ModeStreamOnly)
	if len(late) != 1 || late[0] != core.ModeStreamOnly {
		t.Fatalf("expected only the observer added during fan-out to see the next change, got %v", late)
	}
}
