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

package core

import (
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		want  ApplicationMode
	}{
		{"RestOnly", ModeRestOnly},
		{" streamonly ", ModeStreamOnly},
		{"BOTH", ModeBoth},
		{"rest_only", ModeRestOnly},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.input)
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
		}
	}
	if _, err := ParseMode("sometimes"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestModeSurfaces(t *testing.T) {
	if !ModeBoth.RestEnabled() || !ModeBoth.StreamEnabled() {
		t.Fatal("Both must enable both surfaces")
	}
	if ModeRestOnly.StreamEnabled() || ModeStreamOnly.RestEnabled() {
		t.Fatal("single-surface modes must disable the other surface")
	}
}

func TestInboundPortString(t *testing.T) {
	if got := (Inbound{}).PortString(); got != UnknownValue {
		t.Fatalf("expected %q, got %q", UnknownValue, got)
	}
	p := 9000
	if got := (Inbound{Port: &p}).PortString(); got != "9000" {
		t.Fatalf("expected 9000, got %q", got)
	}
}

func TestSelectionParamsAreCopied(t *testing.T) {
	params := map[string]any{"url": "amqp://a"}
	sel := NewBackendSelection(KindBus, "rabbit", params, time.Unix(0, 0))
	params["url"] = "mutated"

	got := sel.Params()
	if got["url"] != "amqp://a" {
		t.Fatalf("selection shares caller map: %v", got)
	}
	got["url"] = "again"
	if sel.Params()["url"] != "amqp://a" {
		t.Fatal("Params returned the internal map")
	}
}

func TestSelectionParamsAreCopiedDeeply(t *testing.T) {
	tls := map[string]any{"password": "secret"}
	brokers := []any{"k1:9092"}
	params := map[string]any{"tls": tls, "brokers": brokers}
	sel := NewBackendSelection(KindBus, "kafkastreams", params, time.Unix(0, 0))

	tls["password"] = "mutated"
	brokers[0] = "mutated"
	got := sel.Params()
	if got["tls"].(map[string]any)["password"] != "secret" {
		t.Fatalf("nested map shared with caller: %v", got["tls"])
	}
	if got["brokers"].([]any)[0] != "k1:9092" {
		t.Fatalf("nested list shared with caller: %v", got["brokers"])
	}

	got["tls"].(map[string]any)["password"] = "again"
	if sel.Params()["tls"].(map[string]any)["password"] != "secret" {
		t.Fatal("Params returned a nested internal map")
	}
}

func TestHostPort(t *testing.T) {
	r := httptest.NewRequest("GET", "http://gw.local:8080/x", nil)
	host, port := HostPort(r)
	if host != "gw.local" || port == nil || *port != 8080 {
		t.Fatalf("unexpected %s %v", host, port)
	}

	r = httptest.NewRequest("GET", "http://gw.local/x", nil)
	if _, port := HostPort(r); port != nil {
		t.Fatalf("expected nil port, got %d", *port)
	}
}

func TestAddrHostPort(t *testing.T) {
	host, port := AddrHostPort(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7000})
	if host != "10.0.0.1" || port == nil || *port != 7000 {
		t.Fatalf("unexpected %s %v", host, port)
	}
	if host, port := AddrHostPort(nil); host != UnknownValue || port != nil {
		t.Fatalf("unexpected %s %v", host, port)
	}
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	if got := RemoteIP(r); got != "192.0.2.1" {
		t.Fatalf("expected socket ip, got %s", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := RemoteIP(r); got != "203.0.113.9" {
		t.Fatalf("expected forwarded ip, got %s", got)
	}
}

func TestClientID(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if ClientID(r) == "" {
		t.Fatal("expected generated id")
	}
	r.Header.Set(ClientIDRequestHeader, "device-7")
	if got := ClientID(r); got != "device-7" {
		t.Fatalf("expected header id, got %s", got)
	}
}
