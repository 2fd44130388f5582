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
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// ClientIDRequestHeader allows clients to provide their own identifier
	ClientIDRequestHeader = "X-WSO2-Client-ID"
	// TenantHeader selects the tenant when the path does not carry one
	TenantHeader = "X-WSO2-Tenant"
)

// ClientID returns the caller supplied identifier or a fresh one.
func ClientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientIDRequestHeader)); id != "" {
		return id
	}
	return uuid.New().String()
}

// HostPort splits the local address the request was received on. The port is
// nil when the Host header does not carry one.
func HostPort(r *http.Request) (string, *int) {
	host, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		return r.Host, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, nil
	}
	return host, &port
}

// AddrHostPort does the same for a transport address.
func AddrHostPort(addr net.Addr) (string, *int) {
	if addr == nil {
		return UnknownValue, nil
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, nil
	}
	return host, &port
}

// RemoteIP prefers proxy headers (set by Envoy) over the socket address.
func RemoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
