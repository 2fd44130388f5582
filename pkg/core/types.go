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
	"slices"
	"strconv"
	"time"
)

const (
	ModelTypeOutbox   = "Outbox"
	ModelTypeIncident = "Incident"
	EventTypeReceived = "Received"

	// UnknownValue is recorded where the transport cannot tell us the value.
	UnknownValue = "unknown"
)

// OutboxMessage is one ingested payload waiting to be relayed to the bus.
type OutboxMessage struct {
	ID          string     `json:"id" bson:"_id"`
	ModelType   string     `json:"modelType" bson:"modelType"`
	EventType   string     `json:"eventType" bson:"eventType"`
	IsProcessed bool       `json:"isProcessed" bson:"isProcessed"`
	ProcessedAt *time.Time `json:"processedAt,omitempty" bson:"processedAt,omitempty"`
	InQueue     string     `json:"inQueue" bson:"inQueue"`
	OutQueue    string     `json:"outQueue" bson:"outQueue"`
	Payload     string     `json:"payload" bson:"payload"`
	RoutingKey  string     `json:"routingKey" bson:"routingKey"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	Source      string     `json:"source" bson:"source"`
}

// IncidentRecord is the immutable audit entry written next to every OutboxMessage.
// CorrelationID is independent of the outbox ID.
type IncidentRecord struct {
	ID            string    `json:"id" bson:"_id"`
	Payload       string    `json:"payload" bson:"payload"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
	CreatedBy     string    `json:"createdBy" bson:"createdBy"`
	IPAddress     string    `json:"ipAddress" bson:"ipAddress"`
	UserAgent     string    `json:"userAgent" bson:"userAgent"`
	CorrelationID string    `json:"correlationId" bson:"correlationId"`
	ModelType     string    `json:"modelType" bson:"modelType"`
	IsProcessed   bool      `json:"isProcessed" bson:"isProcessed"`
}

// Inbound carries one payload handed over by a transport listener.
type Inbound struct {
	Payload  string
	InQueue  string
	OutQueue string
	Host     string
	Port     *int
	Protocol string
}

// PortString renders the port, or UnknownValue when the transport has none.
func (in Inbound) PortString() string {
	if in.Port == nil {
		return UnknownValue
	}
	return strconv.Itoa(*in.Port)
}

// BusMessage is what gets published to a queue on the current bus.
type BusMessage struct {
	ID         string
	Queue      string
	RoutingKey string
	Payload    []byte
}

type BackendKind string

const (
	KindBus      BackendKind = "bus"
	KindDatabase BackendKind = "database"
)

func ParseBackendKind(s string) (BackendKind, bool) {
	switch BackendKind(s) {
	case KindBus:
		return KindBus, true
	case KindDatabase:
		return KindDatabase, true
	}
	return "", false
}

// BackendSelection is the active {type, parameters} pair for one backend kind.
// A published selection is never mutated; Params returns a copy.
type BackendSelection struct {
	Kind       BackendKind
	Type       string
	parameters map[string]any
	SwitchedAt time.Time
}

func NewBackendSelection(kind BackendKind, typ string, params map[string]any, at time.Time) BackendSelection {
	return BackendSelection{
		Kind:       kind,
		Type:       typ,
		parameters: cloneParams(params),
		SwitchedAt: at,
	}
}

func (s BackendSelection) Params() map[string]any {
	return cloneParams(s.parameters)
}

// cloneParams copies nested maps and lists so no caller shares them with a
// published selection.
func cloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	}
	return v
}

// IsZero reports whether nothing has been selected yet.
func (s BackendSelection) IsZero() bool {
	return s.Type == ""
}
