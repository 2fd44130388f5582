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

// Package normalize canonicalizes backend type tokens.
package normalize

import (
	"slices"
	"strings"
)

const (
	BusRabbit       = "rabbit"
	BusActiveMQ     = "activemq"
	BusPulsar       = "pulsar"
	BusKafkaStreams = "kafkastreams"
	BusTarantool    = "tarantool"

	DatabaseMongo    = "mongo"
	DatabasePostgres = "postgres"
)

// Family is the closed set of canonical tokens for one backend kind.
type Family struct {
	name      string
	synonyms  map[string]string
	supported []string
}

var Bus = Family{
	name: "bus",
	synonyms: map[string]string{
		"rabbitmq":      BusRabbit,
		"kafka":         BusKafkaStreams,
		"kafka-streams": BusKafkaStreams,
	},
	supported: []string{BusActiveMQ, BusKafkaStreams, BusPulsar, BusRabbit, BusTarantool},
}

var Database = Family{
	name: "database",
	synonyms: map[string]string{
		"mongodb":    DatabaseMongo,
		"postgresql": DatabasePostgres,
	},
	supported: []string{DatabaseMongo, DatabasePostgres},
}

func (f Family) Name() string { return f.name }

// Normalize lower-cases the token and maps known synonyms. Unknown tokens
// pass through lower-cased.
func (f Family) Normalize(token string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	if canonical, ok := f.synonyms[t]; ok {
		return canonical
	}
	return t
}

func (f Family) IsValid(token string) bool {
	return slices.Contains(f.supported, f.Normalize(token))
}

// Supported returns the canonical tokens, sorted.
func (f Family) Supported() []string {
	return slices.Clone(f.supported)
}
