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

package rabbitmq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromParamsDefaults(t *testing.T) {
	cfg, err := ConfigFromParams(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultURL, cfg.URL)
	assert.True(t, cfg.Durable)
	assert.Equal(t, 1, cfg.Prefetch)
	assert.Equal(t, defaultDialTimeout, cfg.DialTimeout)
}

func TestConfigFromParamsHost(t *testing.T) {
	cfg, err := ConfigFromParams(map[string]any{
		"host":     "rmq",
		"port":     5673,
		"username": "gw",
		"password": "pw",
		"vhost":    "ingest",
		"prefetch": "20",
		"durable":  false,
	})
	require.NoError(t, err)
	assert.Equal(t, "amqp://gw:pw@rmq:5673/ingest", cfg.URL)
	assert.Equal(t, 20, cfg.Prefetch)
	assert.False(t, cfg.Durable)
}

func TestConfigFromParamsURLWins(t *testing.T) {
	cfg, err := ConfigFromParams(map[string]any{"url": "amqp://a:b@x:1/", "host": "ignored", "dialTimeout": "3s"})
	require.NoError(t, err)
	assert.Equal(t, "amqp://a:b@x:1/", cfg.URL)
	assert.Equal(t, 3*time.Second, cfg.DialTimeout)
}

func TestConfigFromParamsInvalid(t *testing.T) {
	_, err := ConfigFromParams(map[string]any{"prefetch": "lots"})
	assert.Error(t, err)
}
