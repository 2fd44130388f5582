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

package activemq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromParams(t *testing.T) {
	cfg, err := ConfigFromParams(map[string]any{"host": "amq", "addressPrefix": "queue://", "credit": 10})
	require.NoError(t, err)
	assert.Equal(t, "amqp://amq:5672", cfg.URL)
	assert.Equal(t, 10, cfg.Credit)
	assert.Equal(t, "queue://acme.in", cfg.Address("acme.in"))

	cfg, err = ConfigFromParams(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultURL, cfg.URL)
	assert.Equal(t, "acme.in", cfg.Address("acme.in"))
}
