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

package params

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	p := map[string]any{"host": " db ", "port": 5432, "empty": ""}
	assert.Equal(t, "db", String(p, "host", "x"))
	assert.Equal(t, "5432", String(p, "port", ""))
	assert.Equal(t, "x", String(p, "empty", "x"))
	assert.Equal(t, "x", String(nil, "missing", "x"))
}

func TestInt(t *testing.T) {
	p := map[string]any{"a": 3, "b": float64(4), "c": "5", "d": "five", "e": true}
	for key, want := range map[string]int{"a": 3, "b": 4, "c": 5, "missing": 9} {
		got, err := Int(p, key, 9)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}
	_, err := Int(p, "d", 0)
	assert.Error(t, err)
	_, err = Int(p, "e", 0)
	assert.Error(t, err)
}

func TestIntRejectsFractions(t *testing.T) {
	p := map[string]any{"whole": float64(8), "half": 1.5, "text": "1.5", "blank": "  "}
	got, err := Int(p, "whole", 0)
	require.NoError(t, err)
	assert.Equal(t, 8, got)

	_, err = Int(p, "half", 0)
	assert.ErrorContains(t, err, "not a whole number")
	_, err = Int(p, "text", 0)
	assert.Error(t, err)

	got, err = Int(p, "blank", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestBool(t *testing.T) {
	p := map[string]any{"a": true, "b": "false", "c": "maybe"}
	got, err := Bool(p, "a", false)
	require.NoError(t, err)
	assert.True(t, got)
	got, err = Bool(p, "b", true)
	require.NoError(t, err)
	assert.False(t, got)
	_, err = Bool(p, "c", false)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	p := map[string]any{"a": "250ms", "b": 5, "c": "7", "d": "soon"}
	got, err := Duration(p, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, got)
	got, err = Duration(p, "b", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, got)
	got, err = Duration(p, "c", 0)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, got)
	_, err = Duration(p, "d", 0)
	assert.Error(t, err)

	got, err = Duration(map[string]any{"f": 1.5}, "f", 0)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, got)
}

func TestStrings(t *testing.T) {
	p := map[string]any{
		"csv":  "k1:9092, k2:9092,,",
		"list": []any{"a", "b"},
		"none": " , ",
	}
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, Strings(p, "csv", nil))
	assert.Equal(t, []string{"a", "b"}, Strings(p, "list", nil))
	assert.Equal(t, []string{"d"}, Strings(p, "none", []string{"d"}))
}
