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

// Package params reads typed values from backend connection parameters.
// Values may arrive from YAML, JSON or env overrides, so numbers and
// booleans are also accepted in string form.
package params

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookup treats nil and blank strings as absent.
func lookup(p map[string]any, key string) (any, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		return s, true
	}
	return v, true
}

func String(p map[string]any, key, def string) string {
	v, ok := lookup(p, key)
	if !ok {
		return def
	}
	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return def
	}
	return s
}

// Int rejects booleans and fractional numbers instead of truncating them.
func Int(p map[string]any, key string, def int) (int, error) {
	v, ok := lookup(p, key)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case bool:
		return 0, fmt.Errorf("parameter %s: unexpected type %T", key, v)
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("parameter %s: %v is not a whole number", key, n)
		}
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, fmt.Errorf("parameter %s: %v is not a whole number", key, n)
		}
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return i, nil
}

func Bool(p map[string]any, key string, def bool) (bool, error) {
	v, ok := lookup(p, key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("parameter %s: %w", key, err)
	}
	return b, nil
}

// Duration accepts Go duration strings ("5s") or a number of seconds.
func Duration(p map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(p, key)
	if !ok {
		return def, nil
	}
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case bool:
		return 0, fmt.Errorf("parameter %s: unexpected type %T", key, v)
	}
	if secs, err := cast.ToFloat64E(v); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return d, nil
}

// Strings accepts a list or a comma separated string.
func Strings(p map[string]any, key string, def []string) []string {
	v, ok := lookup(p, key)
	if !ok {
		return def
	}
	var out []string
	if s, isString := v.(string); isString {
		out = strings.Split(s, ",")
	} else {
		list, err := cast.ToStringSliceE(v)
		if err != nil {
			return def
		}
		out = list
	}
	cleaned := make([]string, 0, len(out))
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}
