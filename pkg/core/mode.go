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
	"fmt"
	"strings"
)

// ApplicationMode selects which ingress surfaces accept work.
type ApplicationMode string

const (
	ModeRestOnly   ApplicationMode = "RestOnly"
	ModeStreamOnly ApplicationMode = "StreamOnly"
	ModeBoth       ApplicationMode = "Both"
)

// AllModes lists the modes in declaration order.
var AllModes = []ApplicationMode{ModeRestOnly, ModeStreamOnly, ModeBoth}

func ParseMode(s string) (ApplicationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "restonly", "rest_only", "rest":
		return ModeRestOnly, nil
	case "streamonly", "stream_only", "stream":
		return ModeStreamOnly, nil
	case "both":
		return ModeBoth, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

func (m ApplicationMode) RestEnabled() bool {
	return m == ModeRestOnly || m == ModeBoth
}

func (m ApplicationMode) StreamEnabled() bool {
	return m == ModeStreamOnly || m == ModeBoth
}

func (m ApplicationMode) String() string { return string(m) }
