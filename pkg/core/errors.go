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

import "errors"

var (
	// ErrValidation is returned for backend tokens outside the supported set.
	ErrValidation = errors.New("unrecognized backend type")
	// ErrUnsupportedBackend is returned when no constructor is registered for a token.
	ErrUnsupportedBackend = errors.New("unsupported backend")
	// ErrReconnect is returned when a candidate backend failed to build or
	// pass its health check. The previous selection stays current.
	ErrReconnect = errors.New("backend reconnect failed")
	// ErrNoBackend is returned before the first successful selection.
	ErrNoBackend = errors.New("no backend selected")
	// ErrPersistence marks a single failed save.
	ErrPersistence = errors.New("persistence failed")
	// ErrUnsupportedConnection is returned for unknown connection variants.
	ErrUnsupportedConnection = errors.New("unsupported connection type")
	// ErrModeUnavailable is returned when the ingress surface is disabled by the mode.
	ErrModeUnavailable = errors.New("surface unavailable in current mode")
	// ErrSessionNotFound is returned for unknown stream session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidMode is returned when parsing an unknown application mode.
	ErrInvalidMode = errors.New("invalid application mode")
)
