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

// Package ingresstest provides fakes for listener tests.
package ingresstest

import (
	"context"
	"sync"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/dispatch"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

// Recorder is an Ingestor that keeps every payload it is given.
type Recorder struct {
	mu  sync.Mutex
	got []core.Inbound
}

func (r *Recorder) ProcessIncoming(_ context.Context, in core.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, in)
}

func (r *Recorder) Received() []core.Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Inbound(nil), r.got...)
}

func (r *Recorder) Payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, in := range r.got {
		out = append(out, in.Payload)
	}
	return out
}

// GreetingDispatcher sends Greeting once to each new client, then idles
// until the session ends.
type GreetingDispatcher struct {
	Greeting string
}

func (d GreetingDispatcher) SendMessagesToClient(ctx context.Context, connCtx dispatch.ConnectionContext, _ string) error {
	if d.Greeting != "" {
		sender, err := dispatch.CreateSender(connCtx)
		if err != nil {
			return err
		}
		if err := sender.Send([]byte(d.Greeting + "\n")); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}
