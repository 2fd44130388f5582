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

// Package mqtt ingests messages published to <prefix>/<tenant>/in on an
// MQTT 5 broker.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/mode"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
)

const inSuffix = "in"

type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type Listener struct {
	cfg      Config
	broker   *url.URL
	gate     *mode.Gate
	ingestor ingress.Ingestor
	routes   *routing.Table
	logger   *slog.Logger
	host     string
	port     *int
}

func NewListener(
	cfg Config,
	gate *mode.Gate,
	ingestor ingress.Ingestor,
	routes *routing.Table,
	logger *slog.Logger,
) (*Listener, error) {
	broker, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt invalid broker URL: %w", err)
	}
	if broker.Host == "" {
		return nil, fmt.Errorf("mqtt broker URL %q has no host", cfg.BrokerURL)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ingestion-gateway-" + uuid.New().String()[:8]
	}
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")

	l := &Listener{
		cfg:      cfg,
		broker:   broker,
		gate:     gate,
		ingestor: ingestor,
		routes:   routes,
		logger:   logger,
		host:     broker.Hostname(),
	}
	if p, err := strconv.Atoi(broker.Port()); err == nil {
		l.port = &p
	}
	return l, nil
}

// SubscriptionTopic matches the in-topic of every tenant.
func (l *Listener) SubscriptionTopic() string {
	return l.cfg.TopicPrefix + "/+/" + inSuffix
}

// TenantFromTopic extracts the tenant from <prefix>/<tenant>/in.
func TenantFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, strings.Trim(prefix, "/")+"/")
	if !ok {
		return "", false
	}
	tenant, ok := strings.CutSuffix(rest, "/"+inSuffix)
	if !ok || tenant == "" || strings.Contains(tenant, "/") {
		return "", false
	}
	return tenant, true
}

// Run keeps a broker connection until ctx is done. Subscriptions are
// re-established on every reconnect.
func (l *Listener) Run(ctx context.Context) error {
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{l.broker},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		ConnectUsername:               l.cfg.Username,
		ConnectPassword:               []byte(l.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			l.logger.Info("mqtt connection up", "broker", l.broker.Host)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: l.SubscriptionTopic(), QoS: 1},
				},
			}); err != nil {
				l.logger.Error("mqtt subscribe failed", "topic", l.SubscriptionTopic(), "error", err)
			}
		},
		OnConnectError: func(err error) {
			l.logger.Warn("mqtt connect failed", "broker", l.broker.Host, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: l.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					l.handle(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt connection: %w", err)
	}
	l.logger.Info("mqtt listener started", "broker", l.broker.Host, "topic", l.SubscriptionTopic())

	<-ctx.Done()
	<-cm.Done()
	l.logger.Info("mqtt listener stopped")
	return nil
}

func (l *Listener) handle(ctx context.Context, topic string, payload []byte) {
	tenant, ok := TenantFromTopic(l.cfg.TopicPrefix, topic)
	if !ok {
		l.logger.Debug("mqtt message on unexpected topic", "topic", topic)
		return
	}
	if !l.gate.StreamEnabled() {
		l.logger.Debug("mqtt message dropped by mode", "topic", topic, "mode", l.gate.Mode())
		return
	}
	payload = ingress.TrimLine(payload)
	if len(payload) == 0 {
		return
	}
	in := ingress.NewInbound(l.routes, tenant, ingress.ProtocolMQTT, payload, l.host, l.port)
	l.ingestor.ProcessIncoming(ctx, in)
}
