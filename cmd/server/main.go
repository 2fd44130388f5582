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

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/backend"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/dispatch"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress/httpapi"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress/mqtt"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress/tcp"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/ingress/udp"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/logging"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/mode"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/outbox"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/retention"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/session"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/config"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins"
)

func main() {
	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath, cfg, logger); err != nil {
		logger.Error("ingestion gateway failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ingestion gateway stopped")
}

func run(ctx context.Context, configPath string, cfg *config.Config, logger *slog.Logger) error {
	packetLog := logging.NewPacketLogger(logger.With("component", "packet"))
	catalog := plugins.NewCatalog(logger.With("component", "plugins"))

	busRegistry := catalog.BusRegistry(cfg.Bus.ConnectTimeout())
	storeRegistry := catalog.StoreRegistry(cfg.Database.ConnectTimeout())
	defer busRegistry.Close()
	defer storeRegistry.Close()

	buses := backend.NewManager(busRegistry, cfg.Bus.Backends, cfg.Bus.ConnectTimeout(), logger.With("component", "bus"))
	stores := backend.NewManager(storeRegistry, cfg.Database.Backends, cfg.Database.ConnectTimeout(), logger.With("component", "database"))

	if err := stores.Reconnect(ctx, cfg.Database.Type, nil); err != nil {
		return err
	}
	if err := buses.Reconnect(ctx, cfg.Bus.Type, nil); err != nil {
		return err
	}

	routes := routing.NewTable()
	routes.ReplaceAll(cfg.Routes())

	gate := mode.NewGate(cfg.Mode(), logger.With("component", "mode"))
	pipeline := outbox.NewPipeline(storeRegistry, packetLog, logger.With("component", "pipeline"))
	dispatcher := dispatch.NewDispatcher(busRegistry, packetLog, logger.With("component", "dispatch"))
	sessions := session.NewManager(routes, dispatcher, logger.With("component", "session"))
	defer sessions.DestroyAll()

	unsubscribe := gate.Subscribe(sessions.ModeObserver)
	defer unsubscribe()

	relay := outbox.NewRelay(storeRegistry, busRegistry, cfg.Relay.Options(), logger.With("component", "relay"))

	var sweeperOpts []retention.Option
	if lock := cfg.Retention.Lock; lock.RedisAddr != "" {
		locker, err := retention.DialRedisLocker(ctx, lock.RedisAddr, lock.Password, lock.DB)
		if err != nil {
			return err
		}
		defer locker.Close()
		sweeperOpts = append(sweeperOpts, retention.WithLocker(locker))
	}
	sweeper := retention.NewSweeper(storeRegistry, cfg.Retention.Options(), logger.With("component", "retention"), sweeperOpts...)

	watcher := config.NewWatcher(configPath, cfg, routes, buses, stores, gate, logger.With("component", "config"))

	api := httpapi.NewServer(cfg.Server.HTTPAddr, httpapi.Deps{
		Gate:     gate,
		Ingestor: pipeline,
		Routes:   routes,
		Sessions: sessions,
		Buses:    buses,
		Stores:   stores,
		Logger:   logger.With("component", "http"),
	})

	var tcpServer *tcp.Server
	if cfg.Server.TCPAddr != "" {
		tcpServer = tcp.NewServer(tcp.Config{Addr: cfg.Server.TCPAddr, Tenant: cfg.Server.StreamTenant},
			gate, pipeline, routes, sessions, logger.With("component", "tcp"))
		if err := tcpServer.Start(); err != nil {
			return err
		}
	}
	var udpServer *udp.Server
	if cfg.Server.UDPAddr != "" {
		udpServer = udp.NewServer(udp.Config{Addr: cfg.Server.UDPAddr, Tenant: cfg.Server.StreamTenant},
			gate, pipeline, routes, sessions, logger.With("component", "udp"))
		if err := udpServer.Start(); err != nil {
			return err
		}
	}
	var mqttListener *mqtt.Listener
	if cfg.MQTT.Enabled {
		var err error
		mqttListener, err = mqtt.NewListener(mqtt.Config{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, gate, pipeline, routes, logger.With("component", "mqtt"))
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Run(gctx, cfg.Server.ShutdownTimeout()) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return sweeper.RunOutbox(gctx) })
	g.Go(func() error { return sweeper.RunIncidents(gctx) })
	g.Go(func() error {
		return sessions.RunIdleReaper(gctx, cfg.Sessions.ReapInterval(), cfg.Sessions.IdleTimeout())
	})
	g.Go(func() error {
		watcher.Watch(gctx)
		return nil
	})
	if tcpServer != nil {
		g.Go(func() error { return tcpServer.Serve(gctx) })
	}
	if udpServer != nil {
		g.Go(func() error { return udpServer.Serve(gctx) })
	}
	if mqttListener != nil {
		g.Go(func() error { return mqttListener.Run(gctx) })
	}

	logger.Info("ingestion gateway started",
		"config", configPath,
		"mode", gate.Mode(),
		"bus", busRegistry.Current().Type,
		"database", storeRegistry.Current().Type,
		"http", cfg.Server.HTTPAddr,
	)
	return g.Wait()
}
