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

// Package config loads the gateway configuration file and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/outbox"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/retention"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/routing"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

const (
	EnvConfigPath     = "CONFIG_PATH"
	DefaultConfigPath = "/etc/ingestion-gateway/config.yaml"
	envPrefix         = "GATEWAY"
)

const (
	defaultHTTPAddr              = ":8080"
	defaultStreamTenant          = "default"
	defaultShutdownTimeout       = 15
	defaultConnectTimeout        = 10
	defaultCleanupInterval       = 10
	defaultOutboxTTL             = 3600
	defaultIncidentIntervalHours = 30 * 24
	defaultIncidentTTLMonths     = 60
	defaultRelayIntervalMillis   = 1000
	defaultRelayBatchSize        = 100
	defaultSessionIdleSeconds    = 300
	defaultSessionReapSeconds    = 30
	defaultMQTTTopicPrefix       = "ingest"
	defaultBusType               = normalize.BusRabbit
	defaultDatabaseType          = normalize.DatabaseMongo
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Bus       BackendConfig   `yaml:"bus"`
	Database  BackendConfig   `yaml:"database"`
	Retention RetentionConfig `yaml:"retention"`
	Relay     RelayConfig     `yaml:"relay"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Tenants   []TenantConfig  `yaml:"tenants"`
	Log       LogConfig       `yaml:"log"`
}

type AppConfig struct {
	Mode string `yaml:"mode"`
}

// ServerConfig holds listener addresses. An empty TCP or UDP address
// disables that listener. TCP and UDP payloads carry no tenant, so they
// are routed to StreamTenant.
type ServerConfig struct {
	HTTPAddr               string `yaml:"http_addr"`
	TCPAddr                string `yaml:"tcp_addr"`
	UDPAddr                string `yaml:"udp_addr"`
	StreamTenant           string `yaml:"stream_tenant"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// BackendConfig selects the initial backend of one kind. Backends holds
// the default connection parameters per token.
type BackendConfig struct {
	Type                  string                    `yaml:"type"`
	ConnectTimeoutSeconds int                       `yaml:"connect_timeout_seconds"`
	Backends              map[string]map[string]any `yaml:"backends"`
}

type RetentionConfig struct {
	CleanupIntervalSeconds int        `yaml:"cleanup_interval_seconds"`
	OutboxTTLSeconds       int        `yaml:"outbox_ttl_seconds"`
	ProcessedOnly          bool       `yaml:"processed_only"`
	IncidentIntervalHours  int        `yaml:"incident_interval_hours"`
	IncidentTTLMonths      int        `yaml:"incident_ttl_months"`
	Lock                   LockConfig `yaml:"lock"`
}

// LockConfig points the sweepers at a shared redis. Empty RedisAddr
// disables locking.
type LockConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
}

type RelayConfig struct {
	IntervalMillis int `yaml:"interval_millis"`
	BatchSize      int `yaml:"batch_size"`
}

type SessionConfig struct {
	IdleTimeoutSeconds  int `yaml:"idle_timeout_seconds"`
	ReapIntervalSeconds int `yaml:"reap_interval_seconds"`
}

type TenantConfig struct {
	Name     string `yaml:"name"`
	InQueue  string `yaml:"in_queue"`
	OutQueue string `yaml:"out_queue"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Path returns CONFIG_PATH or the default location.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads path, applies GATEWAY_* environment overrides and defaults,
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg, newEnv())
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"bus_type",
		"database_type",
		"app_mode",
		"cleanup_interval_seconds",
		"outbox_ttl_seconds",
		"incident_ttl_months",
		"log_level",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

func applyEnv(cfg *Config, v *viper.Viper) {
	if v.IsSet("bus_type") {
		cfg.Bus.Type = v.GetString("bus_type")
	}
	if v.IsSet("database_type") {
		cfg.Database.Type = v.GetString("database_type")
	}
	if v.IsSet("app_mode") {
		cfg.App.Mode = v.GetString("app_mode")
	}
	if v.IsSet("cleanup_interval_seconds") {
		cfg.Retention.CleanupIntervalSeconds = v.GetInt("cleanup_interval_seconds")
	}
	if v.IsSet("outbox_ttl_seconds") {
		cfg.Retention.OutboxTTLSeconds = v.GetInt("outbox_ttl_seconds")
	}
	if v.IsSet("incident_ttl_months") {
		cfg.Retention.IncidentTTLMonths = v.GetInt("incident_ttl_months")
	}
	if v.IsSet("log_level") {
		cfg.Log.Level = v.GetString("log_level")
	}
}

func (c *Config) applyDefaults() {
	if c.App.Mode == "" {
		c.App.Mode = string(core.ModeBoth)
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = defaultHTTPAddr
	}
	if c.Server.StreamTenant == "" {
		c.Server.StreamTenant = defaultStreamTenant
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = defaultShutdownTimeout
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = defaultMQTTTopicPrefix
	}
	if c.Bus.Type == "" {
		c.Bus.Type = defaultBusType
	}
	if c.Database.Type == "" {
		c.Database.Type = defaultDatabaseType
	}
	c.Bus.normalize(normalize.Bus)
	c.Database.normalize(normalize.Database)
	r := &c.Retention
	if r.CleanupIntervalSeconds <= 0 {
		r.CleanupIntervalSeconds = defaultCleanupInterval
	}
	if r.OutboxTTLSeconds <= 0 {
		r.OutboxTTLSeconds = defaultOutboxTTL
	}
	if r.IncidentIntervalHours <= 0 {
		r.IncidentIntervalHours = defaultIncidentIntervalHours
	}
	if r.IncidentTTLMonths <= 0 {
		r.IncidentTTLMonths = defaultIncidentTTLMonths
	}
	if c.Relay.IntervalMillis <= 0 {
		c.Relay.IntervalMillis = defaultRelayIntervalMillis
	}
	if c.Relay.BatchSize <= 0 {
		c.Relay.BatchSize = defaultRelayBatchSize
	}
	if c.Sessions.IdleTimeoutSeconds <= 0 {
		c.Sessions.IdleTimeoutSeconds = defaultSessionIdleSeconds
	}
	if c.Sessions.ReapIntervalSeconds <= 0 {
		c.Sessions.ReapIntervalSeconds = defaultSessionReapSeconds
	}
}

func (c *Config) Validate() error {
	if _, err := core.ParseMode(c.App.Mode); err != nil {
		return err
	}
	if !normalize.Bus.IsValid(c.Bus.Type) {
		return fmt.Errorf("%w: bus type %q (supported: %s)",
			core.ErrValidation, c.Bus.Type, strings.Join(normalize.Bus.Supported(), ", "))
	}
	if !normalize.Database.IsValid(c.Database.Type) {
		return fmt.Errorf("%w: database type %q (supported: %s)",
			core.ErrValidation, c.Database.Type, strings.Join(normalize.Database.Supported(), ", "))
	}
	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return errors.New("tenant name cannot be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate tenant %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Mode is only valid after Validate.
func (c *Config) Mode() core.ApplicationMode {
	m, _ := core.ParseMode(c.App.Mode)
	return m
}

func (c *Config) Routes() []routing.Route {
	routes := make([]routing.Route, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		routes = append(routes, routing.Route{
			Tenant:   strings.TrimSpace(t.Name),
			InQueue:  t.InQueue,
			OutQueue: t.OutQueue,
		})
	}
	return routes
}

// normalize canonicalizes the parameter keys so synonyms in the file
// ("rabbitmq", "postgresql") address the same backend.
func (b *BackendConfig) normalize(family normalize.Family) {
	if b.ConnectTimeoutSeconds <= 0 {
		b.ConnectTimeoutSeconds = defaultConnectTimeout
	}
	if len(b.Backends) == 0 {
		return
	}
	backends := make(map[string]map[string]any, len(b.Backends))
	for token, params := range b.Backends {
		backends[family.Normalize(token)] = params
	}
	b.Backends = backends
}

func (b BackendConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutSeconds) * time.Second
}

func (r RetentionConfig) Options() retention.Config {
	return retention.Config{
		CleanupInterval:   time.Duration(r.CleanupIntervalSeconds) * time.Second,
		OutboxTTL:         time.Duration(r.OutboxTTLSeconds) * time.Second,
		ProcessedOnly:     r.ProcessedOnly,
		IncidentInterval:  time.Duration(r.IncidentIntervalHours) * time.Hour,
		IncidentTTLMonths: r.IncidentTTLMonths,
	}
}

func (r RelayConfig) Options() outbox.RelayConfig {
	return outbox.RelayConfig{
		Interval:  time.Duration(r.IntervalMillis) * time.Millisecond,
		BatchSize: r.BatchSize,
	}
}

func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

func (s SessionConfig) ReapInterval() time.Duration {
	return time.Duration(s.ReapIntervalSeconds) * time.Second
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
