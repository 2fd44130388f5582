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

// Package postgres is the "postgres" store, on gorm with the pgx driver.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/internal/normalize"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/plugins/params"
)

var ErrDuplicate = errors.New("record already exists")

type Config struct {
	DSN           string
	OutboxTable   string
	IncidentTable string
	AutoMigrate   bool
	MaxOpenConns  int
}

func ConfigFromParams(p map[string]any) (Config, error) {
	cfg := Config{
		DSN:           params.String(p, "dsn", params.String(p, "connectionString", "")),
		OutboxTable:   params.String(p, "outboxTable", "outbox_messages"),
		IncidentTable: params.String(p, "incidentTable", "incident_records"),
	}
	if cfg.DSN == "" {
		u := url.URL{
			Scheme:   "postgres",
			Host:     params.String(p, "host", "localhost") + ":" + params.String(p, "port", "5432"),
			User:     url.UserPassword(params.String(p, "user", "postgres"), params.String(p, "password", "")),
			Path:     "/" + params.String(p, "database", "ingestion"),
			RawQuery: "sslmode=" + params.String(p, "sslmode", "disable"),
		}
		cfg.DSN = u.String()
	}
	var err error
	if cfg.AutoMigrate, err = params.Bool(p, "autoMigrate", true); err != nil {
		return cfg, err
	}
	if cfg.MaxOpenConns, err = params.Int(p, "maxOpenConns", 20); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type outboxRow struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	ModelType   string `gorm:"type:varchar(32);not null"`
	EventType   string `gorm:"type:varchar(32);not null"`
	IsProcessed bool   `gorm:"not null;default:false;index:idx_outbox_pending,priority:1"`
	ProcessedAt *time.Time
	InQueue     string    `gorm:"type:varchar(255)"`
	OutQueue    string    `gorm:"type:varchar(255)"`
	Payload     string    `gorm:"type:text"`
	RoutingKey  string    `gorm:"type:varchar(255)"`
	CreatedAt   time.Time `gorm:"not null;index:idx_outbox_pending,priority:2"`
	Source      string    `gorm:"type:text"`
}

type incidentRow struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	Payload       string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index"`
	CreatedBy     string    `gorm:"type:text"`
	IPAddress     string    `gorm:"type:varchar(64)"`
	UserAgent     string    `gorm:"type:varchar(255)"`
	CorrelationID string    `gorm:"type:varchar(64)"`
	ModelType     string    `gorm:"type:varchar(32);not null"`
	IsProcessed   bool      `gorm:"not null;default:false"`
}

func outboxRowFrom(m *core.OutboxMessage) outboxRow {
	return outboxRow{
		ID:          m.ID,
		ModelType:   m.ModelType,
		EventType:   m.EventType,
		IsProcessed: m.IsProcessed,
		ProcessedAt: m.ProcessedAt,
		InQueue:     m.InQueue,
		OutQueue:    m.OutQueue,
		Payload:     m.Payload,
		RoutingKey:  m.RoutingKey,
		CreatedAt:   m.CreatedAt,
		Source:      m.Source,
	}
}

func (r outboxRow) toCore() core.OutboxMessage {
	return core.OutboxMessage{
		ID:          r.ID,
		ModelType:   r.ModelType,
		EventType:   r.EventType,
		IsProcessed: r.IsProcessed,
		ProcessedAt: r.ProcessedAt,
		InQueue:     r.InQueue,
		OutQueue:    r.OutQueue,
		Payload:     r.Payload,
		RoutingKey:  r.RoutingKey,
		CreatedAt:   r.CreatedAt,
		Source:      r.Source,
	}
}

func incidentRowFrom(rec *core.IncidentRecord) incidentRow {
	return incidentRow{
		ID:            rec.ID,
		Payload:       rec.Payload,
		CreatedAt:     rec.CreatedAt,
		CreatedBy:     rec.CreatedBy,
		IPAddress:     rec.IPAddress,
		UserAgent:     rec.UserAgent,
		CorrelationID: rec.CorrelationID,
		ModelType:     rec.ModelType,
		IsProcessed:   rec.IsProcessed,
	}
}

type Store struct {
	db     *gorm.DB
	cfg    Config
	logger *slog.Logger
}

func New(ctx context.Context, p map[string]any, logger *slog.Logger) (*Store, error) {
	cfg, err := ConfigFromParams(p)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	s := newStore(db, cfg, logger)
	if cfg.AutoMigrate {
		if err := s.migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	logger.Info("postgres store connected", "outbox", cfg.OutboxTable, "incidents", cfg.IncidentTable)
	return s, nil
}

func newStore(db *gorm.DB, cfg Config, logger *slog.Logger) *Store {
	return &Store{db: db, cfg: cfg, logger: logger}
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.cfg.OutboxTable).AutoMigrate(&outboxRow{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.cfg.OutboxTable, err)
	}
	if err := s.db.WithContext(ctx).Table(s.cfg.IncidentTable).AutoMigrate(&incidentRow{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.cfg.IncidentTable, err)
	}
	return nil
}

func (s *Store) Type() string { return normalize.DatabasePostgres }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) outbox(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.cfg.OutboxTable)
}

func (s *Store) incidents(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.cfg.IncidentTable)
}

func (s *Store) SaveOutbox(ctx context.Context, msg *core.OutboxMessage) error {
	row := outboxRowFrom(msg)
	if err := s.outbox(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("outbox %s: %w", msg.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert outbox %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) SaveIncident(ctx context.Context, rec *core.IncidentRecord) error {
	row := incidentRowFrom(rec)
	if err := s.incidents(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("incident %s: %w", rec.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert incident %s: %w", rec.ID, err)
	}
	return nil
}

// deleteOutbox removes rows created strictly before cutoff. tx carries the
// context, or a dry-run session when rendering SQL.
func (s *Store) deleteOutbox(tx *gorm.DB, cutoff time.Time, processedOnly bool) *gorm.DB {
	q := tx.Table(s.cfg.OutboxTable).Where("created_at < ?", cutoff)
	if processedOnly {
		q = q.Where("is_processed = ?", true)
	}
	return q.Delete(&outboxRow{})
}

func (s *Store) deleteIncidents(tx *gorm.DB, cutoff time.Time) *gorm.DB {
	return tx.Table(s.cfg.IncidentTable).Where("created_at < ?", cutoff).Delete(&incidentRow{})
}

func (s *Store) DeleteOutboxBefore(ctx context.Context, cutoff time.Time, processedOnly bool) (int64, error) {
	res := s.deleteOutbox(s.db.WithContext(ctx), cutoff, processedOnly)
	if res.Error != nil {
		return 0, fmt.Errorf("delete outbox: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteIncidentsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.deleteIncidents(s.db.WithContext(ctx), cutoff)
	if res.Error != nil {
		return 0, fmt.Errorf("delete incidents: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]core.OutboxMessage, error) {
	var rows []outboxRow
	err := s.outbox(ctx).
		Where("is_processed = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("list unprocessed outbox: %w", err)
	}
	out := make([]core.OutboxMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	err := s.outbox(ctx).
		Where("id = ? AND is_processed = ?", id, false).
		Updates(map[string]any{"is_processed": true, "processed_at": at}).
		Error
	if err != nil {
		return fmt.Errorf("mark outbox %s processed: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
