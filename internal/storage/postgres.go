package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"flockwatch/internal/model"
)

const postgresInsert = `INSERT INTO detections (id, ts, protocol, method, category, mac, ssid, device_name, rssi, channel, threat_score, criteria, service_uuid, raw_json)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO NOTHING`

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/flockwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			protocol TEXT NOT NULL,
			method TEXT NOT NULL,
			category TEXT NOT NULL,
			mac TEXT NOT NULL,
			ssid TEXT,
			device_name TEXT,
			rssi INTEGER NOT NULL,
			channel INTEGER,
			threat_score INTEGER NOT NULL,
			criteria TEXT,
			service_uuid TEXT,
			raw_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_mac ON detections(mac)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveDetection(ctx context.Context, det model.Detection) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, postgresInsert, detectionArgs(det)...)
	return err
}

func (s *postgresStore) SaveDetections(ctx context.Context, dets []model.Detection) error {
	return s.insertBatch(ctx, postgresInsert, dets)
}
