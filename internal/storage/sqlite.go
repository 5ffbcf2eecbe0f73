package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"flockwatch/internal/model"
)

const sqliteInsert = `INSERT INTO detections (id, ts, protocol, method, category, mac, ssid, device_name, rssi, channel, threat_score, criteria, service_uuid, raw_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:flockwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
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
			raw_json TEXT NOT NULL
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

func (s *sqliteStore) SaveDetection(ctx context.Context, det model.Detection) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, sqliteInsert, detectionArgs(det)...)
	return err
}

func (s *sqliteStore) SaveDetections(ctx context.Context, dets []model.Detection) error {
	return s.insertBatch(ctx, sqliteInsert, dets)
}
