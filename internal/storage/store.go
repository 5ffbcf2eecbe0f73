package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"flockwatch/internal/config"
	"flockwatch/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDetection(ctx context.Context, det model.Detection) error
	SaveDetections(ctx context.Context, dets []model.Detection) error
}

// NewStore returns nil, nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "clickhouse":
		return NewClickHouse(cfg.ClickHouse)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// Writer adapts a Store to the detection sink interface.
type Writer struct {
	Store Store
}

func (w Writer) Write(ctx context.Context, det model.Detection) error {
	return w.Store.SaveDetection(ctx, det)
}

func (w Writer) Close() error {
	return w.Store.Close()
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// insertBatch runs one prepared insert per detection inside a transaction.
func (b *baseStore) insertBatch(ctx context.Context, query string, dets []model.Detection) error {
	if b.db == nil || len(dets) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, det := range dets {
		if _, err := stmt.ExecContext(ctx, detectionArgs(det)...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// detectionArgs is the column order shared by every driver.
func detectionArgs(det model.Detection) []any {
	return []any{
		det.ID,
		det.Timestamp.UTC(),
		string(det.Protocol),
		det.DetectionMethod,
		string(det.DeviceCategory),
		det.MACAddress,
		det.SSID,
		det.DeviceName,
		det.RSSI,
		det.Channel,
		det.ThreatScore,
		string(det.DetectionCriteria),
		det.ServiceUUID,
		encodeJSON(det),
	}
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
