package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"flockwatch/internal/config"
	"flockwatch/internal/model"
)

const clickhouseCreate = `
CREATE TABLE IF NOT EXISTS detections (
    id           String,
    ts           DateTime64(3),
    protocol     LowCardinality(String),
    method       LowCardinality(String),
    category     LowCardinality(String),
    mac          String,
    ssid         String,
    device_name  String,
    rssi         Int32,
    channel      Int32,
    threat_score Int32,
    criteria     LowCardinality(String),
    service_uuid String,
    raw_json     String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ts)
ORDER BY (protocol, ts);
`

type clickhouseStore struct {
	conn driver.Conn
}

func NewClickHouse(cfg config.ClickHouseConfig) (Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	return &clickhouseStore{conn: conn}, nil
}

func (s *clickhouseStore) Init(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := s.conn.Exec(ctx, clickhouseCreate); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (s *clickhouseStore) Close() error {
	return s.conn.Close()
}

func (s *clickhouseStore) SaveDetection(ctx context.Context, det model.Detection) error {
	return s.SaveDetections(ctx, []model.Detection{det})
}

func (s *clickhouseStore) SaveDetections(ctx context.Context, dets []model.Detection) error {
	if len(dets) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO detections")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, det := range dets {
		if err := batch.Append(
			det.ID,
			det.Timestamp.UTC(),
			string(det.Protocol),
			det.DetectionMethod,
			string(det.DeviceCategory),
			det.MACAddress,
			det.SSID,
			det.DeviceName,
			int32(det.RSSI),
			int32(det.Channel),
			int32(det.ThreatScore),
			string(det.DetectionCriteria),
			det.ServiceUUID,
			encodeJSON(det),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append detection: %w", err)
		}
	}
	return batch.Send()
}
