package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"flockwatch/internal/config"
	"flockwatch/internal/model"
)

func detection(id string) model.Detection {
	return model.Detection{
		ID:                id,
		Timestamp:         time.Unix(1700000000, 0).UTC(),
		Protocol:          model.ProtocolWiFi,
		DetectionMethod:   "probe_request",
		DeviceCategory:    model.CategoryFlockSafety,
		MACAddress:        "58:8e:81:aa:bb:cc",
		SSID:              "flock-cam",
		RSSI:              -61,
		Channel:           6,
		ThreatScore:       100,
		DetectionCriteria: model.CriteriaSSIDAndMAC,
	}
}

func openTemp(t *testing.T) (Store, string) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	st, err := NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dsn
}

func countRows(t *testing.T, dsn string) int {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestNewStoreDisabled(t *testing.T) {
	st, err := NewStore(config.StorageConfig{})
	if err != nil || st != nil {
		t.Fatalf("disabled storage should be nil, got %v %v", st, err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "mongo"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSQLiteSaveDetection(t *testing.T) {
	st, dsn := openTemp(t)
	w := Writer{Store: st}
	if err := w.Write(context.Background(), detection("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := countRows(t, dsn); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}
}

func TestSQLiteBatchIsAtomic(t *testing.T) {
	st, dsn := openTemp(t)
	ctx := context.Background()
	if err := st.SaveDetections(ctx, []model.Detection{detection("a"), detection("b")}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	// duplicate primary key rolls back the whole batch
	if err := st.SaveDetections(ctx, []model.Detection{detection("c"), detection("a")}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if got := countRows(t, dsn); got != 2 {
		t.Fatalf("expected 2 rows after rollback, got %d", got)
	}
}
