package api

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flockwatch/internal/alerts"
	"flockwatch/internal/config"
	"flockwatch/internal/devices"
	"flockwatch/internal/engine"
	"flockwatch/internal/model"
	"flockwatch/internal/oui"
)

type fakeEngine struct {
	resets int
}

func (f *fakeEngine) State() engine.Snapshot {
	return engine.Snapshot{
		AlertState: model.AlertState{Triggered: true, DeviceInRange: true},
		Channel:    6,
		Uptime:     "12.000s",
	}
}

func (f *fakeEngine) Stats() engine.Stats {
	return engine.Stats{Received: 10, Matched: 3}
}

func (f *fakeEngine) Reset() { f.resets++ }

type testServer struct {
	history *alerts.Store
	tracker *devices.Store
	engine  *fakeEngine
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mgr, err := config.NewManager("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	ts := &testServer{
		history: alerts.NewStore(10),
		tracker: devices.NewStore(10),
		engine:  &fakeEngine{},
	}
	ts.handler = NewServer(mgr, ts.history, ts.tracker, ts.engine, nil, nil, "test").Handler()
	return ts
}

func (ts *testServer) add(det model.Detection) {
	ts.history.Add(det)
	ts.tracker.Observe(det)
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func detection(id, mac, method string, proto model.Protocol, at time.Time) model.Detection {
	return model.Detection{
		ID:                id,
		Timestamp:         at,
		Protocol:          proto,
		DetectionMethod:   method,
		DeviceCategory:    model.CategoryFlockSafety,
		MACAddress:        mac,
		RSSI:              -55,
		ThreatScore:       85,
		DetectionCriteria: model.CriteriaMACOnly,
	}
}

func seed(ts *testServer) time.Time {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.add(detection("a", "58:8e:81:00:00:01", "probe_request", model.ProtocolWiFi, base))
	ts.add(detection("b", "58:8e:81:00:00:02", "beacon", model.ProtocolWiFi, base.Add(time.Minute)))
	ts.add(detection("c", "ec:1b:bd:00:00:03", "device_name", model.ProtocolBLE, base.Add(2*time.Minute)))
	return base
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestStatusReportsCounters(t *testing.T) {
	ts := newTestServer(t)
	seed(ts)
	rec := ts.do(http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var resp statusResponse
	decode(t, rec, &resp)
	if resp.Engine.Received != 10 || resp.Channel != 6 || resp.Detections != 3 || resp.Devices != 3 {
		t.Fatalf("unexpected status %+v", resp)
	}
	if !resp.Scanner.WiFi || resp.Scanner.Iface != "wlan0mon" {
		t.Fatalf("scanner status %+v", resp.Scanner)
	}
}

func TestStateReturnsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/state", "")
	var snap engine.Snapshot
	decode(t, rec, &snap)
	if !snap.Triggered || !snap.DeviceInRange || snap.Channel != 6 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestDetectionsQuery(t *testing.T) {
	ts := newTestServer(t)
	base := seed(ts)

	var resp struct {
		Detections []model.Detection `json:"detections"`
		Count      int               `json:"count"`
	}
	decode(t, ts.do(http.MethodGet, "/detections?filter=wifi", ""), &resp)
	if resp.Count != 2 {
		t.Fatalf("wifi filter returned %d", resp.Count)
	}

	decode(t, ts.do(http.MethodGet, "/detections?limit=1", ""), &resp)
	if resp.Count != 1 || resp.Detections[0].ID != "c" {
		t.Fatalf("limit kept %+v", resp.Detections)
	}

	since := base.Add(30 * time.Second).Format(time.RFC3339)
	decode(t, ts.do(http.MethodGet, "/detections?since="+since, ""), &resp)
	if resp.Count != 2 || resp.Detections[0].ID != "b" {
		t.Fatalf("since returned %+v", resp.Detections)
	}

	if rec := ts.do(http.MethodGet, "/detections?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/detections?limit=-2", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}
}

func TestDeviceLookupAndAlias(t *testing.T) {
	ts := newTestServer(t)
	seed(ts)

	rec := ts.do(http.MethodGet, "/devices/58-8E-81-00-00-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup by dashed upper-case mac: %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/devices/00:00:00:00:00:09", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device: %d", rec.Code)
	}

	rec = ts.do(http.MethodPost, "/devices/58:8e:81:00:00:01/alias", `{"alias":"pole cam"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("alias: %d", rec.Code)
	}
	dev, _ := ts.tracker.Get("58:8e:81:00:00:01")
	if dev.Alias != "pole cam" {
		t.Fatalf("alias not stored: %+v", dev)
	}
	if rec := ts.do(http.MethodPost, "/devices/58:8e:81:00:00:01/alias", "{"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad alias body: %d", rec.Code)
	}

	var list struct {
		Count int `json:"count"`
	}
	decode(t, ts.do(http.MethodGet, "/devices", ""), &list)
	if list.Count != 3 {
		t.Fatalf("device count %d", list.Count)
	}
}

func TestExportCSV(t *testing.T) {
	ts := newTestServer(t)
	seed(ts)
	rec := ts.do(http.MethodGet, "/export/csv?filter=ble", "")
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type %q", ct)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(records))
	}
	if records[0][0] != "id" || records[1][0] != "c" || records[1][2] != "bluetooth_le" {
		t.Fatalf("unexpected rows %v", records)
	}
}

func TestAdminClearAndReset(t *testing.T) {
	ts := newTestServer(t)
	seed(ts)

	if rec := ts.do(http.MethodPost, "/admin/clear", `{"target":"devices"}`); rec.Code != http.StatusOK {
		t.Fatalf("clear devices: %d", rec.Code)
	}
	if ts.tracker.Len() != 0 || len(ts.history.List(0)) != 3 {
		t.Fatalf("clear devices touched history")
	}
	if rec := ts.do(http.MethodPost, "/admin/clear", `{"target":"metrics"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown target: %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/admin/clear", ""); rec.Code != http.StatusOK || len(ts.history.List(0)) != 0 {
		t.Fatalf("clear all failed")
	}

	if rec := ts.do(http.MethodPost, "/admin/reset", ""); rec.Code != http.StatusOK || ts.engine.resets != 1 {
		t.Fatalf("reset not forwarded")
	}
	if rec := ts.do(http.MethodGet, "/admin/reset", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET reset: %d", rec.Code)
	}
}

func TestOUIRoutes(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(http.MethodGet, "/oui/58:8e:81", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("lookup without registry: %d", rec.Code)
	}

	mgr, err := config.NewManager("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	vendors, err := oui.Parse(strings.NewReader(
		"58-8E-81   (hex)\t\tSilicon Laboratories\n" +
			"EC-1B-BD   (hex)\t\tSilicon Laboratories\n" +
			"28-6F-B9   (hex)\t\tNokia Shanghai Bell Co., Ltd.\n"))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	srv := NewServer(mgr, ts.history, ts.tracker, ts.engine, nil, nil, "test")
	srv.SetVendors(vendors)
	ts.handler = srv.Handler()

	var entry struct {
		Prefix       string `json:"mac_prefix"`
		Manufacturer string `json:"manufacturer"`
	}
	rec := ts.do(http.MethodGet, "/oui/58-8E-81-AA-BB-CC", "")
	decode(t, rec, &entry)
	if rec.Code != http.StatusOK || entry.Manufacturer != "Silicon Laboratories" {
		t.Fatalf("lookup returned %d %+v", rec.Code, entry)
	}

	var search struct {
		Results []oui.Entry `json:"results"`
		Count   int         `json:"count"`
		Total   int         `json:"total"`
	}
	decode(t, ts.do(http.MethodGet, "/oui?q=silicon", ""), &search)
	if search.Count != 2 || search.Total != 3 {
		t.Fatalf("name search returned %+v", search)
	}
	decode(t, ts.do(http.MethodGet, "/oui?limit=1", ""), &search)
	if search.Count != 1 {
		t.Fatalf("limited listing returned %+v", search)
	}
	if rec := ts.do(http.MethodGet, "/oui?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}
}
