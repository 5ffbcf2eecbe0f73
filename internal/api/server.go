package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"flockwatch/internal/alerts"
	"flockwatch/internal/config"
	"flockwatch/internal/devices"
	"flockwatch/internal/engine"
	"flockwatch/internal/model"
	"flockwatch/internal/oui"
)

// EngineControl is the part of the engine the API reads and resets.
type EngineControl interface {
	State() engine.Snapshot
	Stats() engine.Stats
	Reset()
}

// Stream upgrades clients to the live detection feed.
type Stream interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Clients() int
}

type Server struct {
	cfg     *config.Manager
	history *alerts.Store
	tracker *devices.Store
	engine  EngineControl
	stream  Stream
	vendors *oui.Database
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	Engine     engine.Stats `json:"engine"`
	Uptime     string       `json:"uptime"`
	Channel    int          `json:"channel"`
	Clients    int          `json:"stream_clients"`
	Detections uint64       `json:"detections_total"`
	Devices    int          `json:"devices"`
	Scanner    scanStatus   `json:"scanner"`
	Ingest     ingestStatus `json:"ingest"`
}

type scanStatus struct {
	WiFi     bool   `json:"wifi"`
	Iface    string `json:"iface,omitempty"`
	PcapFile string `json:"pcap_file,omitempty"`
	BLE      bool   `json:"ble"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	UDP       bool `json:"udp"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

func NewServer(cfg *config.Manager, history *alerts.Store, tracker *devices.Store, eng EngineControl, stream Stream, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		history: history,
		tracker: tracker,
		engine:  eng,
		stream:  stream,
		logger:  logger,
		version: version,
	}
}

// SetVendors installs the registry served under /oui. Without one the
// routes answer with empty results.
func (s *Server) SetVendors(db *oui.Database) {
	s.vendors = db
}

func Start(ctx context.Context, cfg *config.Manager, server *Server, logger *slog.Logger) *http.Server {
	if cfg == nil || server == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/detections", s.handleDetections).Methods(http.MethodGet)
	r.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{mac}", s.handleDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{mac}/alias", s.handleAlias).Methods(http.MethodPost)
	r.HandleFunc("/oui", s.handleOUISearch).Methods(http.MethodGet)
	r.HandleFunc("/oui/{prefix}", s.handleOUILookup).Methods(http.MethodGet)
	r.HandleFunc("/export/csv", s.handleExportCSV).Methods(http.MethodGet)
	r.HandleFunc("/admin/clear", s.handleClear).Methods(http.MethodPost)
	r.HandleFunc("/admin/reset", s.handleReset).Methods(http.MethodPost)
	if s.stream != nil {
		r.HandleFunc("/ws", s.stream.ServeWS).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Scanner: scanStatus{
			WiFi:     cfg.Scanner.WiFi.Enabled,
			Iface:    cfg.Scanner.WiFi.Iface,
			PcapFile: cfg.Scanner.WiFi.PcapFile,
			BLE:      cfg.Scanner.BLE.Enabled,
		},
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			UDP:       cfg.Ingest.UDP.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
	}
	if s.engine != nil {
		snap := s.engine.State()
		resp.Engine = s.engine.Stats()
		resp.Uptime = snap.Uptime
		resp.Channel = snap.Channel
	}
	if s.stream != nil {
		resp.Clients = s.stream.Clients()
	}
	if s.history != nil {
		resp.Detections = s.history.Total()
	}
	if s.tracker != nil {
		resp.Devices = s.tracker.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

// handleDetections serves the history, newest last. since (RFC 3339) and
// filter narrow the set before limit keeps the newest entries.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	list, ok := s.queryDetections(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": list,
		"count":      len(list),
	})
}

func (s *Server) queryDetections(w http.ResponseWriter, r *http.Request) ([]model.Detection, bool) {
	if s.history == nil {
		return []model.Detection{}, true
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return nil, false
		}
		limit = n
	}
	var list []model.Detection
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return nil, false
		}
		list = s.history.Since(ts)
	} else {
		list = s.history.Filter("")
	}
	if filter := q.Get("filter"); filter != "" {
		kept := list[:0]
		for _, d := range list {
			if alerts.Matches(d, filter) {
				kept = append(kept, d)
			}
		}
		list = kept
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, true
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	list := []devices.Device{}
	if s.tracker != nil {
		list = s.tracker.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": list,
		"count":   len(list),
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	dev, ok := s.tracker.Get(mux.Vars(r)["mac"])
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAlias(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Alias string `json:"alias"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.tracker == nil || !s.tracker.SetAlias(mux.Vars(r)["mac"], req.Alias) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleOUISearch lists registry entries matching q by prefix or
// manufacturer name, capped at limit (default 100).
func (s *Server) handleOUISearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	results := s.vendors.Search(q.Get("q"), limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
		"total":   s.vendors.Len(),
	})
}

func (s *Server) handleOUILookup(w http.ResponseWriter, r *http.Request) {
	prefix := mux.Vars(r)["prefix"]
	name, ok := s.vendors.Lookup(prefix)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"mac_prefix":   prefix,
			"manufacturer": oui.Unknown,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mac_prefix":   prefix,
		"manufacturer": name,
	})
}

var csvHeader = []string{
	"id", "timestamp", "protocol", "detection_method", "device_category",
	"mac_address", "ssid", "device_name", "rssi", "channel",
	"threat_score", "detection_criteria", "source", "manufacturer",
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	list, ok := s.queryDetections(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="detections.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for _, d := range list {
		_ = cw.Write([]string{
			d.ID,
			d.Timestamp.UTC().Format(time.RFC3339Nano),
			string(d.Protocol),
			d.DetectionMethod,
			string(d.DeviceCategory),
			d.MACAddress,
			d.SSID,
			d.DeviceName,
			strconv.Itoa(d.RSSI),
			strconv.Itoa(d.Channel),
			strconv.Itoa(d.ThreatScore),
			string(d.DetectionCriteria),
			d.Source,
			d.Manufacturer,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil && s.logger != nil {
		s.logger.Warn("csv export failed", "err", err)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.clearHistory()
		s.clearDevices()
	case "detections", "history":
		s.clearHistory()
	case "devices":
		s.clearDevices()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": target})
}

func (s *Server) clearHistory() {
	if s.history != nil {
		s.history.Clear()
	}
}

func (s *Server) clearDevices() {
	if s.tracker != nil {
		s.tracker.Clear()
	}
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if s.engine != nil {
		s.engine.Reset()
	}
	if s.logger != nil {
		s.logger.Info("detector reset via api")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
