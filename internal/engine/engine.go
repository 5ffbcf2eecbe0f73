package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flockwatch/internal/alerts"
	"flockwatch/internal/classify"
	"flockwatch/internal/config"
	"flockwatch/internal/devices"
	"flockwatch/internal/model"
	"flockwatch/internal/notify"
	"flockwatch/internal/oui"
	"flockwatch/internal/parser"
	"flockwatch/internal/patterns"
	"flockwatch/internal/scheduler"
	"flockwatch/internal/sink"
)

// Stream message types.
const (
	MsgNewDetection     = "new_detection"
	MsgDetectionUpdated = "detection_updated"
	MsgState            = "state"
)

const (
	confidenceHigh    = "HIGH"
	alertLevelHigh    = "HIGH"
	hiddenSSID        = "hidden"
	advertisementType = "BLE_ADVERTISEMENT"
)

// Broadcaster receives live updates for connected clients.
type Broadcaster interface {
	Broadcast(kind string, payload any)
}

type Engine struct {
	logger   *slog.Logger
	cfg      *config.Config
	db       *patterns.Database
	notifier notify.Notifier
	history  *alerts.Store
	tracker  *devices.Store
	sink     sink.Sink
	alert    *AlertMachine
	ignore   *IgnoreSet
	deDupe   *DedupeCache
	cooldown *Cooldown

	mu      sync.Mutex
	sched   *scheduler.Scheduler
	stream  Broadcaster
	vendors *oui.Database
	now     func() time.Time
	started time.Time

	received atomic.Uint64
	matched  atomic.Uint64
	ignored  atomic.Uint64
}

// Stats counts events seen by Process since start or the last Reset.
type Stats struct {
	Received uint64 `json:"received"`
	Matched  uint64 `json:"matched"`
	Ignored  uint64 `json:"ignored"`
}

// Snapshot is the alert state plus the channel the WiFi radio is on.
type Snapshot struct {
	model.AlertState
	Channel int       `json:"channel"`
	Uptime  string    `json:"uptime"`
	Now     time.Time `json:"now"`
}

// NewEngine wires the pipeline. notifier, history, tracker and out may be nil.
func NewEngine(cfg *config.Config, logger *slog.Logger, db *patterns.Database, notifier notify.Notifier, history *alerts.Store, tracker *devices.Store, out sink.Sink) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if db == nil {
		db = patterns.Default()
	}
	now := func() time.Time { return time.Now().UTC() }
	e := &Engine{
		logger:   logger,
		cfg:      cfg,
		db:       db,
		notifier: notifier,
		history:  history,
		tracker:  tracker,
		sink:     out,
		alert:    NewAlertMachine(notifier, cfg.Alerting.InRangeTimeout, cfg.Alerting.HeartbeatInterval),
		ignore:   NewIgnoreSet(cfg.Ignore.MACs),
		deDupe:   NewDedupeCache(),
		now:      now,
		started:  now(),
	}
	e.cooldown = NewCooldown(e.clock)
	return e
}

func (e *Engine) SetScheduler(s *scheduler.Scheduler) {
	e.mu.Lock()
	e.sched = s
	e.mu.Unlock()
}

func (e *Engine) SetStream(b Broadcaster) {
	e.mu.Lock()
	e.stream = b
	e.mu.Unlock()
}

// SetVendors installs the OUI registry used to fill in the manufacturer of
// Flock detections.
func (e *Engine) SetVendors(db *oui.Database) {
	e.mu.Lock()
	e.vendors = db
	e.mu.Unlock()
}

// SetClock replaces the time source and re-anchors uptime to it.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.started = now()
	e.mu.Unlock()
}

func (e *Engine) clock() time.Time {
	e.mu.Lock()
	now := e.now
	e.mu.Unlock()
	return now()
}

func (e *Engine) radioScheduler() *scheduler.Scheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched
}

func (e *Engine) broadcaster() Broadcaster {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream
}

// BootReady signals that the radios are up.
func (e *Engine) BootReady() {
	if e.notifier != nil {
		e.notifier.BootReady()
	}
	if e.logger != nil {
		e.logger.Info("detector ready",
			"ssid_patterns", len(e.db.SSIDPatterns()),
			"mac_prefixes", len(e.db.MACPrefixes()),
			"name_patterns", len(e.db.NamePatterns()),
			"services", len(e.db.Services()),
		)
	}
}

// Run consumes events and drives the scheduler and alert timers until ctx
// is done or events is closed.
func (e *Engine) Run(ctx context.Context, events <-chan model.RadioEvent) error {
	interval := e.cfg.Scanner.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Process(ctx, ev)
		case <-ticker.C:
			e.Poll()
		}
	}
}

// Poll runs one cycle of timed work: channel hop, BLE window and the alert
// timers.
func (e *Engine) Poll() {
	now := e.clock()
	if s := e.radioScheduler(); s != nil {
		s.Tick(now)
	}
	heartbeat, expired := e.alert.Poll(now)
	if expired && e.logger != nil {
		e.logger.Info("device out of range", "timeout", e.cfg.Alerting.InRangeTimeout)
	}
	if heartbeat || expired {
		e.publish(MsgState, e.State())
	}
}

// Process runs one event through parse, classify and alerting. It reports
// the detection when the event matched.
func (e *Engine) Process(ctx context.Context, ev model.RadioEvent) (model.Detection, bool) {
	e.received.Add(1)
	now := e.clock()

	var (
		verdict model.Verdict
		mac     model.MAC
		det     model.Detection
	)
	switch ev.Kind {
	case model.EventWiFi:
		if e.isDuplicate(ev, now) {
			return model.Detection{}, false
		}
		channel := ev.Channel
		if channel == 0 {
			if s := e.radioScheduler(); s != nil {
				channel = s.CurrentChannel()
			}
		}
		rec, ok := parser.ParseWiFi(ev.Frame, ev.RSSI, channel)
		if !ok {
			if e.logger != nil {
				e.logger.Debug("dropping frame", "source", ev.Source, "len", len(ev.Frame))
			}
			return model.Detection{}, false
		}
		verdict = classify.ClassifyWiFi(rec, e.db)
		mac = rec.SenderMAC
		if verdict.Matched {
			det = e.wifiDetection(now, rec, verdict)
		}
	case model.EventBLE:
		rec := ev.BLE
		verdict = classify.ClassifyBLE(rec, e.db)
		mac = rec.Address
		if verdict.Matched {
			det = e.bleDetection(now, rec, verdict)
		}
	default:
		return model.Detection{}, false
	}
	if !verdict.Matched {
		return model.Detection{}, false
	}
	if e.ignore.Contains(mac) {
		e.ignored.Add(1)
		if e.logger != nil {
			e.logger.Debug("ignoring listed device", "mac", mac.String(), "method", verdict.Method)
		}
		return model.Detection{}, false
	}
	e.matched.Add(1)
	det.Source = ev.Source
	if det.Source == "" {
		det.Source = ev.Kind.String()
	}

	fired := e.alert.Observe(now)
	if e.history != nil {
		e.history.Add(det)
	}
	isNew := false
	if e.tracker != nil {
		_, isNew = e.tracker.Observe(det)
	}
	e.write(ctx, det)

	if e.logger != nil {
		e.logger.Warn("surveillance device detected",
			"mac", det.MACAddress,
			"ssid", det.SSID,
			"name", det.DeviceName,
			"channel", det.Channel,
			"method", det.DetectionMethod,
			"score", det.ThreatScore,
			"rssi", det.RSSI,
			"source", det.Source,
			"new_alert", fired,
		)
	}

	switch {
	case fired || isNew:
		e.publish(MsgNewDetection, det)
	case e.cooldown.AllowKey(det.MACAddress, e.cfg.Alerting.UpdateCooldown):
		e.publish(MsgDetectionUpdated, det)
	}
	if fired {
		e.publish(MsgState, e.State())
	}
	return det, true
}

func (e *Engine) write(ctx context.Context, det model.Detection) {
	if e.sink == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := e.cfg.Output.WriteTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := e.sink.Write(ctx, det); err != nil && e.logger != nil {
		e.logger.Error("detection output failed", "id", det.ID, "err", err)
	}
}

func (e *Engine) publish(kind string, payload any) {
	if b := e.broadcaster(); b != nil {
		b.Broadcast(kind, payload)
	}
}

func (e *Engine) base(now time.Time, mac model.MAC, rssi int, v model.Verdict) model.Detection {
	e.mu.Lock()
	started := e.started
	vendors := e.vendors
	e.mu.Unlock()
	manufacturer := ""
	if vendors != nil {
		manufacturer = oui.Unknown
		if name, ok := vendors.LookupMAC(mac); ok {
			manufacturer = name
		}
	}
	return model.Detection{
		ID:                uuid.NewString(),
		Timestamp:         now,
		DetectionTime:     uptime(now.Sub(started)),
		DetectionMethod:   v.Method,
		AlertLevel:        alertLevelHigh,
		DeviceCategory:    v.Category,
		RSSI:              rssi,
		SignalStrength:    model.Strength(rssi, e.cfg.Signal.StrongRSSI, e.cfg.Signal.MediumRSSI),
		MACAddress:        mac.String(),
		MACPrefix:         mac.Prefix(),
		VendorOUI:         mac.Prefix(),
		Manufacturer:      manufacturer,
		Signals:           v.Signals,
		DetectionCriteria: v.Criteria,
		ThreatScore:       v.ThreatScore,
		ThreatLevel:       v.ThreatLevel,
	}
}

func (e *Engine) wifiDetection(now time.Time, rec model.WiFiFrame, v model.Verdict) model.Detection {
	det := e.base(now, rec.SenderMAC, rec.RSSI, v)
	det.Protocol = model.ProtocolWiFi
	det.SSID = rec.SSID
	det.SSIDLength = len(rec.SSID)
	if det.SSID == "" && !v.Has(model.SignalSSID) {
		det.SSID = hiddenSSID
	}
	det.Channel = rec.Channel
	det.FrameType = rec.Subtype.String()
	det.FrameDescription = v.FrameDescription
	if v.MatchedSSID != "" {
		det.MatchedSSIDPattern = v.MatchedSSID
		det.SSIDMatchConfidence = confidenceHigh
	}
	if v.MatchedMAC != "" {
		det.MatchedMACPattern = v.MatchedMAC
		det.MACMatchConfidence = confidenceHigh
	}
	return det
}

func (e *Engine) bleDetection(now time.Time, rec model.BLEAdvertisement, v model.Verdict) model.Detection {
	det := e.base(now, rec.Address, rec.RSSI, v)
	det.Protocol = model.ProtocolBLE
	det.DeviceName = rec.Name
	det.DeviceNameLength = len(rec.Name)
	det.HasDeviceName = rec.Name != ""
	det.ServiceUUIDs = rec.ServiceUUIDs
	if v.Category == model.CategoryRaven {
		det.Manufacturer = v.Manufacturer
		det.ServiceUUID = v.ServiceUUID
		det.ServiceDescription = v.ServiceDescription
		det.FirmwareVersion = v.FirmwareVersion
		return det
	}
	det.AdvertisementType = advertisementType
	det.AdvertisementDescription = v.AdvertisementDescription
	det.PrimaryIndicator = v.PrimaryIndicator
	det.DetectionReason = v.Reason
	if v.MatchedMAC != "" {
		det.MatchedMACPattern = v.MatchedMAC
		det.MACMatchConfidence = confidenceHigh
	}
	if v.MatchedName != "" {
		det.MatchedNamePattern = v.MatchedName
		det.NameMatchConfidence = confidenceHigh
	}
	return det
}

// State returns the alert state for API readers.
func (e *Engine) State() Snapshot {
	now := e.clock()
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	snap := Snapshot{AlertState: e.alert.State(), Uptime: uptime(now.Sub(started)), Now: now}
	if s := e.radioScheduler(); s != nil {
		snap.Channel = s.CurrentChannel()
	}
	return snap
}

func (e *Engine) Stats() Stats {
	return Stats{Received: e.received.Load(), Matched: e.matched.Load(), Ignored: e.ignored.Load()}
}

// Reset returns the detector to its boot state without touching the radios.
func (e *Engine) Reset() {
	e.alert.Reset()
	if e.history != nil {
		e.history.Clear()
	}
	if e.tracker != nil {
		e.tracker.Clear()
	}
	e.deDupe.Reset()
	e.cooldown.Reset()
	e.received.Store(0)
	e.matched.Store(0)
	e.ignored.Store(0)
	e.publish(MsgState, e.State())
}

func (e *Engine) isDuplicate(ev model.RadioEvent, now time.Time) bool {
	window := e.cfg.Ingest.DedupeWindow
	if window <= 0 {
		return false
	}
	return e.deDupe.Seen(hashFrame(ev), now, window)
}

// hashFrame keys a capture by its bytes and channel; retransmissions of the
// same frame collapse, distinct frames from one sender do not.
func hashFrame(ev model.RadioEvent) string {
	h := sha256.New()
	h.Write(ev.Frame)
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(ev.Channel)))
	return hex.EncodeToString(h.Sum(nil))
}

func uptime(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
