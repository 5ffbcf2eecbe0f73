package engine

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"flockwatch/internal/alerts"
	"flockwatch/internal/config"
	"flockwatch/internal/devices"
	"flockwatch/internal/model"
	"flockwatch/internal/oui"
	"flockwatch/internal/patterns"
)

type countingNotifier struct {
	mu        sync.Mutex
	boot      int
	detection int
	heartbeat int
}

func (n *countingNotifier) BootReady() {
	n.mu.Lock()
	n.boot++
	n.mu.Unlock()
}

func (n *countingNotifier) NewDetection() {
	n.mu.Lock()
	n.detection++
	n.mu.Unlock()
}

func (n *countingNotifier) Heartbeat() {
	n.mu.Lock()
	n.heartbeat++
	n.mu.Unlock()
}

type memorySink struct {
	got []model.Detection
}

func (m *memorySink) Write(_ context.Context, det model.Detection) error {
	m.got = append(m.got, det)
	return nil
}

func (m *memorySink) Close() error { return nil }

type recordedMsg struct {
	kind    string
	payload any
}

type memoryStream struct {
	msgs []recordedMsg
}

func (m *memoryStream) Broadcast(kind string, payload any) {
	m.msgs = append(m.msgs, recordedMsg{kind: kind, payload: payload})
}

func (m *memoryStream) kinds() []string {
	out := make([]string, 0, len(m.msgs))
	for _, msg := range m.msgs {
		out = append(out, msg.kind)
	}
	return out
}

type fakeClock struct {
	t time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func mgmtFrame(fc byte, sender model.MAC, ssid string) []byte {
	f := make([]byte, 24)
	f[0] = fc
	for i := 4; i < 10; i++ {
		f[i] = 0xff
	}
	copy(f[10:16], sender[:])
	if fc == byte(model.SubtypeBeacon) {
		f = append(f, make([]byte, 12)...)
	}
	f = append(f, 0x00, byte(len(ssid)))
	return append(f, ssid...)
}

func mustMAC(t *testing.T, s string) model.MAC {
	t.Helper()
	m, ok := model.ParseMAC(s)
	if !ok {
		t.Fatalf("bad mac %q", s)
	}
	return m
}

type harness struct {
	eng      *Engine
	clock    *fakeClock
	notifier *countingNotifier
	out      *memorySink
	stream   *memoryStream
	history  *alerts.Store
	tracker  *devices.Store
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		clock:    newClock(),
		notifier: &countingNotifier{},
		out:      &memorySink{},
		stream:   &memoryStream{},
		history:  alerts.NewStore(100),
		tracker:  devices.NewStore(100),
	}
	h.eng = NewEngine(cfg, nil, patterns.Default(), h.notifier, h.history, h.tracker, h.out)
	h.eng.SetClock(h.clock.Now)
	h.eng.SetStream(h.stream)
	return h
}

func (h *harness) wifi(frame []byte, rssi, channel int) (model.Detection, bool) {
	return h.eng.Process(context.Background(), model.RadioEvent{
		Kind:     model.EventWiFi,
		Received: h.clock.Now(),
		Frame:    frame,
		RSSI:     rssi,
		Channel:  channel,
	})
}

func TestAlertMachineFiresOnce(t *testing.T) {
	n := &countingNotifier{}
	a := NewAlertMachine(n, 30*time.Second, 10*time.Second)
	t0 := time.Unix(0, 0)
	if !a.Observe(t0) {
		t.Fatalf("first match should fire")
	}
	if a.Observe(t0.Add(5 * time.Second)) {
		t.Fatalf("match while triggered must not fire")
	}
	st := a.State()
	if !st.Triggered || !st.DeviceInRange || !st.LastDetection.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("unexpected state %+v", st)
	}
	if n.detection != 1 {
		t.Fatalf("expected 1 new-detection intent, got %d", n.detection)
	}
}

func TestAlertMachineTimeoutAndHeartbeat(t *testing.T) {
	n := &countingNotifier{}
	a := NewAlertMachine(n, 30*time.Second, 10*time.Second)
	t0 := time.Unix(0, 0)
	a.Observe(t0)

	if hb, exp := a.Poll(t0.Add(10 * time.Second)); !hb || exp {
		t.Fatalf("expected heartbeat at 10s, got hb=%v exp=%v", hb, exp)
	}
	if hb, _ := a.Poll(t0.Add(15 * time.Second)); hb {
		t.Fatalf("heartbeat fired early")
	}
	if hb, exp := a.Poll(t0.Add(20 * time.Second)); !hb || exp {
		t.Fatalf("expected heartbeat at 20s")
	}
	if _, exp := a.Poll(t0.Add(29900 * time.Millisecond)); exp {
		t.Fatalf("expired before timeout")
	}
	if !a.State().Triggered {
		t.Fatalf("should still be triggered at 29.9s")
	}
	if hb, exp := a.Poll(t0.Add(30100 * time.Millisecond)); hb || !exp {
		t.Fatalf("expected expiry without heartbeat at 30.1s, got hb=%v exp=%v", hb, exp)
	}
	if st := a.State(); st.Triggered || st.DeviceInRange {
		t.Fatalf("state not idle after timeout: %+v", st)
	}
	if n.heartbeat != 2 {
		t.Fatalf("expected 2 heartbeats, got %d", n.heartbeat)
	}
	if !a.Observe(t0.Add(31 * time.Second)) {
		t.Fatalf("match after timeout should fire again")
	}
	if n.detection != 2 {
		t.Fatalf("expected 2 new-detection intents, got %d", n.detection)
	}
}

func TestAlertMachineIdleIsQuiet(t *testing.T) {
	n := &countingNotifier{}
	a := NewAlertMachine(n, 30*time.Second, 10*time.Second)
	for i := 0; i < 10; i++ {
		if hb, exp := a.Poll(time.Unix(int64(i*60), 0)); hb || exp {
			t.Fatalf("idle machine produced hb=%v exp=%v", hb, exp)
		}
	}
	if n.heartbeat != 0 || n.detection != 0 {
		t.Fatalf("idle machine notified: %+v", n)
	}
}

func TestProcessProbeRequest(t *testing.T) {
	h := newHarness(t, nil)
	sender := mustMAC(t, "58:8E:81:01:02:03")
	det, ok := h.wifi(mgmtFrame(0x40, sender, "Flock-4F2A"), -45, 6)
	if !ok {
		t.Fatalf("expected detection")
	}
	if det.DetectionCriteria != model.CriteriaSSIDAndMAC || det.ThreatScore != 100 {
		t.Fatalf("unexpected scoring %s %d", det.DetectionCriteria, det.ThreatScore)
	}
	if det.DetectionMethod != "probe_request" || det.FrameType != "PROBE_REQUEST" {
		t.Fatalf("unexpected method %q frame %q", det.DetectionMethod, det.FrameType)
	}
	if det.MACAddress != "58:8e:81:01:02:03" || det.MACPrefix != "58:8e:81" {
		t.Fatalf("unexpected address %q %q", det.MACAddress, det.MACPrefix)
	}
	if det.SignalStrength != model.SignalStrong || det.Channel != 6 || det.SSIDLength != 10 {
		t.Fatalf("unexpected radio fields %+v", det)
	}
	if det.SSIDMatchConfidence != "HIGH" || det.MatchedSSIDPattern != "flock" {
		t.Fatalf("unexpected ssid match %q %q", det.MatchedSSIDPattern, det.SSIDMatchConfidence)
	}
	if det.ID == "" || det.DetectionTime != "0.000s" || det.Source != "wifi" {
		t.Fatalf("unexpected identity fields id=%q time=%q source=%q", det.ID, det.DetectionTime, det.Source)
	}
	if len(h.out.got) != 1 || h.history.Total() != 1 || h.tracker.Len() != 1 {
		t.Fatalf("detection not fanned out: sink=%d history=%d tracker=%d", len(h.out.got), h.history.Total(), h.tracker.Len())
	}
	if h.notifier.detection != 1 {
		t.Fatalf("expected new-detection intent")
	}
	kinds := h.stream.kinds()
	if len(kinds) != 2 || kinds[0] != MsgNewDetection || kinds[1] != MsgState {
		t.Fatalf("unexpected stream messages %v", kinds)
	}
}

func TestProcessDedupesIdenticalCaptures(t *testing.T) {
	h := newHarness(t, nil)
	frame := mgmtFrame(0x40, mustMAC(t, "58:8e:81:01:02:03"), "flock")
	if _, ok := h.wifi(frame, -60, 1); !ok {
		t.Fatalf("first capture should match")
	}
	h.clock.Advance(50 * time.Millisecond)
	if _, ok := h.wifi(frame, -60, 1); ok {
		t.Fatalf("duplicate inside window should be suppressed")
	}
	h.clock.Advance(time.Second)
	if _, ok := h.wifi(frame, -60, 1); !ok {
		t.Fatalf("capture after window should match")
	}
	if h.notifier.detection != 1 {
		t.Fatalf("re-detection while triggered must not re-fire, got %d", h.notifier.detection)
	}
	if got := h.stream.kinds(); got[len(got)-1] != MsgDetectionUpdated {
		t.Fatalf("expected update message, got %v", got)
	}
	if st := h.eng.Stats(); st.Received != 3 || st.Matched != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestProcessHiddenSSIDForMACOnlyBeacon(t *testing.T) {
	h := newHarness(t, nil)
	det, ok := h.wifi(mgmtFrame(0x80, mustMAC(t, "70:c9:4e:aa:bb:cc"), ""), -80, 11)
	if !ok {
		t.Fatalf("expected MAC-only detection")
	}
	if det.DetectionMethod != "beacon_mac" || det.DetectionCriteria != model.CriteriaMACOnly || det.ThreatScore != 85 {
		t.Fatalf("unexpected classification %+v", det)
	}
	if det.SSID != "hidden" || det.SSIDLength != 0 || det.SignalStrength != model.SignalWeak {
		t.Fatalf("unexpected ssid fields %q %d %s", det.SSID, det.SSIDLength, det.SignalStrength)
	}
}

func TestProcessNoMatch(t *testing.T) {
	h := newHarness(t, nil)
	if _, ok := h.wifi(mgmtFrame(0x40, mustMAC(t, "00:11:22:33:44:55"), "HP-Print-42-LaserJet"), -40, 3); ok {
		t.Fatalf("office printer should not match")
	}
	if _, ok := h.wifi([]byte{0x40, 0x00}, -40, 3); ok {
		t.Fatalf("truncated frame should be dropped")
	}
	if len(h.out.got) != 0 || h.eng.State().Triggered {
		t.Fatalf("non-match changed state")
	}
}

func TestProcessIgnoreList(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Ignore.MACs = []string{"588E81010203"}
	})
	if _, ok := h.wifi(mgmtFrame(0x40, mustMAC(t, "58:8e:81:01:02:03"), "flock"), -60, 1); ok {
		t.Fatalf("ignored device produced a detection")
	}
	if h.eng.Stats().Ignored != 1 || h.notifier.detection != 0 {
		t.Fatalf("ignored device reached the alert state")
	}
	if _, ok := h.wifi(mgmtFrame(0x40, mustMAC(t, "58:8e:81:01:02:04"), "flock"), -60, 1); !ok {
		t.Fatalf("neighbouring address should still match")
	}
}

func TestProcessRavenAdvertisement(t *testing.T) {
	h := newHarness(t, nil)
	adv := model.BLEAdvertisement{
		Address:      mustMAC(t, "12:34:56:78:9a:bc"),
		RSSI:         -65,
		ServiceUUIDs: []string{patterns.ServiceGPS, patterns.ServicePower},
	}
	det, ok := h.eng.Process(context.Background(), model.RadioEvent{Kind: model.EventBLE, BLE: adv, Source: "ble"})
	if !ok {
		t.Fatalf("expected raven detection")
	}
	if det.DeviceCategory != model.CategoryRaven || det.ThreatLevel != "CRITICAL" || det.ThreatScore != 100 {
		t.Fatalf("unexpected raven classification %+v", det)
	}
	if det.ServiceUUID != patterns.ServiceGPS || det.FirmwareVersion != patterns.FirmwareLatest {
		t.Fatalf("unexpected service fields %q %q", det.ServiceUUID, det.FirmwareVersion)
	}
	if det.Protocol != model.ProtocolBLE || det.HasDeviceName || len(det.ServiceUUIDs) != 2 {
		t.Fatalf("unexpected ble fields %+v", det)
	}
}

func TestProcessFillsManufacturerFromRegistry(t *testing.T) {
	h := newHarness(t, nil)
	if det, ok := h.wifi(mgmtFrame(0x40, mustMAC(t, "58:8e:81:01:02:03"), "flock"), -60, 1); !ok || det.Manufacturer != "" {
		t.Fatalf("manufacturer set without a registry: %q", det.Manufacturer)
	}

	vendors, err := oui.Parse(strings.NewReader("58-8E-81   (hex)\t\tSilicon Laboratories\n"))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	h.eng.SetVendors(vendors)
	det, ok := h.wifi(mgmtFrame(0x80, mustMAC(t, "58:8e:81:0a:0b:0c"), "Flock-1"), -60, 1)
	if !ok || det.Manufacturer != "Silicon Laboratories" {
		t.Fatalf("expected registry manufacturer, got %q", det.Manufacturer)
	}
	det, ok = h.wifi(mgmtFrame(0x40, mustMAC(t, "70:c9:4e:01:02:03"), ""), -60, 1)
	if !ok || det.Manufacturer != oui.Unknown {
		t.Fatalf("expected unknown manufacturer, got %q", det.Manufacturer)
	}
}

func TestProcessRavenKeepsItsManufacturer(t *testing.T) {
	h := newHarness(t, nil)
	vendors, err := oui.Parse(strings.NewReader("12-34-56   (hex)\t\tSome Radio Vendor\n"))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	h.eng.SetVendors(vendors)
	adv := model.BLEAdvertisement{
		Address:      mustMAC(t, "12:34:56:78:9a:bc"),
		ServiceUUIDs: []string{patterns.ServiceGPS},
	}
	det, ok := h.eng.Process(context.Background(), model.RadioEvent{Kind: model.EventBLE, BLE: adv})
	if !ok || det.Manufacturer != "SoundThinking/ShotSpotter" {
		t.Fatalf("raven manufacturer replaced: %q", det.Manufacturer)
	}
}

func TestPollExpiresAndBroadcastsState(t *testing.T) {
	h := newHarness(t, nil)
	if _, ok := h.wifi(mgmtFrame(0x40, mustMAC(t, "58:8e:81:01:02:03"), "flock"), -60, 1); !ok {
		t.Fatalf("expected detection")
	}
	h.stream.msgs = nil
	h.clock.Advance(10 * time.Second)
	h.eng.Poll()
	h.clock.Advance(20*time.Second + time.Millisecond)
	h.eng.Poll()
	if h.eng.State().Triggered {
		t.Fatalf("engine still triggered after timeout")
	}
	if h.notifier.heartbeat != 1 {
		t.Fatalf("expected one heartbeat, got %d", h.notifier.heartbeat)
	}
	if got := h.stream.kinds(); len(got) != 2 || got[0] != MsgState || got[1] != MsgState {
		t.Fatalf("expected two state messages, got %v", got)
	}
}

func TestResetClearsState(t *testing.T) {
	h := newHarness(t, nil)
	h.wifi(mgmtFrame(0x40, mustMAC(t, "58:8e:81:01:02:03"), "flock"), -60, 1)
	h.eng.Reset()
	if h.eng.State().Triggered || len(h.history.List(0)) != 0 || h.tracker.Len() != 0 {
		t.Fatalf("reset left state behind")
	}
	if st := h.eng.Stats(); st.Received != 0 || st.Matched != 0 {
		t.Fatalf("reset left counters %+v", st)
	}
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Scanner.PollInterval = time.Millisecond
	})
	events := make(chan model.RadioEvent, 1)
	events <- model.RadioEvent{Kind: model.EventWiFi, Frame: mgmtFrame(0x40, mustMAC(t, "58:8e:81:01:02:03"), "flock"), RSSI: -60, Channel: 1}
	close(events)
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(context.Background(), events) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
	if h.history.Total() != 1 {
		t.Fatalf("queued event was not processed")
	}
}

func TestDedupeCache(t *testing.T) {
	d := NewDedupeCache()
	t0 := time.Unix(0, 0)
	if d.Seen("a", t0, time.Second) {
		t.Fatalf("first sighting reported as seen")
	}
	if !d.Seen("a", t0.Add(500*time.Millisecond), time.Second) {
		t.Fatalf("repeat inside ttl not suppressed")
	}
	if d.Seen("a", t0.Add(3*time.Second), time.Second) {
		t.Fatalf("repeat after ttl suppressed")
	}
	d.Reset()
	if d.Len() != 0 {
		t.Fatalf("reset left %d entries", d.Len())
	}
}

func TestDedupeCacheCompactsOncePerTTL(t *testing.T) {
	d := NewDedupeCache()
	t0 := time.Unix(100, 0)
	ttl := time.Second
	for i := 0; i <= dedupeCompactSize; i++ {
		d.Seen(strconv.Itoa(i), t0, ttl)
	}
	if !d.compacted.Equal(t0) {
		t.Fatalf("expected a sweep once the cache filled, last at %v", d.compacted)
	}
	d.Seen("live-1", t0.Add(100*time.Millisecond), ttl)
	d.Seen("live-2", t0.Add(200*time.Millisecond), ttl)
	if !d.compacted.Equal(t0) {
		t.Fatalf("swept again inside the ttl at %v", d.compacted)
	}
	later := t0.Add(3 * ttl)
	d.Seen("fresh", later, ttl)
	if !d.compacted.Equal(later) || d.Len() != 1 {
		t.Fatalf("expected expired keys swept, len=%d compacted=%v", d.Len(), d.compacted)
	}
}

func TestCooldownUsesClock(t *testing.T) {
	c := newClock()
	cd := NewCooldown(c.Now)
	if !cd.AllowKey("k", 2*time.Second) {
		t.Fatalf("first call blocked")
	}
	c.Advance(time.Second)
	if cd.AllowKey("k", 2*time.Second) {
		t.Fatalf("call inside cooldown allowed")
	}
	c.Advance(2 * time.Second)
	if !cd.AllowKey("k", 2*time.Second) {
		t.Fatalf("call after cooldown blocked")
	}
}

func TestIgnoreSetParsesForms(t *testing.T) {
	s := NewIgnoreSet([]string{"AA:BB:CC:DD:EE:FF", "11-22-33-44-55-66", "a1b2c3d4e5f6", "not-a-mac"})
	if s.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", s.Len())
	}
	if !s.Contains(mustMAC(t, "aa:bb:cc:dd:ee:ff")) || !s.Contains(mustMAC(t, "a1:b2:c3:d4:e5:f6")) {
		t.Fatalf("lookup failed")
	}
}
