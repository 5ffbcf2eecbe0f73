// Package devices aggregates detections per emitting address.
package devices

import (
	"sort"
	"strings"
	"sync"
	"time"

	"flockwatch/internal/model"
)

type Device struct {
	MAC        string         `json:"mac_address"`
	Alias      string         `json:"alias,omitempty"`
	Protocol   model.Protocol `json:"protocol"`
	Category   model.Category `json:"device_category"`
	Method     string         `json:"detection_method"`
	Count      int            `json:"detection_count"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeen   time.Time      `json:"last_seen"`
	LastRSSI   int            `json:"last_rssi"`
	BestRSSI   int            `json:"best_rssi"`
	Channel    int            `json:"channel,omitempty"`
	SSID       string         `json:"ssid,omitempty"`
	DeviceName string         `json:"device_name,omitempty"`
	Score      int            `json:"threat_score"`
}

type Store struct {
	mu      sync.RWMutex
	byMAC   map[string]*Device
	aliases map[string]string
	limit   int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byMAC:   make(map[string]*Device),
		aliases: make(map[string]string),
		limit:   limit,
	}
}

// Observe folds det into its device entry and reports whether the device
// was seen for the first time.
func (s *Store) Observe(det model.Detection) (Device, bool) {
	key := normalizeMAC(det.MACAddress)
	if key == "" {
		return Device{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byMAC[key]
	if !ok {
		d = &Device{
			MAC:       key,
			Alias:     s.aliases[key],
			FirstSeen: det.Timestamp,
			BestRSSI:  det.RSSI,
		}
		s.byMAC[key] = d
	}
	d.Count++
	d.LastSeen = det.Timestamp
	d.LastRSSI = det.RSSI
	if det.RSSI > d.BestRSSI {
		d.BestRSSI = det.RSSI
	}
	d.Protocol = det.Protocol
	d.Category = det.DeviceCategory
	d.Method = det.DetectionMethod
	if det.ThreatScore > d.Score {
		d.Score = det.ThreatScore
	}
	if det.Channel > 0 {
		d.Channel = det.Channel
	}
	if det.SSID != "" && det.SSID != "hidden" {
		d.SSID = det.SSID
	}
	if det.DeviceName != "" {
		d.DeviceName = det.DeviceName
	}
	if len(s.byMAC) > s.limit {
		s.evictOldest()
	}
	return *d, !ok
}

func (s *Store) Get(mac string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byMAC[normalizeMAC(mac)]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// List returns devices most recently seen first.
func (s *Store) List() []Device {
	s.mu.RLock()
	out := make([]Device, 0, len(s.byMAC))
	for _, d := range s.byMAC {
		out = append(out, *d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].MAC < out[j].MAC
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// SetAlias labels a tracked device. Aliases survive Clear so a device keeps
// its label when it is seen again.
func (s *Store) SetAlias(mac, alias string) bool {
	key := normalizeMAC(mac)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byMAC[key]
	if !ok {
		return false
	}
	alias = strings.TrimSpace(alias)
	d.Alias = alias
	if alias == "" {
		delete(s.aliases, key)
	} else {
		s.aliases[key] = alias
	}
	return true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byMAC)
}

func (s *Store) evictOldest() {
	var oldestMAC string
	var oldest time.Time
	for mac, d := range s.byMAC {
		if oldestMAC == "" || d.LastSeen.Before(oldest) {
			oldestMAC = mac
			oldest = d.LastSeen
		}
	}
	if oldestMAC != "" {
		delete(s.byMAC, oldestMAC)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMAC = make(map[string]*Device)
}

func normalizeMAC(mac string) string {
	m, ok := model.ParseMAC(mac)
	if !ok {
		return ""
	}
	return m.String()
}
