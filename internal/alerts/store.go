// Package alerts keeps the recent detection history in a fixed-size ring.
package alerts

import (
	"strings"
	"sync"
	"time"

	"flockwatch/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	ring  []model.Detection
	head  int
	size  int
	total uint64
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{ring: make([]model.Detection, limit)}
}

func (s *Store) Add(det model.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.head] = det
	s.head = (s.head + 1) % len(s.ring)
	if s.size < len(s.ring) {
		s.size++
	}
	s.total++
}

// List returns up to limit of the newest detections, oldest first.
func (s *Store) List(limit int) []model.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	out := make([]model.Detection, 0, limit)
	s.each(s.size-limit, func(d model.Detection) { out = append(out, d) })
	return out
}

func (s *Store) Since(ts time.Time) []model.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Detection, 0)
	s.each(0, func(d model.Detection) {
		if !d.Timestamp.Before(ts) {
			out = append(out, d)
		}
	})
	return out
}

// Filter returns detections whose method or protocol equals filter, or all
// of them for an empty filter. "wifi" and "ble" select by protocol.
func (s *Store) Filter(filter string) []model.Detection {
	filter = strings.ToLower(strings.TrimSpace(filter))
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Detection, 0)
	s.each(0, func(d model.Detection) {
		if Matches(d, filter) {
			out = append(out, d)
		}
	})
	return out
}

// Matches reports whether d passes filter, using the rules of Filter.
func Matches(d model.Detection, filter string) bool {
	filter = strings.ToLower(strings.TrimSpace(filter))
	switch filter {
	case "", "all":
		return true
	case "wifi":
		return d.Protocol == model.ProtocolWiFi
	case "ble", "bluetooth", "bluetooth_le":
		return d.Protocol == model.ProtocolBLE
	case "raven":
		return d.DeviceCategory == model.CategoryRaven
	}
	return d.DetectionMethod == filter
}

// Total counts every detection ever added, including evicted ones.
func (s *Store) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ring)
	s.head = 0
	s.size = 0
}

// each visits stored detections oldest first, skipping the first skip.
func (s *Store) each(skip int, fn func(model.Detection)) {
	start := (s.head - s.size + len(s.ring)) % len(s.ring)
	for i := skip; i < s.size; i++ {
		fn(s.ring[(start+i)%len(s.ring)])
	}
}
