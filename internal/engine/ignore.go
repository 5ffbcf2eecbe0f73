package engine

import (
	"strings"
	"sync"

	"flockwatch/internal/model"
)

// IgnoreSet holds addresses whose matches are dropped, e.g. a neighbour's
// doorbell camera that shares a listed OUI.
type IgnoreSet struct {
	mu   sync.RWMutex
	macs map[model.MAC]struct{}
}

func NewIgnoreSet(values []string) *IgnoreSet {
	s := &IgnoreSet{}
	s.Replace(values)
	return s
}

// Replace swaps the whole list. Entries that do not parse as addresses are
// skipped.
func (s *IgnoreSet) Replace(values []string) {
	set := make(map[model.MAC]struct{}, len(values))
	for _, v := range values {
		if mac, ok := model.ParseMAC(normalizeMAC(v)); ok {
			set[mac] = struct{}{}
		}
	}
	s.mu.Lock()
	s.macs = set
	s.mu.Unlock()
}

func (s *IgnoreSet) Contains(mac model.MAC) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.macs[mac]
	return ok
}

func (s *IgnoreSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.macs)
}

// normalizeMAC inserts separators into bare 12-digit hex addresses.
func normalizeMAC(v string) string {
	v = strings.TrimSpace(v)
	if len(v) != 12 || strings.ContainsAny(v, ":-") {
		return v
	}
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(v[i : i+2])
	}
	return b.String()
}
