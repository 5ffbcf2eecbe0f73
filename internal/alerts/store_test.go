package alerts

import (
	"testing"
	"time"

	"flockwatch/internal/model"
)

func det(id string, ts time.Time, proto model.Protocol, method string) model.Detection {
	return model.Detection{ID: id, Timestamp: ts, Protocol: proto, DetectionMethod: method}
}

func TestRingKeepsNewest(t *testing.T) {
	s := NewStore(3)
	base := time.Unix(100, 0)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		s.Add(det(id, base.Add(time.Duration(i)*time.Second), model.ProtocolWiFi, "beacon"))
	}
	got := s.List(0)
	if len(got) != 3 || got[0].ID != "c" || got[2].ID != "e" {
		t.Fatalf("unexpected ring contents %+v", got)
	}
	last := s.List(2)
	if len(last) != 2 || last[0].ID != "d" || last[1].ID != "e" {
		t.Fatalf("List(2) = %+v", last)
	}
	if s.Total() != 5 {
		t.Fatalf("total %d", s.Total())
	}
	since := s.Since(base.Add(3 * time.Second))
	if len(since) != 2 || since[0].ID != "d" {
		t.Fatalf("Since = %+v", since)
	}
}

func TestFilter(t *testing.T) {
	s := NewStore(10)
	now := time.Now()
	s.Add(det("1", now, model.ProtocolWiFi, "beacon"))
	s.Add(det("2", now, model.ProtocolBLE, "mac_prefix"))
	s.Add(model.Detection{ID: "3", Timestamp: now, Protocol: model.ProtocolBLE, DetectionMethod: "raven_service_uuid", DeviceCategory: model.CategoryRaven})

	if got := len(s.Filter("")); got != 3 {
		t.Fatalf("empty filter returned %d", got)
	}
	if got := s.Filter("wifi"); len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("wifi filter %+v", got)
	}
	if got := len(s.Filter("ble")); got != 2 {
		t.Fatalf("ble filter returned %d", got)
	}
	if got := s.Filter("raven"); len(got) != 1 || got[0].ID != "3" {
		t.Fatalf("raven filter %+v", got)
	}
	if got := s.Filter("MAC_PREFIX"); len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("method filter %+v", got)
	}
	s.Clear()
	if len(s.List(0)) != 0 {
		t.Fatalf("clear left entries")
	}
}
