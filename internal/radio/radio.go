// Package radio adapts capture hardware and capture files to the engine's
// event channel.
package radio

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"

	"flockwatch/internal/model"
	"flockwatch/internal/parser"
)

// Emitter performs the non-blocking send every driver uses: a full channel
// drops the event and counts it.
type Emitter struct {
	out     chan<- model.RadioEvent
	logger  *slog.Logger
	source  string
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewEmitter(out chan<- model.RadioEvent, source string, logger *slog.Logger) *Emitter {
	return &Emitter{out: out, source: source, logger: logger}
}

func (e *Emitter) Emit(ev model.RadioEvent) bool {
	if ev.Source == "" {
		ev.Source = e.source
	}
	select {
	case e.out <- ev:
		e.sent.Add(1)
		return true
	default:
		// log every 1000th drop so a flood cannot swamp the log
		if n := e.dropped.Add(1); n%1000 == 1 && e.logger != nil {
			e.logger.Warn("event channel full, dropping", "source", e.source, "dropped", n)
		}
		return false
	}
}

func (e *Emitter) Sent() uint64    { return e.sent.Load() }
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// wifiEvent turns one captured packet into a WiFi event. Radiotap captures
// carry signal and channel; bare 802.11 captures leave them 0.
func wifiEvent(data []byte, link layers.LinkType, ts time.Time) (model.RadioEvent, bool) {
	ev := model.RadioEvent{Kind: model.EventWiFi, Received: ts}
	switch link {
	case layers.LinkTypeIEEE80211Radio:
		frame, rssi, channel, ok := parser.ParseRadiotap(data)
		if !ok {
			return model.RadioEvent{}, false
		}
		ev.Frame, ev.RSSI, ev.Channel = frame, rssi, channel
	case layers.LinkTypeIEEE802_11:
		ev.Frame = data
	default:
		return model.RadioEvent{}, false
	}
	// the capture buffer is reused by the next read
	ev.Frame = append([]byte(nil), ev.Frame...)
	return ev, true
}
