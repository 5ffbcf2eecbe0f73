package radio

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"flockwatch/internal/model"
	"flockwatch/internal/parser"
)

var ErrScanInProgress = errors.New("ble scan already in progress")

// BLE runs bounded scan windows on the host adapter. Each address is
// reported at most once per window; ClearResults starts a fresh window.
type BLE struct {
	adapter *bluetooth.Adapter
	emit    *Emitter
	logger  *slog.Logger
	watch   []watchedUUID

	mu       sync.Mutex
	scanning bool
	seen     map[string]struct{}
}

type watchedUUID struct {
	id  bluetooth.UUID
	str string
}

// NewBLE prepares the default adapter. watch lists service UUIDs probed
// individually on stacks that do not expose the raw advertising payload.
func NewBLE(out chan<- model.RadioEvent, watch []string, logger *slog.Logger) *BLE {
	b := &BLE{
		adapter: bluetooth.DefaultAdapter,
		emit:    NewEmitter(out, "ble", logger),
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
	for _, s := range watch {
		id, err := bluetooth.ParseUUID(s)
		if err != nil {
			continue
		}
		b.watch = append(b.watch, watchedUUID{id: id, str: s})
	}
	return b
}

func (b *BLE) Enable() error {
	return b.adapter.Enable()
}

// StartScan starts a window of length d and returns immediately.
func (b *BLE) StartScan(d time.Duration) error {
	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return ErrScanInProgress
	}
	b.scanning = true
	b.mu.Unlock()

	go func() {
		timer := time.AfterFunc(d, func() {
			if err := b.adapter.StopScan(); err != nil && b.logger != nil {
				b.logger.Debug("ble stop scan", "err", err)
			}
		})
		err := b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			b.handle(result)
		})
		timer.Stop()
		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
		if err != nil && b.logger != nil {
			b.logger.Warn("ble scan failed", "err", err)
		}
	}()
	return nil
}

func (b *BLE) Scanning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanning
}

func (b *BLE) ClearResults() {
	b.mu.Lock()
	clear(b.seen)
	b.mu.Unlock()
}

func (b *BLE) handle(result bluetooth.ScanResult) {
	addr := strings.ToLower(result.Address.String())
	b.mu.Lock()
	if _, dup := b.seen[addr]; dup {
		b.mu.Unlock()
		return
	}
	b.seen[addr] = struct{}{}
	b.mu.Unlock()

	raw := parser.RawAdvertisement{
		Addr: addr,
		Rssi: int(result.RSSI),
		Name: result.LocalName(),
	}
	if payload := result.Bytes(); len(payload) > 0 {
		name, uuids := parser.ParseAdvertisingData(payload)
		if raw.Name == "" {
			raw.Name = name
		}
		raw.UUIDs = uuids
	} else {
		// BlueZ gives no raw payload. UUIDs come back in watch-list order
		// and anything off the list is lost.
		for _, w := range b.watch {
			if result.HasServiceUUID(w.id) {
				raw.UUIDs = append(raw.UUIDs, w.str)
			}
		}
	}
	b.emit.Emit(model.RadioEvent{
		Kind:     model.EventBLE,
		Received: time.Now().UTC(),
		BLE:      parser.ParseBLE(raw),
	})
}
