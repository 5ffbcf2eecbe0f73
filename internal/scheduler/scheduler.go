// Package scheduler interleaves WiFi channel hopping and BLE scan windows
// inside the engine's polling loop. Tick never blocks: radios that need
// slow work must do it asynchronously.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

type WiFiRadio interface {
	SetChannel(ch int) error
}

type BLEScanner interface {
	StartScan(d time.Duration) error
	Scanning() bool
	ClearResults()
}

type Config struct {
	HopInterval  time.Duration
	MaxChannel   int
	StartChannel int
	ScanInterval time.Duration
	ScanDuration time.Duration
}

type Scheduler struct {
	logger *slog.Logger
	cfg    Config
	wifi   WiFiRadio
	ble    BLEScanner

	mu       sync.Mutex
	channel  int
	lastHop  time.Time
	lastScan time.Time
	scanned  bool
	cleared  bool
}

// New returns a scheduler anchored at now. Either radio may be nil.
func New(cfg Config, wifi WiFiRadio, ble BLEScanner, logger *slog.Logger, now time.Time) *Scheduler {
	if cfg.MaxChannel <= 0 {
		cfg.MaxChannel = 13
	}
	if cfg.StartChannel <= 0 || cfg.StartChannel > cfg.MaxChannel {
		cfg.StartChannel = 1
	}
	s := &Scheduler{
		logger:  logger,
		cfg:     cfg,
		wifi:    wifi,
		ble:     ble,
		channel: cfg.StartChannel,
		lastHop: now,
		cleared: true,
	}
	if wifi != nil {
		if err := wifi.SetChannel(s.channel); err != nil && logger != nil {
			logger.Warn("initial channel set failed", "channel", s.channel, "err", err)
		}
	}
	return s
}

func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hop(now)
	s.scan(now)
}

func (s *Scheduler) hop(now time.Time) {
	if s.wifi == nil {
		return
	}
	if now.Sub(s.lastHop) <= s.cfg.HopInterval {
		return
	}
	s.channel++
	if s.channel > s.cfg.MaxChannel {
		s.channel = 1
	}
	s.lastHop = now
	if err := s.wifi.SetChannel(s.channel); err != nil {
		if s.logger != nil {
			s.logger.Warn("channel hop failed", "channel", s.channel, "err", err)
		}
		return
	}
	if s.logger != nil {
		s.logger.Debug("hopped channel", "channel", s.channel)
	}
}

func (s *Scheduler) scan(now time.Time) {
	if s.ble == nil {
		return
	}
	scanning := s.ble.Scanning()
	if !scanning && (!s.scanned || now.Sub(s.lastScan) >= s.cfg.ScanInterval) {
		if err := s.ble.StartScan(s.cfg.ScanDuration); err != nil {
			if s.logger != nil {
				s.logger.Warn("ble scan start failed", "err", err)
			}
		} else {
			if s.logger != nil {
				s.logger.Debug("ble scan started", "duration", s.cfg.ScanDuration)
			}
			scanning = true
			s.cleared = false
		}
		s.lastScan = now
		s.scanned = true
	}
	if !scanning && !s.cleared && now.Sub(s.lastScan) > s.cfg.ScanDuration {
		s.ble.ClearResults()
		s.cleared = true
	}
}

func (s *Scheduler) CurrentChannel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}
