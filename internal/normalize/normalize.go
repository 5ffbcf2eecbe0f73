// Package normalize turns loosely typed remote frame reports into radio
// events.
package normalize

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"flockwatch/internal/model"
	"flockwatch/internal/parser"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrNoFrame     = errors.New("wifi event without frame bytes")
	ErrBadAddress  = errors.New("ble event without a valid address")
)

// EventFields is what the line and JSON parsers extract before any
// validation. Hex fields may use ':', '-' or spaces between octets.
type EventFields struct {
	Type         string
	Timestamp    string
	Frame        string
	Link         string
	RSSI         string
	Channel      string
	Address      string
	Name         string
	ServiceUUIDs []string
	AdvData      string
	Extras       map[string]string
	Raw          string
}

// Normalize validates fields and builds the event. now stamps events that
// carry no timestamp of their own.
func Normalize(fields EventFields, now time.Time) (model.RadioEvent, error) {
	kind, err := eventKind(fields)
	if err != nil {
		return model.RadioEvent{}, err
	}
	ev := model.RadioEvent{Kind: kind, Received: now.UTC()}
	if fields.Timestamp != "" {
		ts, err := ParseTimestamp(fields.Timestamp, time.UTC)
		if err != nil {
			return model.RadioEvent{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ev.Received = ts.UTC()
	}
	rssi, err := parseInt(fields.RSSI)
	if err != nil {
		return model.RadioEvent{}, fmt.Errorf("parse rssi: %w", err)
	}

	if kind == model.EventWiFi {
		frame, err := decodeHex(fields.Frame)
		if err != nil {
			return model.RadioEvent{}, fmt.Errorf("decode frame: %w", err)
		}
		if len(frame) == 0 {
			return model.RadioEvent{}, ErrNoFrame
		}
		channel, err := parseInt(fields.Channel)
		if err != nil {
			return model.RadioEvent{}, fmt.Errorf("parse channel: %w", err)
		}
		if strings.EqualFold(strings.TrimSpace(fields.Link), "radiotap") {
			stripped, rtRSSI, rtChannel, ok := parser.ParseRadiotap(frame)
			if !ok {
				return model.RadioEvent{}, errors.New("malformed radiotap header")
			}
			frame = stripped
			if fields.RSSI == "" {
				rssi = rtRSSI
			}
			if fields.Channel == "" {
				channel = rtChannel
			}
		}
		ev.Frame, ev.RSSI, ev.Channel = frame, rssi, channel
		return ev, nil
	}

	raw := parser.RawAdvertisement{
		Addr:  strings.TrimSpace(fields.Address),
		Rssi:  rssi,
		Name:  fields.Name,
		UUIDs: fields.ServiceUUIDs,
	}
	if _, ok := model.ParseMAC(raw.Addr); !ok {
		return model.RadioEvent{}, ErrBadAddress
	}
	if fields.AdvData != "" {
		payload, err := decodeHex(fields.AdvData)
		if err != nil {
			return model.RadioEvent{}, fmt.Errorf("decode adv_data: %w", err)
		}
		name, uuids := parser.ParseAdvertisingData(payload)
		if raw.Name == "" {
			raw.Name = name
		}
		raw.UUIDs = append(slices.Clone(raw.UUIDs), uuids...)
	}
	ev.BLE = parser.ParseBLE(raw)
	ev.RSSI = rssi
	return ev, nil
}

func eventKind(fields EventFields) (model.EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(fields.Type)) {
	case "wifi", "802.11", "wlan":
		return model.EventWiFi, nil
	case "ble", "bluetooth", "bluetooth_le":
		return model.EventBLE, nil
	case "":
		if fields.Frame != "" {
			return model.EventWiFi, nil
		}
		if fields.Address != "" {
			return model.EventBLE, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, fields.Type)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ', '\t':
			return -1
		}
		return r
	}, strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	return hex.DecodeString(s)
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339 and common log layouts, and unix seconds
// or milliseconds.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
