// Package parser decodes raw radio captures into model records. Every read
// is bounded by the captured buffer; malformed input yields an absent field
// or a rejected frame, never a panic.
package parser

import "flockwatch/internal/model"

const (
	HeaderLen      = 24
	BeaconFixedLen = 12
	MaxSSIDLen     = 32

	senderOffset = 10
	tagSSID      = 0

	typeManagement    = 0
	subtypeProbeReq   = 4
	subtypeBeaconMgmt = 8
)

// ParseWiFi decodes a probe request or beacon. Any other frame, or one too
// short to carry a full MAC header, is reported with ok=false.
func ParseWiFi(frame []byte, rssi, channel int) (model.WiFiFrame, bool) {
	subtype, ok := managementSubtype(frame)
	if !ok {
		return model.WiFiFrame{}, false
	}
	if len(frame) < HeaderLen {
		return model.WiFiFrame{}, false
	}
	rec := model.WiFiFrame{
		Subtype: subtype,
		RSSI:    rssi,
		Channel: channel,
	}
	copy(rec.SenderMAC[:], frame[senderOffset:senderOffset+6])

	offset := HeaderLen
	if subtype == model.SubtypeBeacon {
		offset += BeaconFixedLen
	}
	rec.SSID, _ = ssidElement(frame, offset)
	return rec, true
}

func managementSubtype(frame []byte) (model.FrameSubtype, bool) {
	if len(frame) < 2 {
		return 0, false
	}
	fc := frame[0]
	if fc&0x03 != 0 {
		return 0, false
	}
	if (fc>>2)&0x03 != typeManagement {
		return 0, false
	}
	switch fc >> 4 {
	case subtypeProbeReq:
		return model.SubtypeProbeRequest, true
	case subtypeBeaconMgmt:
		return model.SubtypeBeacon, true
	}
	return 0, false
}

// ssidElement reads the information element at offset when it is an SSID
// element that fits both the 32-byte limit and the captured buffer.
func ssidElement(frame []byte, offset int) (string, bool) {
	if offset < 0 || offset+2 > len(frame) {
		return "", false
	}
	if frame[offset] != tagSSID {
		return "", false
	}
	n := int(frame[offset+1])
	if n > MaxSSIDLen {
		return "", false
	}
	start := offset + 2
	if start+n > len(frame) {
		return "", false
	}
	return string(frame[start : start+n]), true
}
