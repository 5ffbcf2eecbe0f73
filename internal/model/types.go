package model

import (
	"fmt"
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolWiFi Protocol = "wifi"
	ProtocolBLE  Protocol = "bluetooth_le"
)

// FrameSubtype is the first octet of an 802.11 frame-control field for the
// management subtypes the detector accepts.
type FrameSubtype uint8

const (
	SubtypeProbeRequest FrameSubtype = 0x40
	SubtypeBeacon       FrameSubtype = 0x80
)

func (s FrameSubtype) String() string {
	switch s {
	case SubtypeProbeRequest:
		return "PROBE_REQUEST"
	case SubtypeBeacon:
		return "BEACON"
	}
	return fmt.Sprintf("SUBTYPE_0x%02x", uint8(s))
}

type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Prefix returns the OUI part of the address in lowercase colon-hex.
func (m MAC) Prefix() string {
	return fmt.Sprintf("%02x:%02x:%02x", m[0], m[1], m[2])
}

func (m MAC) IsZero() bool {
	return m == MAC{}
}

// ParseMAC accepts colon or dash separated hex octets in any case.
func ParseMAC(s string) (MAC, bool) {
	var m MAC
	s = strings.TrimSpace(s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return MAC{}, false
	}
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return MAC{}, false
		}
		var v byte
		for _, ch := range p {
			v <<= 4
			switch {
			case ch >= '0' && ch <= '9':
				v |= byte(ch - '0')
			case ch >= 'a' && ch <= 'f':
				v |= byte(ch-'a') + 10
			case ch >= 'A' && ch <= 'F':
				v |= byte(ch-'A') + 10
			default:
				return MAC{}, false
			}
		}
		m[i] = v
	}
	return m, true
}

type WiFiFrame struct {
	SenderMAC MAC
	Subtype   FrameSubtype
	SSID      string
	RSSI      int
	Channel   int
}

type BLEAdvertisement struct {
	Address      MAC
	RSSI         int
	Name         string
	ServiceUUIDs []string
}

type Signal string

const (
	SignalSSID        Signal = "SSID"
	SignalMAC         Signal = "MAC"
	SignalName        Signal = "NAME"
	SignalServiceUUID Signal = "SERVICE_UUID"
)

type Criteria string

const (
	CriteriaSSIDAndMAC  Criteria = "SSID_AND_MAC"
	CriteriaSSIDOnly    Criteria = "SSID_ONLY"
	CriteriaMACOnly     Criteria = "MAC_ONLY"
	CriteriaNameAndMAC  Criteria = "NAME_AND_MAC"
	CriteriaNameOnly    Criteria = "NAME_ONLY"
	CriteriaServiceUUID Criteria = "SERVICE_UUID"
)

type Category string

const (
	CategoryFlockSafety Category = "FLOCK_SAFETY"
	CategoryRaven       Category = "RAVEN_GUNSHOT_DETECTOR"
)

// Verdict is the outcome of classifying one frame or advertisement. An
// unmatched verdict carries no score and no descriptive fields.
type Verdict struct {
	Matched     bool
	Signals     []Signal
	ThreatScore int
	Criteria    Criteria
	Method      string
	Category    Category
	ThreatLevel string

	MatchedSSID string
	MatchedMAC  string
	MatchedName string

	FrameDescription         string
	AdvertisementDescription string
	PrimaryIndicator         string
	Reason                   string

	ServiceUUID        string
	ServiceDescription string
	FirmwareVersion    string
	Manufacturer       string
}

func (v Verdict) Has(s Signal) bool {
	for _, got := range v.Signals {
		if got == s {
			return true
		}
	}
	return false
}

type AlertState struct {
	Triggered     bool      `json:"triggered"`
	DeviceInRange bool      `json:"device_in_range"`
	LastDetection time.Time `json:"last_detection_time"`
	LastHeartbeat time.Time `json:"last_heartbeat_time"`
}

type EventKind int

const (
	EventWiFi EventKind = iota + 1
	EventBLE
)

func (k EventKind) String() string {
	switch k {
	case EventWiFi:
		return "wifi"
	case EventBLE:
		return "ble"
	}
	return "unknown"
}

// RadioEvent is what drivers and remote ingest push onto the engine's event
// channel. WiFi events carry the raw 802.11 frame (radiotap already
// stripped); BLE events carry a parsed advertisement.
type RadioEvent struct {
	Kind     EventKind
	Received time.Time
	Source   string

	Frame   []byte
	RSSI    int
	Channel int

	BLE BLEAdvertisement
}

type SignalStrength string

const (
	SignalStrong SignalStrength = "STRONG"
	SignalMedium SignalStrength = "MEDIUM"
	SignalWeak   SignalStrength = "WEAK"
)

func Strength(rssi, strong, medium int) SignalStrength {
	if rssi > strong {
		return SignalStrong
	}
	if rssi > medium {
		return SignalMedium
	}
	return SignalWeak
}

// Detection is the finished record handed to output sinks.
type Detection struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	DetectionTime   string         `json:"detection_time"`
	Protocol        Protocol       `json:"protocol"`
	DetectionMethod string         `json:"detection_method"`
	AlertLevel      string         `json:"alert_level"`
	DeviceCategory  Category       `json:"device_category"`
	Source          string         `json:"source,omitempty"`
	RSSI            int            `json:"rssi"`
	SignalStrength  SignalStrength `json:"signal_strength"`
	MACAddress      string         `json:"mac_address"`
	MACPrefix       string         `json:"mac_prefix"`
	VendorOUI       string         `json:"vendor_oui"`

	SSID       string `json:"ssid,omitempty"`
	SSIDLength int    `json:"ssid_length,omitempty"`
	Channel    int    `json:"channel,omitempty"`
	FrameType  string `json:"frame_type,omitempty"`

	DeviceName       string `json:"device_name,omitempty"`
	DeviceNameLength int    `json:"device_name_length,omitempty"`
	HasDeviceName    bool   `json:"has_device_name,omitempty"`

	MatchedSSIDPattern  string   `json:"matched_ssid_pattern,omitempty"`
	SSIDMatchConfidence string   `json:"ssid_match_confidence,omitempty"`
	MatchedMACPattern   string   `json:"matched_mac_pattern,omitempty"`
	MACMatchConfidence  string   `json:"mac_match_confidence,omitempty"`
	MatchedNamePattern  string   `json:"matched_name_pattern,omitempty"`
	NameMatchConfidence string   `json:"name_match_confidence,omitempty"`
	Signals             []Signal `json:"signals"`
	DetectionCriteria   Criteria `json:"detection_criteria"`
	ThreatScore         int      `json:"threat_score"`
	ThreatLevel         string   `json:"threat_level,omitempty"`

	FrameDescription         string `json:"frame_description,omitempty"`
	AdvertisementType        string `json:"advertisement_type,omitempty"`
	AdvertisementDescription string `json:"advertisement_description,omitempty"`
	PrimaryIndicator         string `json:"primary_indicator,omitempty"`
	DetectionReason          string `json:"detection_reason,omitempty"`

	Manufacturer       string   `json:"manufacturer,omitempty"`
	ServiceUUID        string   `json:"raven_service_uuid,omitempty"`
	ServiceDescription string   `json:"raven_service_description,omitempty"`
	FirmwareVersion    string   `json:"raven_firmware_version,omitempty"`
	ServiceUUIDs       []string `json:"service_uuids,omitempty"`
}
