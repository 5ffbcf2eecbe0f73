// Package patterns holds the build-time fingerprint tables used to recognise
// surveillance hardware. A Database is never mutated after construction and
// is safe for concurrent readers.
package patterns

import "strings"

const (
	ServiceDeviceInfo     = "0000180a-0000-1000-8000-00805f9b34fb"
	ServiceGPS            = "00003100-0000-1000-8000-00805f9b34fb"
	ServicePower          = "00003200-0000-1000-8000-00805f9b34fb"
	ServiceNetwork        = "00003300-0000-1000-8000-00805f9b34fb"
	ServiceUpload         = "00003400-0000-1000-8000-00805f9b34fb"
	ServiceError          = "00003500-0000-1000-8000-00805f9b34fb"
	ServiceLegacyHealth   = "00001809-0000-1000-8000-00805f9b34fb"
	ServiceLegacyLocation = "00001819-0000-1000-8000-00805f9b34fb"
)

const (
	FirmwareLegacy  = "1.1.x (legacy)"
	FirmwareMid     = "1.2.x"
	FirmwareLatest  = "1.3.x (latest)"
	FirmwareUnknown = "unknown"

	UnknownService = "Unknown Raven Service"
)

var ssidSubstrings = []string{
	"flock",
	"FS Ext Battery",
	"Penguin",
	"Pigvision",
}

var macPrefixes = []string{
	// FS Ext Battery
	"58:8e:81", "cc:cc:cc", "ec:1b:bd", "90:35:ea", "04:0d:84",
	"f0:82:c0", "1c:34:f1", "38:5b:44", "94:34:69", "b4:e3:f9",
	// Flock WiFi
	"70:c9:4e", "3c:91:80", "d8:f3:bc", "80:30:49", "14:5a:fc",
	"74:4c:a1", "08:3a:88", "9c:2f:9d", "94:08:53", "e4:aa:ea",
}

var nameSubstrings = []string{
	"FS Ext Battery",
	"Penguin",
	"Flock",
	"Pigvision",
}

type Service struct {
	UUID        string
	Description string
}

var services = []Service{
	{ServiceDeviceInfo, "Device Information (Serial, Model, Firmware)"},
	{ServiceGPS, "GPS Location Service (Lat/Lon/Alt)"},
	{ServicePower, "Power Management (Battery/Solar)"},
	{ServiceNetwork, "Network Status (LTE/WiFi)"},
	{ServiceUpload, "Upload Statistics Service"},
	{ServiceError, "Error/Failure Tracking Service"},
	{ServiceLegacyHealth, "Health/Temperature Service (Legacy)"},
	{ServiceLegacyLocation, "Location Service (Legacy)"},
}

type Database struct {
	ssids     []string
	ssidsLow  []string
	prefixes  map[string]string
	prefixOrd []string
	names     []string
	namesLow  []string
	services  []Service
	byUUID    map[string]string
}

var shared = New(ssidSubstrings, macPrefixes, nameSubstrings, services)

// Default returns the shared database compiled into the binary.
func Default() *Database {
	return shared
}

// New builds a database from the given tables. Inputs are copied.
func New(ssids, prefixes, names []string, svcs []Service) *Database {
	db := &Database{
		prefixes: make(map[string]string, len(prefixes)),
		byUUID:   make(map[string]string, len(svcs)),
	}
	for _, s := range ssids {
		if s == "" {
			continue
		}
		db.ssids = append(db.ssids, s)
		db.ssidsLow = append(db.ssidsLow, strings.ToLower(s))
	}
	for _, p := range prefixes {
		key := strings.ToLower(strings.TrimSpace(p))
		if len(key) != 8 {
			continue
		}
		if _, dup := db.prefixes[key]; dup {
			continue
		}
		db.prefixes[key] = key
		db.prefixOrd = append(db.prefixOrd, key)
	}
	for _, n := range names {
		if n == "" {
			continue
		}
		db.names = append(db.names, n)
		db.namesLow = append(db.namesLow, strings.ToLower(n))
	}
	for _, s := range svcs {
		key := strings.ToLower(s.UUID)
		if _, dup := db.byUUID[key]; dup {
			continue
		}
		db.services = append(db.services, Service{UUID: key, Description: s.Description})
		db.byUUID[key] = s.Description
	}
	return db
}

// MatchSSID reports the first SSID pattern contained in ssid, ignoring case.
func (db *Database) MatchSSID(ssid string) (string, bool) {
	if ssid == "" {
		return "", false
	}
	return matchSubstring(strings.ToLower(ssid), db.ssids, db.ssidsLow)
}

// MatchMAC compares the first three octets of a colon-hex address.
func (db *Database) MatchMAC(mac string) (string, bool) {
	if len(mac) < 8 {
		return "", false
	}
	p, ok := db.prefixes[strings.ToLower(mac[:8])]
	return p, ok
}

func (db *Database) MatchName(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	return matchSubstring(strings.ToLower(name), db.names, db.namesLow)
}

// MatchServiceUUID returns the first advertised UUID found in the table.
func (db *Database) MatchServiceUUID(uuids []string) (string, bool) {
	for _, u := range uuids {
		key := strings.ToLower(u)
		if _, ok := db.byUUID[key]; ok {
			return key, true
		}
	}
	return "", false
}

func (db *Database) ServiceDescription(uuid string) string {
	if desc, ok := db.byUUID[strings.ToLower(uuid)]; ok {
		return desc
	}
	return UnknownService
}

// EstimateFirmware bands the firmware generation from which services are
// advertised together. It is a heuristic, not a protocol guarantee.
func (db *Database) EstimateFirmware(uuids []string) string {
	var gps, legacyLocation, power bool
	for _, u := range uuids {
		switch strings.ToLower(u) {
		case ServiceGPS:
			gps = true
		case ServiceLegacyLocation:
			legacyLocation = true
		case ServicePower:
			power = true
		}
	}
	switch {
	case legacyLocation && !gps:
		return FirmwareLegacy
	case gps && !power:
		return FirmwareMid
	case gps && power:
		return FirmwareLatest
	}
	return FirmwareUnknown
}

func (db *Database) SSIDPatterns() []string {
	return append([]string(nil), db.ssids...)
}

func (db *Database) MACPrefixes() []string {
	return append([]string(nil), db.prefixOrd...)
}

func (db *Database) NamePatterns() []string {
	return append([]string(nil), db.names...)
}

func (db *Database) Services() []Service {
	return append([]Service(nil), db.services...)
}

func matchSubstring(lower string, original, patterns []string) (string, bool) {
	for i, p := range patterns {
		if strings.Contains(lower, p) {
			return original[i], true
		}
	}
	return "", false
}
