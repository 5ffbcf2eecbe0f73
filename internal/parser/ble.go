package parser

import (
	"strings"

	"github.com/google/uuid"

	"flockwatch/internal/model"
)

const MaxServiceUUIDs = 20

// bluetoothBase is the tail of the Bluetooth base UUID that 16- and 32-bit
// short forms expand onto.
const bluetoothBase = "-0000-1000-8000-00805f9b34fb"

// Advertisement is the narrow view of a scan result the parser needs.
type Advertisement interface {
	Address() string
	RSSI() int
	LocalName() string
	ServiceUUIDs() []string
}

// ParseBLE copies an advertisement into a record. It never rejects input:
// a malformed address becomes the zero address and unparsable UUIDs are
// dropped.
func ParseBLE(adv Advertisement) model.BLEAdvertisement {
	rec := model.BLEAdvertisement{RSSI: adv.RSSI()}
	if mac, ok := model.ParseMAC(adv.Address()); ok {
		rec.Address = mac
	}
	rec.Name = strings.TrimRight(adv.LocalName(), "\x00")
	rec.ServiceUUIDs = CanonicalUUIDs(adv.ServiceUUIDs())
	return rec
}

// CanonicalUUIDs normalises each entry with CanonicalUUID, keeping order and
// stopping at MaxServiceUUIDs.
func CanonicalUUIDs(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, min(len(in), MaxServiceUUIDs))
	for _, raw := range in {
		if len(out) == MaxServiceUUIDs {
			break
		}
		if u, ok := CanonicalUUID(raw); ok {
			out = append(out, u)
		}
	}
	return out
}

// CanonicalUUID returns the lowercase 128-bit form of a UUID string,
// expanding 16-bit ("180a", "0x180A") and 32-bit short forms.
func CanonicalUUID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBase
	case 8:
		s = s + bluetoothBase
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// RawAdvertisement adapts decoded fields to Advertisement for callers that
// do not hold a driver handle, such as remote ingest.
type RawAdvertisement struct {
	Addr  string
	Rssi  int
	Name  string
	UUIDs []string
}

func (r RawAdvertisement) Address() string        { return r.Addr }
func (r RawAdvertisement) RSSI() int              { return r.Rssi }
func (r RawAdvertisement) LocalName() string      { return r.Name }
func (r RawAdvertisement) ServiceUUIDs() []string { return r.UUIDs }
