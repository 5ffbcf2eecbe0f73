package parser

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// AD structure types carrying names and service UUID lists.
const (
	adIncomplete16  = 0x02
	adComplete16    = 0x03
	adIncomplete32  = 0x04
	adComplete32    = 0x05
	adIncomplete128 = 0x06
	adComplete128   = 0x07
	adShortName     = 0x08
	adCompleteName  = 0x09
)

// ParseAdvertisingData walks the [len][type][data] structures of a raw
// advertising payload. A structure running past the buffer ends the walk;
// whatever was decoded before it is kept. A complete name wins over a
// shortened one.
func ParseAdvertisingData(payload []byte) (name string, uuids []string) {
	var short string
	for i := 0; i < len(payload); {
		n := int(payload[i])
		if n == 0 {
			break
		}
		if i+1+n > len(payload) {
			break
		}
		typ := payload[i+1]
		data := payload[i+2 : i+1+n]
		switch typ {
		case adIncomplete16, adComplete16:
			for j := 0; j+2 <= len(data); j += 2 {
				uuids = appendUUID(uuids, fmt.Sprintf("%04x", binary.LittleEndian.Uint16(data[j:])))
			}
		case adIncomplete32, adComplete32:
			for j := 0; j+4 <= len(data); j += 4 {
				uuids = appendUUID(uuids, fmt.Sprintf("%08x", binary.LittleEndian.Uint32(data[j:])))
			}
		case adIncomplete128, adComplete128:
			for j := 0; j+16 <= len(data); j += 16 {
				var b [16]byte
				for k := 0; k < 16; k++ {
					b[k] = data[j+15-k]
				}
				u, err := uuid.FromBytes(b[:])
				if err != nil {
					continue
				}
				uuids = appendUUID(uuids, u.String())
			}
		case adShortName:
			short = string(data)
		case adCompleteName:
			name = string(data)
		}
		i += 1 + n
	}
	if name == "" {
		name = short
	}
	return name, uuids
}

func appendUUID(list []string, raw string) []string {
	if len(list) >= MaxServiceUUIDs {
		return list
	}
	if u, ok := CanonicalUUID(raw); ok {
		return append(list, u)
	}
	return list
}
