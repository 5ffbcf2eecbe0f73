package parser

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParseRadiotap strips the radiotap header a monitor-mode interface
// prepends and returns the 802.11 frame with its signal and channel.
// rssi and channel are 0 when the header does not carry them.
func ParseRadiotap(packet []byte) (frame []byte, rssi, channel int, ok bool) {
	// layers.RadioTap indexes its fields without checking every length.
	defer func() {
		if recover() != nil {
			frame, rssi, channel, ok = nil, 0, 0, false
		}
	}()
	var rt layers.RadioTap
	if err := rt.DecodeFromBytes(packet, gopacket.NilDecodeFeedback); err != nil {
		return nil, 0, 0, false
	}
	if rt.Present.DBMAntennaSignal() {
		rssi = int(rt.DBMAntennaSignal)
	}
	if rt.Present.Channel() {
		channel = ChannelFromFrequency(int(rt.ChannelFrequency))
	}
	frame = rt.Payload
	if rt.Flags.FCS() && len(frame) >= 4 {
		frame = frame[:len(frame)-4]
	}
	return frame, rssi, channel, true
}

// ChannelFromFrequency maps a centre frequency in MHz onto its channel
// number. Unknown frequencies map to 0.
func ChannelFromFrequency(mhz int) int {
	switch {
	case mhz == 2484:
		return 14
	case mhz >= 2412 && mhz <= 2472:
		return (mhz-2412)/5 + 1
	case mhz >= 5000 && mhz <= 5900:
		return (mhz - 5000) / 5
	}
	return 0
}
