package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket/pcapgo"

	"flockwatch/internal/model"
)

// PcapFile replays a capture file. Unlike live capture it waits for room
// on the event channel, so every frame in the file is processed.
type PcapFile struct {
	path   string
	logger *slog.Logger
}

func NewPcapFile(path string, logger *slog.Logger) *PcapFile {
	return &PcapFile{path: path, logger: logger}
}

// Run replays the file once and returns the number of frames sent.
func (p *PcapFile) Run(ctx context.Context, out chan<- model.RadioEvent) (int, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return 0, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("read capture header: %w", err)
	}
	link := r.LinkType()

	sent, skipped := 0, 0
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sent, fmt.Errorf("read capture: %w", err)
		}
		ev, ok := wifiEvent(data, link, ci.Timestamp)
		if !ok {
			skipped++
			continue
		}
		ev.Source = "pcap"
		select {
		case out <- ev:
			sent++
		case <-ctx.Done():
			return sent, nil
		}
	}
	if p.logger != nil {
		p.logger.Info("capture replay finished", "path", p.path, "frames", sent, "skipped", skipped)
	}
	return sent, nil
}
