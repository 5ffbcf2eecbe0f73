package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"flockwatch/internal/model"
)

const (
	snapshotLen int32 = 2048
	promiscuous       = true
	readTimeout       = 500 * time.Millisecond
)

// CommandRunner executes an external command. Tests replace it.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// PcapCapture reads a monitor-mode interface. Channel changes are handed to
// a background worker so SetChannel never blocks the caller; when requests
// pile up only the latest is applied.
type PcapCapture struct {
	iface   string
	handle  *pcap.Handle
	link    layers.LinkType
	logger  *slog.Logger
	run     CommandRunner
	chanReq chan int
}

func OpenCapture(iface string, logger *slog.Logger) (*PcapCapture, error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}
	link := handle.LinkType()
	if link != layers.LinkTypeIEEE80211Radio && link != layers.LinkTypeIEEE802_11 {
		handle.Close()
		return nil, fmt.Errorf("%s is not in monitor mode (link type %s)", iface, link)
	}
	c := newCapture(iface, logger, execRunner)
	c.handle = handle
	c.link = link
	return c, nil
}

func newCapture(iface string, logger *slog.Logger, run CommandRunner) *PcapCapture {
	return &PcapCapture{iface: iface, logger: logger, run: run, chanReq: make(chan int, 1)}
}

// SetChannel queues a channel change, replacing any change not yet applied.
func (c *PcapCapture) SetChannel(ch int) error {
	for {
		select {
		case c.chanReq <- ch:
			return nil
		default:
		}
		select {
		case <-c.chanReq:
		default:
		}
	}
}

// Run captures until ctx is done. It owns the pcap handle and closes it on
// return.
func (c *PcapCapture) Run(ctx context.Context, out chan<- model.RadioEvent) error {
	go c.channelWorker(ctx)
	defer c.handle.Close()

	emit := NewEmitter(out, "wifi", c.logger)
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := c.handle.ZeroCopyReadPacketData()
		switch {
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case err != nil:
			return fmt.Errorf("capture %s: %w", c.iface, err)
		}
		if ev, ok := wifiEvent(data, c.link, ci.Timestamp); ok {
			emit.Emit(ev)
		}
	}
}

func (c *PcapCapture) channelWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-c.chanReq:
			cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := c.run(cctx, "iw", "dev", c.iface, "set", "channel", strconv.Itoa(ch))
			cancel()
			if err != nil && c.logger != nil {
				c.logger.Warn("channel change failed", "iface", c.iface, "channel", ch, "err", err)
			}
		}
	}
}
