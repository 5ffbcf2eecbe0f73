package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"flockwatch/internal/config"
	"flockwatch/internal/model"
)

// StartUDP accepts datagrams holding one or more newline-separated frame
// reports, the usual transport for small field sensors.
func StartUDP(ctx context.Context, cfg *config.Manager, out chan<- model.RadioEvent, logger *slog.Logger) (net.Addr, error) {
	current := cfg.Get().Ingest.UDP
	if !current.Enabled {
		if logger != nil {
			logger.Info("udp ingest disabled")
		}
		return nil, nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", current.Addr)
	if err != nil {
		return nil, fmt.Errorf("udp resolve: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udp listen: %w", err)
	}
	if logger != nil {
		logger.Info("udp ingest enabled", "addr", conn.LocalAddr().String())
	}
	go listenUDP(ctx, conn, out, logger)
	return conn.LocalAddr(), nil
}

func listenUDP(ctx context.Context, conn *net.UDPConn, out chan<- model.RadioEvent, logger *slog.Logger) {
	defer conn.Close()
	parser := NewParser()
	buf := make([]byte, 8192)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if logger != nil {
				logger.Warn("udp read error", "err", err)
			}
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			processLine(ctx, parser, out, logger, "udp", line)
		}
	}
}
