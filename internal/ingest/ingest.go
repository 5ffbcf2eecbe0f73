// Package ingest accepts frame reports from remote sensors and feeds them
// into the same event channel as the local radios.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"flockwatch/internal/model"
	"flockwatch/internal/normalize"
)

func SendNonBlocking(ctx context.Context, out chan<- model.RadioEvent, ev model.RadioEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "kind", ev.Kind.String(), "source", ev.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// processLine parses, normalizes and forwards one line. Malformed lines are
// logged at debug and dropped.
func processLine(ctx context.Context, p *Parser, out chan<- model.RadioEvent, logger *slog.Logger, source, line string) bool {
	fields, err := p.ParseLine(line)
	if err != nil || fields == nil {
		if err != nil && logger != nil {
			logger.Debug("unparsable ingest line", "source", source, "err", err)
		}
		return false
	}
	ev, err := normalize.Normalize(*fields, time.Now())
	if err != nil {
		if logger != nil {
			logger.Debug("rejected ingest event", "source", source, "err", err)
		}
		return false
	}
	ev.Source = source
	return SendNonBlocking(ctx, out, ev, logger)
}
