package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"flockwatch/internal/config"
	"flockwatch/internal/model"
)

// StartFileTail follows each configured file like tail -F, for sensors that
// append frame reports to a shared log.
func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.RadioEvent, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, out, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, out chan<- model.RadioEvent, logger *slog.Logger) {
	parser := NewParser()
	var file *os.File
	var offset int64
	var pending string
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					pending += line
					offset += int64(len(line))
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					// truncated or rotated: reopen from the start
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						offset = 0
						pending = ""
						startAtEnd = false
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			line, pending = pending+line, ""
			processLine(ctx, parser, out, logger, "file_tail", line)
		}
	}
}
