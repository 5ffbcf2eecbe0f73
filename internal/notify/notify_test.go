package notify

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func TestBellRingsPerIntent(t *testing.T) {
	out := &lockedBuffer{}
	b := NewBell(out)
	b.BootReady()
	b.NewDetection()
	b.Heartbeat()
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := ToneBoot.Repeat + ToneDetection.Repeat + ToneHeartbeat.Repeat
	if got := strings.Count(out.String(), "\a"); got != want {
		t.Fatalf("expected %d bells, got %d", want, got)
	}
	b.Heartbeat()
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestLogIncludesIntent(t *testing.T) {
	out := &lockedBuffer{}
	l := NewLog(slog.New(slog.NewJSONHandler(out, nil)))
	Multi{l}.NewDetection()
	if !strings.Contains(out.String(), `"intent":"new_detection"`) {
		t.Fatalf("missing intent in %s", out.String())
	}
	var nilLog *Log
	nilLog.Heartbeat()
}
