// Package notify delivers the three alert intents: boot, new detection and
// heartbeat. Implementations must return quickly; they are called from the
// engine loop.
package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

type Notifier interface {
	BootReady()
	NewDetection()
	Heartbeat()
}

// Tone describes the audible pattern an intent maps to on hardware with a
// buzzer. Log reports it so a headless deployment can be audited.
type Tone struct {
	Name     string
	Freqs    []int
	Duration time.Duration
	Repeat   int
}

var (
	ToneBoot      = Tone{Name: "boot_ready", Freqs: []int{200, 800}, Duration: 300 * time.Millisecond, Repeat: 1}
	ToneDetection = Tone{Name: "new_detection", Freqs: []int{1000}, Duration: 150 * time.Millisecond, Repeat: 3}
	ToneHeartbeat = Tone{Name: "heartbeat", Freqs: []int{600}, Duration: 100 * time.Millisecond, Repeat: 2}
)

type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) BootReady()    { l.emit(slog.LevelInfo, ToneBoot) }
func (l *Log) NewDetection() { l.emit(slog.LevelWarn, ToneDetection) }
func (l *Log) Heartbeat()    { l.emit(slog.LevelInfo, ToneHeartbeat) }

func (l *Log) emit(level slog.Level, t Tone) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Log(context.Background(), level, "alert intent",
		"intent", t.Name,
		"freqs_hz", t.Freqs,
		"duration_ms", t.Duration.Milliseconds(),
		"repeat", t.Repeat,
	)
}

// Bell rings the terminal bell. Writes happen on a separate goroutine so a
// slow terminal never stalls the caller; pending rings beyond the buffer are
// dropped.
type Bell struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool
	queue  chan int
	done   chan struct{}
}

func NewBell(w io.Writer) *Bell {
	b := &Bell{w: w, queue: make(chan int, 8), done: make(chan struct{})}
	go b.run()
	return b
}

func (b *Bell) BootReady()    { b.ring(ToneBoot.Repeat) }
func (b *Bell) NewDetection() { b.ring(ToneDetection.Repeat) }
func (b *Bell) Heartbeat()    { b.ring(ToneHeartbeat.Repeat) }

func (b *Bell) ring(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- n:
	default:
	}
}

func (b *Bell) run() {
	defer close(b.done)
	for n := range b.queue {
		for i := 0; i < n; i++ {
			_, _ = b.w.Write([]byte{'\a'})
		}
	}
}

// Close stops the writer goroutine after queued rings are written.
func (b *Bell) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
	if c, ok := b.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type Multi []Notifier

func (m Multi) BootReady() {
	for _, n := range m {
		n.BootReady()
	}
}

func (m Multi) NewDetection() {
	for _, n := range m {
		n.NewDetection()
	}
}

func (m Multi) Heartbeat() {
	for _, n := range m {
		n.Heartbeat()
	}
}
