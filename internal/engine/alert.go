package engine

import (
	"sync"
	"time"

	"flockwatch/internal/model"
	"flockwatch/internal/notify"
)

// AlertMachine is the Idle/Triggered state shared by both radio paths. A
// matched verdict while idle fires one new-detection alert; further matches
// only refresh the in-range timer until the timeout returns it to idle.
type AlertMachine struct {
	mu        sync.Mutex
	state     model.AlertState
	notifier  notify.Notifier
	timeout   time.Duration
	heartbeat time.Duration
}

func NewAlertMachine(n notify.Notifier, inRangeTimeout, heartbeatInterval time.Duration) *AlertMachine {
	return &AlertMachine{notifier: n, timeout: inRangeTimeout, heartbeat: heartbeatInterval}
}

// Observe records a matched verdict at now and reports whether it fired a
// new alert.
func (a *AlertMachine) Observe(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.LastDetection = now
	if a.state.Triggered {
		return false
	}
	a.state.Triggered = true
	a.state.DeviceInRange = true
	a.state.LastHeartbeat = now
	if a.notifier != nil {
		a.notifier.NewDetection()
	}
	return true
}

// Poll runs the once-per-cycle checks. The in-range timeout is evaluated
// before the heartbeat so the cycle that goes idle emits no heartbeat.
func (a *AlertMachine) Poll(now time.Time) (heartbeat, expired bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.Triggered {
		return false, false
	}
	if now.Sub(a.state.LastDetection) >= a.timeout {
		a.state.Triggered = false
		a.state.DeviceInRange = false
		return false, true
	}
	if now.Sub(a.state.LastHeartbeat) >= a.heartbeat {
		a.state.LastHeartbeat = now
		if a.notifier != nil {
			a.notifier.Heartbeat()
		}
		return true, false
	}
	return false, false
}

func (a *AlertMachine) State() model.AlertState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *AlertMachine) Reset() {
	a.mu.Lock()
	a.state = model.AlertState{}
	a.mu.Unlock()
}
