package observability

import (
	"sync"
	"time"
)

// Phase mirrors the supervisor's coarse state for the dashboard.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhasePlanning   Phase = "PLANNING"
	PhaseDispatch   Phase = "DISPATCH"
	PhaseReview     Phase = "REVIEW"
	PhaseReplanning Phase = "REPLAN"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentPhase  Phase
	ActiveStep    string
	RetryCount    int
	LastHeartbeat time.Time
}

var globalStatus = &SystemStatus{
	CurrentPhase:  PhaseIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(phase Phase, step string, retries int) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentPhase = phase
	globalStatus.ActiveStep = step
	globalStatus.RetryCount = retries
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Phase, string, int, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentPhase, globalStatus.ActiveStep, globalStatus.RetryCount, globalStatus.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
