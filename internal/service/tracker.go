package service

import (
	"sync"
	"time"

	"github.com/timmy/enrollflow/internal/domain"
)

// ExecutionState is the coarse state reported by GET /status.
type ExecutionState string

const (
	StateIdle    ExecutionState = "idle"
	StateRunning ExecutionState = "running"
	StateDone    ExecutionState = "done"
)

// ExecutionSnapshot describes the most recently started run on this instance.
type ExecutionSnapshot struct {
	State         ExecutionState     `json:"state"`
	LogID         uint               `json:"log_id,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	Category      domain.Category    `json:"category,omitempty"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	EndedAt       *time.Time         `json:"ended_at,omitempty"`
	Outcome       domain.OutcomeKind `json:"outcome,omitempty"`
	Stage         domain.ErrorStage  `json:"stage,omitempty"`
	Message       string             `json:"message,omitempty"`
	Running       int                `json:"running"`
}

// Tracker remembers the most recent run started by this process and counts
// in-flight runs per national id. It is a single-instance view: nothing is
// shared between replicas and the latest start always replaces the slot.
type Tracker struct {
	mu       sync.RWMutex
	latest   ExecutionSnapshot
	inFlight map[string]int
	running  int
}

// NewTracker creates an idle Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		latest:   ExecutionSnapshot{State: StateIdle},
		inFlight: map[string]int{},
	}
}

// Begin records a new run as the latest and returns how many other runs for
// the same national id were already in flight.
func (t *Tracker) Begin(correlationID string, logID uint, category domain.Category, nationalID string, at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	others := t.inFlight[nationalID]
	t.inFlight[nationalID] = others + 1
	t.running++
	t.latest = ExecutionSnapshot{
		State:         StateRunning,
		LogID:         logID,
		CorrelationID: correlationID,
		Category:      category,
		StartedAt:     &at,
	}
	return others
}

// End marks a run finished. The latest slot is updated only when it still
// belongs to this run.
func (t *Tracker) End(correlationID, nationalID string, resp *EnrollmentResponse, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.inFlight[nationalID]; n <= 1 {
		delete(t.inFlight, nationalID)
	} else {
		t.inFlight[nationalID] = n - 1
	}
	if t.running > 0 {
		t.running--
	}
	if t.latest.CorrelationID != correlationID {
		return
	}
	t.latest.State = StateDone
	t.latest.EndedAt = &at
	if resp != nil {
		t.latest.Outcome = resp.Outcome
		t.latest.Stage = resp.Stage
		t.latest.Message = resp.Message
	}
}

// InFlight returns how many runs are active for nationalID.
func (t *Tracker) InFlight(nationalID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inFlight[nationalID]
}

// Snapshot returns a copy of the latest run state.
func (t *Tracker) Snapshot() ExecutionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.latest
	s.Running = t.running
	return s
}
