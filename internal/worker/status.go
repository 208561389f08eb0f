package worker

import (
	"sync"
	"time"
)

// Execution modes, selected once at process start.
const (
	ModeContinuous = "continuous"
	ModeSingleShot = "single-shot"
)

// Status is a point-in-time view of the orchestrator for the HTTP surface.
// Fields are reported independently; staleness of one relative to another
// is acceptable.
type Status struct {
	Mode          string  `json:"mode"`
	CurrentJob    string  `json:"current_job"`
	Running       bool    `json:"running"`
	UptimeSeconds float64 `json:"uptime"`
}

// Tracker is the narrow shared-state boundary between the orchestration
// goroutine (writer) and the HTTP surface (reader).
type Tracker struct {
	mu         sync.RWMutex
	mode       string
	currentJob string
	running    bool
	startTime  time.Time
}

// NewTracker creates a tracker for the given execution mode.
func NewTracker(mode string) *Tracker {
	return &Tracker{
		mode:      mode,
		startTime: time.Now(),
	}
}

// SetRunning updates the running flag.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	t.running = running
	t.mu.Unlock()
}

// Running reports whether the orchestration loop should keep going.
func (t *Tracker) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// SetCurrentJob records the job the orchestrator is working on.
func (t *Tracker) SetCurrentJob(jobID string) {
	t.mu.Lock()
	t.currentJob = jobID
	t.mu.Unlock()
}

// ClearCurrentJob resets the current-job pointer.
func (t *Tracker) ClearCurrentJob() {
	t.SetCurrentJob("")
}

// CurrentJob returns the in-flight job id, or empty when idle.
func (t *Tracker) CurrentJob() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentJob
}

// Snapshot returns the reportable state.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{
		Mode:          t.mode,
		CurrentJob:    t.currentJob,
		Running:       t.running,
		UptimeSeconds: time.Since(t.startTime).Seconds(),
	}
}
