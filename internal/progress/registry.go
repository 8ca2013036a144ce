// Package progress tracks long-running background jobs: one slot per job
// kind, with status, counters, cooperative cancellation, and single-flight
// admission (a second start of the same kind fails fast).
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krxwatch/krxwatch/internal/domain"
)

// JobKind identifies a background job slot.
type JobKind string

const (
	JobCollectAll          JobKind = "collect-all"
	JobCollectFundamentals JobKind = "fundamentals-collect"
	JobCatalogCollect      JobKind = "catalog-collect"
	JobScreeningCollect    JobKind = "screening-collect"
)

// Status is the lifecycle state of a job slot.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// Snapshot is an immutable view of a job's progress.
type Snapshot struct {
	JobID           string     `json:"job_id,omitempty"`
	Kind            JobKind    `json:"kind"`
	Status          Status     `json:"status"`
	Current         int        `json:"current"`
	Total           int        `json:"total"`
	Percent         float64    `json:"percent"`
	Message         string     `json:"message,omitempty"`
	Phase           string     `json:"phase,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// slot holds the mutable state for one job kind.
type slot struct {
	jobID           string
	status          Status
	current         int
	total           int
	message         string
	phase           string
	cancelRequested bool
	startedAt       *time.Time
	finishedAt      *time.Time
}

// Registry owns all job slots. It is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	slots map[JobKind]*slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[JobKind]*slot)}
}

// Tracker is the handle a running job uses to report progress.
type Tracker struct {
	reg  *Registry
	kind JobKind
}

// Start claims the slot for kind. It fails with AlreadyRunning when a job of
// the same kind is in progress; this is the process-wide single-flight gate.
func (r *Registry) Start(kind JobKind, total int, message string) (*Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[kind]
	if ok && s.status == StatusInProgress {
		return nil, domain.AlreadyRunningf("%s is already running", kind)
	}

	now := time.Now()
	r.slots[kind] = &slot{
		jobID:     uuid.NewString(),
		status:    StatusInProgress,
		total:     total,
		message:   message,
		startedAt: &now,
	}

	return &Tracker{reg: r, kind: kind}, nil
}

// Running reports whether a job of the given kind is in progress.
func (r *Registry) Running(kind JobKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[kind]
	return ok && s.status == StatusInProgress
}

// RequestCancel flags the running job of the given kind for cooperative
// cancellation. Returns false when nothing is running.
func (r *Registry) RequestCancel(kind JobKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[kind]
	if !ok || s.status != StatusInProgress {
		return false
	}
	s.cancelRequested = true
	return true
}

// Get returns a snapshot for the given kind. An unused slot reads as idle.
func (r *Registry) Get(kind JobKind) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[kind]
	if !ok {
		return Snapshot{Kind: kind, Status: StatusIdle}
	}
	return snapshotLocked(kind, s)
}

// All returns snapshots for every known kind.
func (r *Registry) All() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.slots))
	for kind, s := range r.slots {
		out = append(out, snapshotLocked(kind, s))
	}
	return out
}

func snapshotLocked(kind JobKind, s *slot) Snapshot {
	percent := 0.0
	if s.total > 0 {
		percent = float64(s.current) / float64(s.total) * 100
	}
	return Snapshot{
		JobID:           s.jobID,
		Kind:            kind,
		Status:          s.status,
		Current:         s.current,
		Total:           s.total,
		Percent:         percent,
		Message:         s.message,
		Phase:           s.phase,
		CancelRequested: s.cancelRequested,
		StartedAt:       s.startedAt,
		FinishedAt:      s.finishedAt,
	}
}

// Update reports progress for the running job.
func (t *Tracker) Update(current int, message, phase string) {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()

	s := t.reg.slots[t.kind]
	if s == nil || s.status != StatusInProgress {
		return
	}
	s.current = current
	s.message = message
	s.phase = phase
}

// CancelRequested reports whether cancellation has been requested.
// Jobs must check this between tickers and between sub-fetches.
func (t *Tracker) CancelRequested() bool {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()

	s := t.reg.slots[t.kind]
	return s != nil && s.cancelRequested
}

// Finish marks the job with a terminal status and timestamp.
func (t *Tracker) Finish(status Status, message string) {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()

	s := t.reg.slots[t.kind]
	if s == nil || s.status != StatusInProgress {
		return
	}
	now := time.Now()
	s.status = status
	s.message = message
	s.finishedAt = &now
}

// Snapshot returns the current snapshot for this tracker's kind.
func (t *Tracker) Snapshot() Snapshot {
	return t.reg.Get(t.kind)
}
