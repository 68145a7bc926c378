package executor

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// State is the local lifecycle of a job on this node
type State string

const (
	StateDiscovered        State = "Discovered"
	StateProvingInProgress State = "ProvingInProgress"
	StateProofReady        State = "ProofReady"
	StateSubmitted         State = "Submitted"
	StateConfirmed         State = "Confirmed"
	StateFailed            State = "Failed"
)

var transitions = map[State][]State{
	StateDiscovered:        {StateProvingInProgress, StateConfirmed},
	StateProvingInProgress: {StateProofReady, StateFailed},
	StateProofReady:        {StateSubmitted, StateFailed},
	StateSubmitted:         {StateConfirmed, StateFailed},
	StateFailed:            {StateProvingInProgress, StateConfirmed},
	StateConfirmed:         nil,
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobRecord is the tracked state of one job
type JobRecord struct {
	JobID       uint64    `json:"job_id"`
	State       State     `json:"state"`
	Attempts    int       `json:"attempts"`
	LastStage   string    `json:"last_stage,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tracker keeps the in-memory state machine of every job this process has
// seen. It is not persisted: after a restart the ledger's Completed status is
// the source of truth.
type Tracker struct {
	mu   sync.Mutex
	jobs map[uint64]*JobRecord
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{jobs: map[uint64]*JobRecord{}, now: time.Now}
}

func (t *Tracker) recordLocked(id uint64) *JobRecord {
	r, ok := t.jobs[id]
	if !ok {
		r = &JobRecord{JobID: id, State: StateDiscovered, UpdatedAt: t.now()}
		t.jobs[id] = r
	}
	return r
}

// Discover registers a job if it is not tracked yet
func (t *Tracker) Discover(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(id)
}

// Transition moves a job to the next state, rejecting illegal moves
func (t *Tracker) Transition(id uint64, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordLocked(id)
	if !allowed(r.State, to) {
		return fmt.Errorf("job %d: illegal transition %s -> %s", id, r.State, to)
	}
	r.State = to
	r.UpdatedAt = t.now()
	if to == StateProvingInProgress {
		r.Attempts++
	}
	return nil
}

// Fail records a failed attempt and when the job becomes eligible again
func (t *Tracker) Fail(id uint64, stage string, err error, next time.Time) error {
	if terr := t.Transition(id, StateFailed); terr != nil {
		return terr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.jobs[id]
	r.LastStage = stage
	r.LastError = err.Error()
	r.NextAttempt = next
	return nil
}

// Confirm records a job the ledger reports as Completed. hash is empty when
// the job was completed before this process saw it.
func (t *Tracker) Confirm(id uint64, hash string) error {
	if err := t.Transition(id, StateConfirmed); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.jobs[id]
	r.TxHash = hash
	r.LastError = ""
	r.NextAttempt = time.Time{}
	return nil
}

// SetTxHash remembers the hash of a submitted transaction
func (t *Tracker) SetTxHash(id uint64, hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(id).TxHash = hash
}

func (t *Tracker) Get(id uint64) (JobRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return *r, true
}

// Snapshot returns all records ordered by job id
func (t *Tracker) Snapshot() []JobRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JobRecord, 0, len(t.jobs))
	for _, r := range t.jobs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}
