// Package alarm surfaces correctness problems that need an operator, such as
// jobs that keep failing or submissions the ledger rejects.
package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/celer-network/goutils/log"
	"github.com/getsentry/sentry-go"
)

type Kind string

const (
	// the job failed more times than the configured threshold
	KindRetryThreshold Kind = "retry_threshold"
	// the ledger refused a submission on-chain
	KindSubmissionRejected Kind = "submission_rejected"
	// proof output broke a hex encoding invariant
	KindEncodingInvariant Kind = "encoding_invariant"
)

type Event struct {
	Kind     Kind
	JobID    uint64
	Attempts int
	Stage    string
	Err      error
}

func (e Event) String() string {
	return fmt.Sprintf("alarm=%s job=%d attempts=%d stage=%s err=%v", e.Kind, e.JobID, e.Attempts, e.Stage, e.Err)
}

type Alarm interface {
	Raise(ctx context.Context, ev Event)
}

// Log writes alarms at error level
type Log struct{}

func (Log) Raise(_ context.Context, ev Event) {
	log.Errorln(ev.String())
}

// Sentry reports alarms as sentry events tagged with the job and stage
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry initializes a dedicated sentry client for dsn
func NewSentry(dsn, environment string) (*Sentry, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry.NewClient err: %w", err)
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) Raise(_ context.Context, ev Event) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("alarm", string(ev.Kind))
		scope.SetTag("job", fmt.Sprint(ev.JobID))
		if ev.Stage != "" {
			scope.SetTag("stage", ev.Stage)
		}
		scope.SetExtra("attempts", ev.Attempts)
		scope.SetLevel(sentry.LevelError)
		if ev.Err != nil {
			s.hub.CaptureException(ev.Err)
			return
		}
		s.hub.CaptureMessage(ev.String())
	})
}

// Flush waits for buffered events to be sent
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

// Multi fans an alarm out to several sinks
type Multi []Alarm

func (m Multi) Raise(ctx context.Context, ev Event) {
	for _, a := range m {
		a.Raise(ctx, ev)
	}
}

// Recorder keeps the most recent alarms in memory for the /alarms endpoint
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Raise(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// EventView is the JSON form of an Event
type EventView struct {
	Kind     Kind   `json:"kind"`
	JobID    uint64 `json:"job_id"`
	Attempts int    `json:"attempts"`
	Stage    string `json:"stage,omitempty"`
	Err      string `json:"err,omitempty"`
}

// Snapshot returns recorded alarms oldest first
func (r *Recorder) Snapshot() []EventView {
	events := r.Events()
	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		v := EventView{Kind: ev.Kind, JobID: ev.JobID, Attempts: ev.Attempts, Stage: ev.Stage}
		if ev.Err != nil {
			v.Err = ev.Err.Error()
		}
		views = append(views, v)
	}
	return views
}
