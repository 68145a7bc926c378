package executor

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryConfig struct {
	// InitialInterval is the delay after the first failure, 0 retries every cycle
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AlarmThreshold raises an alarm once a job failed this many times, 0 disables it
	AlarmThreshold int
}

type jobRetry struct {
	failures int
	next     time.Time
	alarmed  bool
	b        *backoff.ExponentialBackOff
}

// retryPolicy decides when a failed job may be attempted again. There is no
// attempt cap: a job stays eligible until the ledger reports it Completed.
type retryPolicy struct {
	config RetryConfig

	mu   sync.Mutex
	jobs map[uint64]*jobRetry
}

func newRetryPolicy(config RetryConfig) *retryPolicy {
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = config.InitialInterval
	}
	return &retryPolicy{config: config, jobs: map[uint64]*jobRetry{}}
}

func (p *retryPolicy) eligible(id uint64, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.jobs[id]
	return !ok || !now.Before(r.next)
}

// failure records a failed attempt. It returns the time the job becomes
// eligible again and whether the alarm threshold was just crossed.
func (p *retryPolicy) failure(id uint64, now time.Time) (next time.Time, crossed bool, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.jobs[id]
	if !ok {
		r = &jobRetry{}
		if p.config.InitialInterval > 0 {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = p.config.InitialInterval
			b.MaxInterval = p.config.MaxInterval
			b.MaxElapsedTime = 0
			b.Reset()
			r.b = b
		}
		p.jobs[id] = r
	}
	r.failures++
	r.next = now
	if r.b != nil {
		r.next = now.Add(r.b.NextBackOff())
	}
	if p.config.AlarmThreshold > 0 && !r.alarmed && r.failures >= p.config.AlarmThreshold {
		r.alarmed = true
		crossed = true
	}
	return r.next, crossed, r.failures
}

func (p *retryPolicy) reset(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.jobs, id)
}
