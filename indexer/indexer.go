// Package indexer follows the orchestrator's JobCreatedEvent stream and
// reports every new event exactly once.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/celer-network/goutils/log"
	"github.com/philippgille/gokv"

	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/ledger"
	"github.com/comreton-network/comreton-node/metrics"
)

// Handler receives events in sequence order. A returned error stops the
// cycle before the cursor moves past the event, so it is retried.
type Handler interface {
	HandleJobCreated(ctx context.Context, ev ledger.JobCreatedEvent) error
}

type HandlerFunc func(ctx context.Context, ev ledger.JobCreatedEvent) error

func (f HandlerFunc) HandleJobCreated(ctx context.Context, ev ledger.JobCreatedEvent) error {
	return f(ctx, ev)
}

type Config struct {
	PollInterval time.Duration
	PageLimit    int
}

// cursorState is persisted after every handled event
type cursorState struct {
	// Next is the first sequence number not handled yet
	Next uint64 `json:"next"`
}

type Indexer struct {
	connector ledger.Connector
	contract  ledger.Contract
	handler   Handler
	store     gokv.Store
	config    Config

	handle ledger.EventHandle
	next   uint64
}

func New(connector ledger.Connector, contract ledger.Contract, handler Handler, store gokv.Store, config Config) *Indexer {
	if config.PollInterval <= 0 {
		config.PollInterval = common.DefaultIndexerPoll
	}
	if config.PageLimit <= 0 {
		config.PageLimit = common.DefaultEventPageLimit
	}
	return &Indexer{connector: connector, contract: contract, handler: handler, store: store, config: config}
}

// Start locates the event stream and positions the cursor. Events emitted
// before the indexer first ran are treated as history and skipped: the
// cursor starts at counter-1 (nothing for an empty stream) unless a persisted
// cursor is further ahead. A missing manager resource is fatal.
func (ix *Indexer) Start(ctx context.Context) error {
	session, err := ix.connector.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire session err: %w", err)
	}
	defer session.Release()

	manager, err := ix.contract.Manager(ctx, session)
	if err != nil {
		return fmt.Errorf("read manager err: %w", err)
	}
	ix.handle = manager.JobCreatedEvents

	ix.next = manager.JobCreatedEvents.Counter.Uint64()
	var persisted cursorState
	found, err := ix.store.Get(ix.cursorKey(), &persisted)
	if err != nil {
		return fmt.Errorf("read cursor err: %w", err)
	}
	if found && persisted.Next > ix.next {
		ix.next = persisted.Next
	}
	metrics.IndexerCursor.Set(float64(ix.next) - 1)
	log.Infof("indexer started, creation_num=%d counter=%d persisted=%v next=%d",
		ix.handle.CreationNum(), manager.JobCreatedEvents.Counter.Uint64(), found, ix.next)
	return nil
}

func (ix *Indexer) cursorKey() string {
	return cursorKey(ix.contract.ResourceAccount, ix.handle.CreationNum())
}

// cursorKey scopes the persisted cursor to one event stream
func cursorKey(account string, creationNum uint64) string {
	return fmt.Sprintf("indexer:%s:%d:next", account, creationNum)
}

// Cursor returns the last handled sequence number, ok is false when nothing
// has been handled or skipped yet.
func (ix *Indexer) Cursor() (seq uint64, ok bool) {
	if ix.next == 0 {
		return 0, false
	}
	return ix.next - 1, true
}

// Run calls Start and then polls until ctx is done. Start is retried every
// poll interval while the node is unreachable; any other Start error, such as
// a missing manager, is returned.
func (ix *Indexer) Run(ctx context.Context) error {
	ticker := time.NewTicker(ix.config.PollInterval)
	defer ticker.Stop()
	for {
		err := ix.Start(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			log.Infoln("indexer stopped")
			return nil
		}
		if !ledger.IsTransient(err) {
			return err
		}
		log.Warnf("indexer start err, retrying in %s: %s", ix.config.PollInterval, err)
		select {
		case <-ctx.Done():
			log.Infoln("indexer stopped")
			return nil
		case <-ticker.C:
		}
	}
	for {
		if err := ix.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("indexer poll err: %s", err)
		}
		select {
		case <-ctx.Done():
			log.Infoln("indexer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches and handles every event after the cursor, page by page
func (ix *Indexer) Poll(ctx context.Context) error {
	session, err := ix.connector.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire session err: %w", err)
	}
	defer session.Release()

	for {
		events, err := ix.contract.JobCreatedEvents(ctx, session, ix.handle, ix.next, ix.config.PageLimit)
		if err != nil {
			return fmt.Errorf("fetch events from %d err: %w", ix.next, err)
		}
		if len(events) == 0 {
			return nil
		}
		before := ix.next
		for _, ev := range events {
			if err := ix.handleEvent(ctx, ev); err != nil {
				return err
			}
		}
		if len(events) < ix.config.PageLimit || ix.next == before {
			return nil
		}
	}
}

func (ix *Indexer) handleEvent(ctx context.Context, ev ledger.JobCreatedEvent) error {
	if ev.SequenceNumber < ix.next {
		log.Debugf("skipping already handled event, seq=%d", ev.SequenceNumber)
		return nil
	}
	if ev.SequenceNumber > ix.next {
		metrics.EventGaps.Inc()
		log.Warnf("event sequence gap, expected=%d got=%d", ix.next, ev.SequenceNumber)
	}
	if err := ix.handler.HandleJobCreated(ctx, ev); err != nil {
		return fmt.Errorf("handle event seq %d err: %w", ev.SequenceNumber, err)
	}
	ix.next = ev.SequenceNumber + 1
	if err := ix.store.Set(ix.cursorKey(), cursorState{Next: ix.next}); err != nil {
		log.Errorf("persist cursor err: %s", err)
	}
	metrics.IndexerCursor.Set(float64(ev.SequenceNumber))
	metrics.EventsIndexed.Inc()
	return nil
}
