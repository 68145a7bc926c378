package indexer

import (
	"context"

	"github.com/celer-network/goutils/log"

	"github.com/comreton-network/comreton-node/ledger"
)

// Waker is notified when new work shows up
type Waker interface {
	Wake()
}

// LogHandler logs each new job and wakes the executor, if any
type LogHandler struct {
	Waker Waker
}

func (h LogHandler) HandleJobCreated(_ context.Context, ev ledger.JobCreatedEvent) error {
	log.Infof("new job created, seq=%d job=%d model=%d requester=%s", ev.SequenceNumber, ev.JobID, ev.ModelID, ev.Requester)
	if h.Waker != nil {
		h.Waker.Wake()
	}
	return nil
}
