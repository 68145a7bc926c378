package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/celer-network/goutils/log"
)

// Writer is the write capability of the ledger RPC surface
type Writer interface {
	Submit(ctx context.Context, function string, args []any) (TxHash, error)
	AwaitConfirmation(ctx context.Context, hash TxHash) error
	SubmitAndWait(ctx context.Context, function string, args []any) (TxHash, error)
}

type SubmitterConfig struct {
	MaxGasAmount   uint64
	GasUnitPrice   uint64
	TxExpiry       time.Duration
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

// Submitter builds, signs, submits and confirms entry function calls from a
// single sender account.
type Submitter struct {
	dialer *Dialer
	signer *Signer
	config SubmitterConfig
	now    func() time.Time

	// held from sequence number lookup until confirmation so transactions of
	// this account reach the ledger strictly in order
	mu sync.Mutex
	// outstanding is the last transaction whose outcome is still unknown.
	// No transaction is signed until it commits, fails or expires.
	outstanding *sentTx
}

type sentTx struct {
	hash    TxHash
	seq     uint64
	expires time.Time
}

// ErrOutstanding means an earlier transaction of the sender is still pending
var ErrOutstanding = errors.New("previous transaction still pending")

var _ Writer = (*Submitter)(nil)

func NewSubmitter(dialer *Dialer, signer *Signer, config SubmitterConfig) *Submitter {
	if config.TxExpiry <= 0 {
		config.TxExpiry = 10 * time.Minute
	}
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = time.Minute
	}
	if config.ConfirmPoll <= 0 {
		config.ConfirmPoll = time.Second
	}
	return &Submitter{dialer: dialer, signer: signer, config: config, now: time.Now}
}

func (s *Submitter) Sender() string {
	return s.signer.Address()
}

// SubmitAndWait submits the call and returns only once the ledger committed
// it. Success is never reported before confirmation.
func (s *Submitter) SubmitAndWait(ctx context.Context, function string, args []any) (TxHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent, err := s.submit(ctx, function, args)
	if err != nil {
		return "", err
	}
	if err = s.awaitConfirmation(ctx, sent.hash); err != nil {
		if errors.Is(err, ErrConfirmTimeout) {
			s.outstanding = sent
		}
		return sent.hash, err
	}
	return sent.hash, nil
}

// Submit sends the transaction without waiting. Callers that submit several
// transactions from the same account should prefer SubmitAndWait.
func (s *Submitter) Submit(ctx context.Context, function string, args []any) (TxHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent, err := s.submit(ctx, function, args)
	if err != nil {
		return "", err
	}
	s.outstanding = sent
	return sent.hash, nil
}

func (s *Submitter) AwaitConfirmation(ctx context.Context, hash TxHash) error {
	return s.awaitConfirmation(ctx, hash)
}

// settleOutstanding waits for the outcome of the last unconfirmed
// transaction. Its sequence number is free again once it commits, fails or
// passes its expiration time.
func (s *Submitter) settleOutstanding(ctx context.Context) error {
	o := s.outstanding
	if o == nil {
		return nil
	}
	if !s.now().Before(o.expires) {
		log.Warnf("tx %s seq=%d expired unconfirmed", o.hash, o.seq)
		s.outstanding = nil
		return nil
	}
	err := s.awaitConfirmation(ctx, o.hash)
	switch {
	case err == nil:
		s.outstanding = nil
		return nil
	case IsRejected(err):
		log.Warnf("earlier tx %s seq=%d failed: %s", o.hash, o.seq, err)
		s.outstanding = nil
		return nil
	case !s.now().Before(o.expires):
		s.outstanding = nil
		return nil
	}
	return &TransientNetworkError{Op: "Submit", Err: fmt.Errorf("%w: tx %s seq=%d", ErrOutstanding, o.hash, o.seq)}
}

func (s *Submitter) submit(ctx context.Context, function string, args []any) (*sentTx, error) {
	if err := s.settleOutstanding(ctx); err != nil {
		return nil, err
	}
	lease, err := s.dialer.lease(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	acc, err := lease.GetAccount(ctx, s.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("get sender account: %w", err)
	}
	expires := time.Unix(s.now().Add(s.config.TxExpiry).Unix(), 0)
	if args == nil {
		args = []any{}
	}
	req := &TxRequest{
		Sender:                  s.signer.Address(),
		SequenceNumber:          acc.SequenceNumber,
		MaxGasAmount:            U64(s.config.MaxGasAmount),
		GasUnitPrice:            U64(s.config.GasUnitPrice),
		ExpirationTimestampSecs: U64(expires.Unix()),
		Payload: EntryFunctionPayload{
			Type:          "entry_function_payload",
			Function:      function,
			TypeArguments: []string{},
			Arguments:     args,
		},
	}
	msg, err := lease.EncodeSubmission(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", rejectOnClientError(err))
	}
	signed := &SignedTx{TxRequest: *req, Signature: s.signer.signature(msg)}
	pending, err := lease.SubmitTransaction(ctx, signed)
	if err != nil {
		return nil, fmt.Errorf("submit transaction: %w", rejectOnClientError(err))
	}
	log.Infof("submitted %s seq=%d tx=%s", function, acc.SequenceNumber, pending.Hash)
	return &sentTx{hash: TxHash(pending.Hash), seq: acc.SequenceNumber.Uint64(), expires: expires}, nil
}

// rejectOnClientError turns a 4xx answer to a write into a rejection
func rejectOnClientError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return &SubmissionRejectedError{VMStatus: apiErr.Code, Message: apiErr.Message}
	}
	return err
}

func (s *Submitter) awaitConfirmation(ctx context.Context, hash TxHash) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.config.ConfirmPoll)
	defer ticker.Stop()
	for {
		done, err := s.checkConfirmed(ctx, hash)
		if done {
			return err
		}
		if err != nil {
			log.Debugf("confirmation poll tx=%s: %s", hash, err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return &TransientNetworkError{Op: "AwaitConfirmation", Err: fmt.Errorf("%w: %s", ErrConfirmTimeout, hash)}
		}
	}
}

// checkConfirmed uses a fresh lease per poll and reports whether the
// transaction reached a final outcome.
func (s *Submitter) checkConfirmed(ctx context.Context, hash TxHash) (bool, error) {
	lease, err := s.dialer.lease(ctx)
	if err != nil {
		return false, err
	}
	defer lease.Release()

	tx, err := lease.GetTransactionByHash(ctx, hash)
	if err != nil {
		// not indexed yet or node hiccup, keep polling
		return false, err
	}
	if tx.Pending() {
		return false, nil
	}
	if tx.Success != nil && *tx.Success {
		log.Infof("confirmed tx=%s", hash)
		return true, nil
	}
	return true, &SubmissionRejectedError{Hash: hash, VMStatus: tx.VMStatus}
}
