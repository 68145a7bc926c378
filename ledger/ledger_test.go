package ledger_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/ledger"
	"github.com/comreton-network/comreton-node/ledger/ledgertest"
	"github.com/stretchr/testify/require"
)

const (
	testContract = "0xad3a"
	testKey      = ledgertest.TestKey
)

func newDialer(t *testing.T, url string) *ledger.Dialer {
	d, err := ledger.NewDialer(ledger.DialerConfig{NodeURL: url, RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	return d
}

func TestReadManagerAndJobs(t *testing.T) {
	contract := ledger.NewContract(testContract, "")
	node := ledgertest.NewNode(t, contract)
	node.AddJob(0, common.JobStatusCompleted, nil)
	node.AddJob(1, common.JobStatusPending, []byte{0x01, 0x02})

	ctx := context.Background()
	sess, err := newDialer(t, node.URL).Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()

	m, err := contract.Manager(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, uint64(2), m.JobCounter.Uint64())
	require.Equal(t, "0xab", m.Jobs.Handle)
	require.Equal(t, uint64(2), m.JobCreatedEvents.Counter.Uint64())
	require.Equal(t, uint64(4), m.JobCreatedEvents.CreationNum())

	job, err := contract.Job(ctx, sess, m.Jobs.Handle, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), job.ID.Uint64())
	require.Equal(t, uint64(1), job.ModelID.Uint64())
	require.Equal(t, common.JobStatusPending, job.Status)
	require.Equal(t, []byte{0x01, 0x02}, []byte(job.InputData))

	_, err = contract.Job(ctx, sess, m.Jobs.Handle, 7)
	require.True(t, ledger.IsNotFound(err))
}

func TestEventsFromStart(t *testing.T) {
	contract := ledger.NewContract(testContract, "")
	node := ledgertest.NewNode(t, contract)
	for i := 0; i < 4; i++ {
		node.AddJob(9, common.JobStatusPending, nil)
	}
	ctx := context.Background()
	sess, err := newDialer(t, node.URL).Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()

	m, err := contract.Manager(ctx, sess)
	require.NoError(t, err)
	events, err := contract.JobCreatedEvents(ctx, sess, m.JobCreatedEvents, 2, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(2), events[0].SequenceNumber)
	require.Equal(t, uint64(2), events[0].JobID)
	require.Equal(t, uint64(9), events[0].ModelID)
	require.Equal(t, uint64(3), events[1].SequenceNumber)

	events, err = contract.JobCreatedEvents(ctx, sess, m.JobCreatedEvents, 4, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestErrorClassification(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "boom", "error_code": "some_code"})
	}))
	defer srv.Close()

	ctx := context.Background()
	d := newDialer(t, srv.URL)

	check := func(code int) error {
		status.Store(int32(code))
		sess, err := d.Acquire(ctx)
		require.NoError(t, err)
		defer sess.Release()
		_, err = sess.GetResource(ctx, "0x1", "0x1::m::R")
		return err
	}

	require.True(t, ledger.IsNotFound(check(http.StatusNotFound)))
	require.True(t, ledger.IsTransient(check(http.StatusServiceUnavailable)))
	require.True(t, ledger.IsTransient(check(http.StatusTooManyRequests)))
	err := check(http.StatusBadRequest)
	var apiErr *ledger.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "some_code", apiErr.Code)
}

func TestUnreachableNodeIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx := context.Background()
	sess, err := newDialer(t, url).Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()
	_, err = sess.GetResource(ctx, "0x1", "0x1::m::R")
	require.True(t, ledger.IsTransient(err))
}

func TestReleasedLease(t *testing.T) {
	node := ledgertest.NewNode(t, ledger.NewContract(testContract, ""))
	ctx := context.Background()
	sess, err := newDialer(t, node.URL).Acquire(ctx)
	require.NoError(t, err)
	sess.Release()
	sess.Release()
	_, err = sess.GetResource(ctx, "0x1", "0x1::m::R")
	require.ErrorIs(t, err, ledger.ErrLeaseReleased)
}

func TestNewDialerURL(t *testing.T) {
	_, err := ledger.NewDialer(ledger.DialerConfig{NodeURL: "ftp://node"})
	require.Error(t, err)
	_, err = ledger.NewDialer(ledger.DialerConfig{NodeURL: "https://fullnode.devnet.aptoslabs.com/v1/"})
	require.NoError(t, err)
}

func TestContractNames(t *testing.T) {
	c := ledger.NewContract("0xAD3A", "")
	require.Equal(t, "0xad3a", c.ResourceAccount)
	require.Equal(t, "0xad3a::orchestrator::ComretonManager", c.ManagerType())
	require.Equal(t, "0xad3a::orchestrator::Job", c.JobType())
	require.Equal(t, "0xad3a::orchestrator::submit_result", c.Function(common.EntrySubmitResult))
}

func TestU64AndMoveBytes(t *testing.T) {
	var v struct {
		A ledger.U64       `json:"a"`
		B ledger.U64       `json:"b"`
		C ledger.MoveBytes `json:"c"`
		D ledger.MoveBytes `json:"d"`
		E ledger.MoveBytes `json:"e"`
	}
	raw := `{"a":"18446744073709551615","b":7,"c":"0x0102","d":{"vec":["0xff"]},"e":{"vec":[]}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	require.Equal(t, uint64(18446744073709551615), v.A.Uint64())
	require.Equal(t, uint64(7), v.B.Uint64())
	require.Equal(t, []byte{1, 2}, []byte(v.C))
	require.Equal(t, []byte{0xff}, []byte(v.D))
	require.Nil(t, v.E)

	var bad ledger.U64
	require.Error(t, json.Unmarshal([]byte(`"-1"`), &bad))
}
