package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/common/utils"
)

// Reader is the read capability of the ledger RPC surface
type Reader interface {
	GetResource(ctx context.Context, account, resourceType string) (*Resource, error)
	GetTableItem(ctx context.Context, handle, keyType, valueType string, key any, out any) error
	GetEventsByHandle(ctx context.Context, account string, creationNum, start uint64, limit int) ([]Event, error)
}

var _ Reader = (*Lease)(nil)

func (l *Lease) GetResource(ctx context.Context, account, resourceType string) (*Resource, error) {
	path := fmt.Sprintf("/accounts/%s/resource/%s", utils.NormalizeAddress(account), url.PathEscape(resourceType))
	var res Resource
	if err := l.do(ctx, "GetResource", http.MethodGet, path, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type tableItemRequest struct {
	KeyType   string `json:"key_type"`
	ValueType string `json:"value_type"`
	Key       any    `json:"key"`
}

func (l *Lease) GetTableItem(ctx context.Context, handle, keyType, valueType string, key any, out any) error {
	path := fmt.Sprintf("/tables/%s/item", utils.NormalizeAddress(handle))
	req := tableItemRequest{KeyType: keyType, ValueType: valueType, Key: key}
	return l.do(ctx, "GetTableItem", http.MethodPost, path, nil, req, out)
}

// GetEventsByHandle returns events of the stream starting at sequence number
// start, in order. An empty slice means there is nothing new.
func (l *Lease) GetEventsByHandle(ctx context.Context, account string, creationNum, start uint64, limit int) ([]Event, error) {
	path := fmt.Sprintf("/accounts/%s/events/%d", utils.NormalizeAddress(account), creationNum)
	query := url.Values{}
	query.Set("start", strconv.FormatUint(start, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var events []Event
	if err := l.do(ctx, "GetEventsByHandle", http.MethodGet, path, query, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (l *Lease) GetAccount(ctx context.Context, account string) (*Account, error) {
	path := fmt.Sprintf("/accounts/%s", utils.NormalizeAddress(account))
	var acc Account
	if err := l.do(ctx, "GetAccount", http.MethodGet, path, nil, nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (l *Lease) GetLedgerInfo(ctx context.Context) (*LedgerInfo, error) {
	var info LedgerInfo
	if err := l.do(ctx, "GetLedgerInfo", http.MethodGet, "", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// EncodeSubmission asks the node for the signing message of req
func (l *Lease) EncodeSubmission(ctx context.Context, req *TxRequest) ([]byte, error) {
	var msg string
	if err := l.do(ctx, "EncodeSubmission", http.MethodPost, "/transactions/encode_submission", nil, req, &msg); err != nil {
		return nil, err
	}
	return utils.Hex2Bytes(msg)
}

func (l *Lease) SubmitTransaction(ctx context.Context, tx *SignedTx) (*Transaction, error) {
	var pending Transaction
	if err := l.do(ctx, "SubmitTransaction", http.MethodPost, "/transactions", nil, tx, &pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

func (l *Lease) GetTransactionByHash(ctx context.Context, hash TxHash) (*Transaction, error) {
	var tx Transaction
	path := fmt.Sprintf("/transactions/by_hash/%s", hash)
	if err := l.do(ctx, "GetTransactionByHash", http.MethodGet, path, nil, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Contract locates the orchestrator module and the account holding its
// manager resource.
type Contract struct {
	Address         string
	ResourceAccount string
}

func NewContract(address, resourceAccount string) Contract {
	if resourceAccount == "" {
		resourceAccount = address
	}
	return Contract{
		Address:         utils.NormalizeAddress(address),
		ResourceAccount: utils.NormalizeAddress(resourceAccount),
	}
}

func (c Contract) ManagerType() string {
	return fmt.Sprintf("%s::%s::%s", c.Address, common.OrchestratorModule, common.ManagerStruct)
}

func (c Contract) JobType() string {
	return fmt.Sprintf("%s::%s::%s", c.Address, common.OrchestratorModule, common.JobStruct)
}

// Function returns the fully qualified name of an orchestrator entry function
func (c Contract) Function(entry string) string {
	return fmt.Sprintf("%s::%s::%s", c.Address, common.OrchestratorModule, entry)
}

func (c Contract) Manager(ctx context.Context, r Reader) (*Manager, error) {
	res, err := r.GetResource(ctx, c.ResourceAccount, c.ManagerType())
	if err != nil {
		return nil, err
	}
	var m Manager
	if err := json.Unmarshal(res.Data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.ManagerType(), err)
	}
	return &m, nil
}

func (c Contract) Job(ctx context.Context, r Reader, handle string, id uint64) (*Job, error) {
	var job Job
	err := r.GetTableItem(ctx, handle, common.JobTableKeyType, c.JobType(), strconv.FormatUint(id, 10), &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (c Contract) JobCreatedEvents(ctx context.Context, r Reader, handle EventHandle, start uint64, limit int) ([]JobCreatedEvent, error) {
	events, err := r.GetEventsByHandle(ctx, c.ResourceAccount, handle.CreationNum(), start, limit)
	if err != nil {
		return nil, err
	}
	out := make([]JobCreatedEvent, 0, len(events))
	for _, ev := range events {
		decoded, err := DecodeJobCreated(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}
