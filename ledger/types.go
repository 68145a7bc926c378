package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/comreton-network/comreton-node/common/utils"
)

// U64 decodes Move integers, which the REST API renders as decimal strings
// for u64/u128 and as plain numbers for u8/u16/u32.
type U64 uint64

func (u U64) Uint64() uint64 {
	return uint64(u)
}

func (u U64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *U64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %s: %w", b, err)
	}
	*u = U64(v)
	return nil
}

// MoveBytes decodes vector<u8> ("0x..") and Option<vector<u8>>
// ({"vec":[]} / {"vec":["0x.."]}) values.
type MoveBytes []byte

func (m MoveBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(utils.Bytes2Hex0x(m))
}

func (m *MoveBytes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*m = nil
		return nil
	}
	if b[0] == '{' {
		var opt struct {
			Vec []MoveBytes `json:"vec"`
		}
		if err := json.Unmarshal(b, &opt); err != nil {
			return err
		}
		if len(opt.Vec) == 0 {
			*m = nil
			return nil
		}
		*m = opt.Vec[0]
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := utils.Hex2Bytes(s)
	if err != nil {
		return err
	}
	*m = raw
	return nil
}

// Resource is an account resource as returned by the node
type Resource struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type TableHandle struct {
	Handle string `json:"handle"`
}

type GUID struct {
	ID struct {
		Addr        string `json:"addr"`
		CreationNum U64    `json:"creation_num"`
	} `json:"id"`
}

// EventHandle is the on-chain descriptor of an event stream
type EventHandle struct {
	Counter U64  `json:"counter"`
	GUID    GUID `json:"guid"`
}

func (h EventHandle) CreationNum() uint64 {
	return h.GUID.ID.CreationNum.Uint64()
}

// Manager is the data of the orchestrator::ComretonManager resource
type Manager struct {
	Jobs             TableHandle `json:"jobs"`
	JobCounter       U64         `json:"job_counter"`
	JobCreatedEvents EventHandle `json:"job_created_events"`
}

// Job is a row of the manager's jobs table
type Job struct {
	ID        U64       `json:"id"`
	ModelID   U64       `json:"model_id"`
	Requester string    `json:"requester"`
	InputData MoveBytes `json:"input_data"`
	Status    uint8     `json:"status"`
	Result    MoveBytes `json:"result"`
}

type EventGUID struct {
	CreationNumber U64    `json:"creation_number"`
	AccountAddress string `json:"account_address"`
}

// Event is a raw event returned by the events endpoint
type Event struct {
	Version        U64             `json:"version"`
	GUID           EventGUID       `json:"guid"`
	SequenceNumber U64             `json:"sequence_number"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
}

// JobCreatedEvent is emitted by the orchestrator for every new job
type JobCreatedEvent struct {
	JobID          uint64
	ModelID        uint64
	Requester      string
	SequenceNumber uint64
}

type jobCreatedData struct {
	JobID     U64    `json:"job_id"`
	ModelID   U64    `json:"model_id"`
	Requester string `json:"requester"`
}

func DecodeJobCreated(ev Event) (JobCreatedEvent, error) {
	var d jobCreatedData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return JobCreatedEvent{}, fmt.Errorf("decode event seq %d: %w", ev.SequenceNumber, err)
	}
	return JobCreatedEvent{
		JobID:          d.JobID.Uint64(),
		ModelID:        d.ModelID.Uint64(),
		Requester:      d.Requester,
		SequenceNumber: ev.SequenceNumber.Uint64(),
	}, nil
}

// TxHash is a 0x-prefixed transaction hash
type TxHash string

// EntryFunctionPayload calls <address>::<module>::<function>
type EntryFunctionPayload struct {
	Type          string   `json:"type"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// TxRequest is the unsigned user transaction in its JSON form
type TxRequest struct {
	Sender                  string               `json:"sender"`
	SequenceNumber          U64                  `json:"sequence_number"`
	MaxGasAmount            U64                  `json:"max_gas_amount"`
	GasUnitPrice            U64                  `json:"gas_unit_price"`
	ExpirationTimestampSecs U64                  `json:"expiration_timestamp_secs"`
	Payload                 EntryFunctionPayload `json:"payload"`
}

type TxSignature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type SignedTx struct {
	TxRequest
	Signature TxSignature `json:"signature"`
}

// Transaction is the subset of a transaction lookup we act on
type Transaction struct {
	Type     string `json:"type"`
	Hash     string `json:"hash"`
	Success  *bool  `json:"success,omitempty"`
	VMStatus string `json:"vm_status,omitempty"`
	Version  *U64   `json:"version,omitempty"`
}

func (t *Transaction) Pending() bool {
	return t.Type == "pending_transaction"
}

type Account struct {
	SequenceNumber    U64    `json:"sequence_number"`
	AuthenticationKey string `json:"authentication_key"`
}

type LedgerInfo struct {
	ChainID             uint8 `json:"chain_id"`
	LedgerVersion       U64   `json:"ledger_version"`
	LedgerTimestampUsec U64   `json:"ledger_timestamp"`
}
