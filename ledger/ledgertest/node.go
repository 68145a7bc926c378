// Package ledgertest provides an in-memory ledger node speaking the subset of
// the REST API used by the ledger package.
package ledgertest

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/common/utils"
	"github.com/comreton-network/comreton-node/ledger"
	"golang.org/x/crypto/sha3"
)

const creationNum = 4

// TestKey is a throwaway ed25519 seed for test senders
const TestKey = "ed25519-priv-0x1111111111111111111111111111111111111111111111111111111111111111"

// Node is a fake ledger node backed by httptest.Server
type Node struct {
	*httptest.Server

	contract ledger.Contract

	mu          sync.Mutex
	jobs        []ledger.Job
	events      []ledger.Event
	accounts    map[string]uint64
	txs         map[string]*ledger.Transaction
	submissions []ledger.SignedTx
	noManager   bool
	failReads   map[uint64]int
	rejectNext  string
	requests    []string
	replay      uint64
	hidden      map[uint64]bool
	holdNext    *Held
	held        map[string]*Held
}

// Held is a submission kept in the mempool until Commit or Drop
type Held struct {
	n       *Node
	hash    string
	sender  string
	seq     uint64
	payload ledger.EntryFunctionPayload
}

func NewNode(t testing.TB, contract ledger.Contract) *Node {
	n := &Node{
		contract:  contract,
		accounts:  map[string]uint64{},
		txs:       map[string]*ledger.Transaction{},
		failReads: map[uint64]int{},
		hidden:    map[uint64]bool{},
		held:      map[string]*Held{},
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.Close)
	return n
}

// AddJob appends a job to the jobs table and emits its JobCreatedEvent
func (n *Node) AddJob(modelID uint64, status uint8, input []byte) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := uint64(len(n.jobs))
	n.jobs = append(n.jobs, ledger.Job{
		ID:        ledger.U64(id),
		ModelID:   ledger.U64(modelID),
		Requester: "0xbeef",
		InputData: input,
		Status:    status,
	})
	n.emitLocked(id, modelID)
	return id
}

// AddHistoricalEvents emits events that do not correspond to table rows
func (n *Node) AddHistoricalEvents(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := 0; i < count; i++ {
		n.emitLocked(uint64(1000+i), 0)
	}
}

func (n *Node) emitLocked(jobID, modelID uint64) {
	data, _ := json.Marshal(map[string]string{
		"job_id":    strconv.FormatUint(jobID, 10),
		"model_id":  strconv.FormatUint(modelID, 10),
		"requester": "0xbeef",
	})
	seq := uint64(len(n.events))
	n.events = append(n.events, ledger.Event{
		Version:        ledger.U64(100 + seq),
		GUID:           ledger.EventGUID{CreationNumber: creationNum, AccountAddress: n.contract.ResourceAccount},
		SequenceNumber: ledger.U64(seq),
		Type:           n.contract.Address + "::orchestrator::JobCreatedEvent",
		Data:           data,
	})
}

func (n *Node) Job(id uint64) ledger.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.jobs[id]
}

func (n *Node) Submissions() []ledger.SignedTx {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ledger.SignedTx(nil), n.submissions...)
}

// Requests returns "METHOD path?query" of every request served so far
func (n *Node) Requests() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.requests...)
}

// HideManager makes the manager resource lookup return 404
func (n *Node) HideManager(hide bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.noManager = hide
}

// FailJobReads makes the next count reads of job id fail with a 503
func (n *Node) FailJobReads(id uint64, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failReads[id] = count
}

// RejectNextSubmission makes the next transaction abort with vmStatus
func (n *Node) RejectNextSubmission(vmStatus string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectNext = vmStatus
}

// ReplayEvents makes event pages start k events before the requested start,
// like a node that serves overlapping pages.
func (n *Node) ReplayEvents(k uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replay = k
}

// HideEvent leaves the event with sequence number seq out of every page
func (n *Node) HideEvent(seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hidden[seq] = true
}

func (n *Node) SequenceNumber(addr string) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.accounts[utils.NormalizeAddress(addr)]
}

// HoldNextSubmission keeps the next accepted transaction pending: lookups
// by hash report it as pending and the sender's sequence number does not
// move until Commit.
func (n *Node) HoldNextSubmission() *Held {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := &Held{n: n}
	n.holdNext = h
	return h
}

// Commit executes the held transaction
func (h *Held) Commit() {
	n := h.n
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.held[h.hash]; !ok {
		return
	}
	delete(n.held, h.hash)
	n.commitLocked(h.hash, h.sender, h.payload)
}

// Drop discards the held transaction as an expired mempool entry would be
func (h *Held) Drop() {
	n := h.n
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.held, h.hash)
	delete(n.txs, h.hash)
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/v1")
	n.requests = append(n.requests, r.Method+" "+path+querySuffix(r))

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case path == "" || path == "/":
		writeJSON(w, http.StatusOK, map[string]any{"chain_id": 4, "ledger_version": "1000", "ledger_timestamp": "1"})
	case len(parts) == 4 && parts[0] == "accounts" && parts[2] == "resource":
		n.serveResource(w, parts[1], parts[3])
	case len(parts) == 4 && parts[0] == "accounts" && parts[2] == "events":
		n.serveEvents(w, r)
	case len(parts) == 2 && parts[0] == "accounts":
		writeJSON(w, http.StatusOK, ledger.Account{
			SequenceNumber:    ledger.U64(n.accounts[utils.NormalizeAddress(parts[1])]),
			AuthenticationKey: parts[1],
		})
	case len(parts) == 3 && parts[0] == "tables" && parts[2] == "item":
		n.serveTableItem(w, r)
	case path == "/transactions/encode_submission":
		n.serveEncode(w, r)
	case path == "/transactions" && r.Method == http.MethodPost:
		n.serveSubmit(w, r)
	case len(parts) == 3 && parts[0] == "transactions" && parts[1] == "by_hash":
		tx, ok := n.txs[parts[2]]
		if !ok {
			writeErr(w, http.StatusNotFound, "transaction_not_found", "no such transaction")
			return
		}
		writeJSON(w, http.StatusOK, tx)
	default:
		writeErr(w, http.StatusNotFound, "web_framework_error", "no route "+path)
	}
}

func querySuffix(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

func (n *Node) serveResource(w http.ResponseWriter, account, typ string) {
	if n.noManager || utils.NormalizeAddress(account) != n.contract.ResourceAccount || typ != n.contract.ManagerType() {
		writeErr(w, http.StatusNotFound, "resource_not_found", "resource not found")
		return
	}
	data := map[string]any{
		"jobs":        map[string]string{"handle": "0xab"},
		"job_counter": strconv.Itoa(len(n.jobs)),
		"job_created_events": map[string]any{
			"counter": strconv.Itoa(len(n.events)),
			"guid": map[string]any{"id": map[string]string{
				"addr":         n.contract.ResourceAccount,
				"creation_num": strconv.Itoa(creationNum),
			}},
		},
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": typ, "data": data})
}

func (n *Node) serveEvents(w http.ResponseWriter, r *http.Request) {
	start, _ := strconv.ParseUint(r.URL.Query().Get("start"), 10, 64)
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 25
	}
	if start >= n.replay {
		start -= n.replay
	} else {
		start = 0
	}
	out := []ledger.Event{}
	for i := start; i < uint64(len(n.events)) && len(out) < limit; i++ {
		if !n.hidden[i] {
			out = append(out, n.events[i])
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (n *Node) serveTableItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeyType   string `json:"key_type"`
		ValueType string `json:"value_type"`
		Key       string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	id, err := strconv.ParseUint(req.Key, 10, 64)
	if err != nil || req.KeyType != common.JobTableKeyType || req.ValueType != n.contract.JobType() {
		writeErr(w, http.StatusBadRequest, "invalid_input", "bad table request")
		return
	}
	if n.failReads[id] > 0 {
		n.failReads[id]--
		writeErr(w, http.StatusServiceUnavailable, "internal_error", "node overloaded")
		return
	}
	if id >= uint64(len(n.jobs)) {
		writeErr(w, http.StatusNotFound, "table_item_not_found", "table item not found")
		return
	}
	writeJSON(w, http.StatusOK, n.jobs[id])
}

// signingMessage stands in for the BCS signing message of the real node
func signingMessage(req ledger.TxRequest) []byte {
	raw, _ := json.Marshal(req)
	h := sha3.Sum256(raw)
	return h[:]
}

func (n *Node) serveEncode(w http.ResponseWriter, r *http.Request) {
	var req ledger.TxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, utils.Bytes2Hex0x(signingMessage(req)))
}

func (n *Node) serveSubmit(w http.ResponseWriter, r *http.Request) {
	var tx ledger.SignedTx
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	pub, err := utils.Hex2Bytes(tx.Signature.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		writeErr(w, http.StatusBadRequest, "invalid_input", "bad public key")
		return
	}
	sig, _ := utils.Hex2Bytes(tx.Signature.Signature)
	if !ed25519.Verify(pub, signingMessage(tx.TxRequest), sig) {
		writeErr(w, http.StatusBadRequest, "invalid_transaction_update", "signature verification failed")
		return
	}
	sender := utils.NormalizeAddress(tx.Sender)
	if ledger.AuthKeyAddress(pub) != sender {
		writeErr(w, http.StatusBadRequest, "invalid_transaction_update", "sender does not match key")
		return
	}
	if tx.SequenceNumber.Uint64() != n.accounts[sender] {
		writeErr(w, http.StatusBadRequest, "sequence_number_too_old", "sequence number mismatch")
		return
	}
	for _, h := range n.held {
		if h.sender == sender && h.seq == tx.SequenceNumber.Uint64() {
			writeErr(w, http.StatusBadRequest, "invalid_transaction_update", "transaction with this sequence number already in mempool")
			return
		}
	}
	n.submissions = append(n.submissions, tx)
	hash := fmt.Sprintf("0x%064x", len(n.submissions))

	if h := n.holdNext; h != nil {
		n.holdNext = nil
		h.hash, h.sender, h.seq, h.payload = hash, sender, tx.SequenceNumber.Uint64(), tx.Payload
		n.held[hash] = h
		n.txs[hash] = &ledger.Transaction{Type: "pending_transaction", Hash: hash}
	} else {
		// committed synchronously
		n.commitLocked(hash, sender, tx.Payload)
	}
	writeJSON(w, http.StatusAccepted, ledger.Transaction{Type: "pending_transaction", Hash: hash})
}

// commitLocked executes the payload and bumps the sender's sequence number
func (n *Node) commitLocked(hash, sender string, payload ledger.EntryFunctionPayload) {
	n.accounts[sender]++
	success, vmStatus := false, n.rejectNext
	if n.rejectNext != "" {
		n.rejectNext = ""
	} else {
		success, vmStatus = n.executeLocked(payload)
	}
	version := ledger.U64(2000 + len(n.txs))
	n.txs[hash] = &ledger.Transaction{Type: "user_transaction", Hash: hash, Success: &success, VMStatus: vmStatus, Version: &version}
}

func (n *Node) executeLocked(p ledger.EntryFunctionPayload) (bool, string) {
	if p.Function == n.contract.Function(common.EntryRequestInference) {
		return n.requestInferenceLocked(p)
	}
	if p.Function != n.contract.Function(common.EntrySubmitResult) {
		return true, "Executed successfully"
	}
	if len(p.Arguments) != 6 {
		return false, "NUMBER_OF_ARGUMENTS_MISMATCH"
	}
	idStr, _ := p.Arguments[0].(string)
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id >= uint64(len(n.jobs)) {
		return false, "Move abort: E_JOB_NOT_FOUND"
	}
	if n.jobs[id].Status == common.JobStatusCompleted {
		return false, "Move abort: E_JOB_ALREADY_COMPLETED"
	}
	output, _ := p.Arguments[1].(string)
	result, _ := utils.Hex2Bytes(output)
	n.jobs[id].Status = common.JobStatusCompleted
	n.jobs[id].Result = result
	return true, "Executed successfully"
}

func (n *Node) requestInferenceLocked(p ledger.EntryFunctionPayload) (bool, string) {
	if len(p.Arguments) != 2 {
		return false, "NUMBER_OF_ARGUMENTS_MISMATCH"
	}
	idStr, _ := p.Arguments[0].(string)
	modelID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return false, "FAILED_TO_DESERIALIZE_ARGUMENT"
	}
	inputHex, _ := p.Arguments[1].(string)
	input, err := utils.Hex2Bytes(inputHex)
	if err != nil {
		return false, "FAILED_TO_DESERIALIZE_ARGUMENT"
	}
	id := uint64(len(n.jobs))
	n.jobs = append(n.jobs, ledger.Job{
		ID:        ledger.U64(id),
		ModelID:   ledger.U64(modelID),
		Requester: "0xbeef",
		InputData: input,
		Status:    common.JobStatusPending,
	})
	n.emitLocked(id, modelID)
	return true, "Executed successfully"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"message": msg, "error_code": code, "vm_error_code": nil})
}
