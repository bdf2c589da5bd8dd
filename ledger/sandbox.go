package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/provideplatform/issuance/common"
	"github.com/shopspring/decimal"
)

// Sandbox is a deterministic in-process ledger provider. It validates
// submissions after a configurable per-type latency and records the order of
// submit calls, which makes signer-serialization and poller behavior
// observable in tests and local development (LEDGER_NETWORK=sandbox).
type Sandbox struct {
	mutex sync.Mutex

	accounts  map[string]*sandboxAccount
	seeds     map[string]string // seed -> address
	txs       map[string]*sandboxTx
	submitLog []string

	// ValidationDelay is the default latency between submission and validation
	ValidationDelay time.Duration

	delayForType  map[string]time.Duration
	resultForType map[string]string

	counter uint64
}

type sandboxAccount struct {
	address  string
	seed     string
	sequence uint64
	balance  decimal.Decimal
}

type sandboxTx struct {
	txType      string
	account     string
	fields      map[string]interface{}
	submittedAt time.Time
	delay       time.Duration
	result      string
	issuanceID  *string
}

// NewSandbox initializes an empty deterministic ledger
func NewSandbox() *Sandbox {
	return &Sandbox{
		accounts:      map[string]*sandboxAccount{},
		seeds:         map[string]string{},
		txs:           map[string]*sandboxTx{},
		submitLog:     []string{},
		delayForType:  map[string]time.Duration{},
		resultForType: map[string]string{},
	}
}

// SetResult scripts the validated result code for subsequent transactions of
// the given type; default is tesSUCCESS
func (s *Sandbox) SetResult(txType, result string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.resultForType[txType] = result
}

// SetDelay scripts the validation latency for subsequent transactions of the
// given type
func (s *Sandbox) SetDelay(txType string, delay time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.delayForType[txType] = delay
}

// SubmittedHashes returns tx hashes in submission order
func (s *Sandbox) SubmittedHashes() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	log := make([]string, len(s.submitLog))
	copy(log, s.submitLog)
	return log
}

// ResolveKeyPair derives a stable sandbox address for the given seed, or
// generates a fresh keypair
func (s *Sandbox) ResolveKeyPair(seed *string) (*KeyPair, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var _seed string
	if seed != nil {
		_seed = *seed
	} else {
		_seed = fmt.Sprintf("s%s", common.RandomString(28))
	}

	if address, ok := s.seeds[_seed]; ok {
		return &KeyPair{Address: address, Seed: _seed}, nil
	}

	address := fmt.Sprintf("r%s", common.SHA256(_seed)[0:32])
	s.seeds[_seed] = address
	s.accounts[address] = &sandboxAccount{
		address: address,
		seed:    _seed,
	}

	return &KeyPair{Address: address, Seed: _seed}, nil
}

// Prepare autofills fee and per-account sequence
func (s *Sandbox) Prepare(tx *Transaction) (*Transaction, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	prepared := &Transaction{
		Type:    tx.Type,
		Account: tx.Account,
		Fields:  map[string]interface{}{},
	}
	for k, v := range tx.Fields {
		prepared.Fields[k] = v
	}

	if _, ok := prepared.Fields["Fee"]; !ok {
		prepared.Fields["Fee"] = defaultFee
	}

	if _, ok := prepared.Fields["Sequence"]; !ok {
		account, accountOk := s.accounts[tx.Account]
		if !accountOk {
			return nil, ErrAccountNotFound
		}
		account.sequence++
		prepared.Fields["Sequence"] = account.sequence
	}

	return prepared, nil
}

// Sign encodes the transaction and derives a deterministic canonical hash
func (s *Sandbox) Sign(tx *Transaction, seed string) (*string, *string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.seeds[seed]; !ok {
		return nil, nil, fmt.Errorf("unknown signing seed")
	}

	s.counter++
	encoded, err := json.Marshal(map[string]interface{}{
		"tx_json": tx.JSON(),
		"n":       s.counter,
	})
	if err != nil {
		return nil, nil, err
	}

	blob := string(encoded)
	hash := strings.ToUpper(common.SHA256(blob))
	return &blob, &hash, nil
}

// Submit accepts the signed blob and schedules its validation
func (s *Sandbox) Submit(blob string) (*SubmitResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var decoded map[string]interface{}
	err := json.Unmarshal([]byte(blob), &decoded)
	if err != nil {
		return nil, fmt.Errorf("malformed sandbox blob; %s", err.Error())
	}

	txJSON, _ := decoded["tx_json"].(map[string]interface{})
	txType, _ := txJSON["TransactionType"].(string)
	account, _ := txJSON["Account"].(string)

	hash := strings.ToUpper(common.SHA256(blob))

	delay := s.ValidationDelay
	if d, ok := s.delayForType[txType]; ok {
		delay = d
	}

	result := TxResultSuccess
	if r, ok := s.resultForType[txType]; ok {
		result = r
	}

	tx := &sandboxTx{
		txType:      txType,
		account:     account,
		fields:      txJSON,
		submittedAt: time.Now(),
		delay:       delay,
		result:      result,
	}

	if txType == TxTypeIssuanceCreate {
		issuanceID := strings.ToUpper(common.SHA256(hash)[0:48])
		tx.issuanceID = &issuanceID
	}

	s.txs[hash] = tx
	s.submitLog = append(s.submitLog, hash)

	return &SubmitResult{
		TxHash:       hash,
		EngineResult: "terQUEUED",
		Acceptance: map[string]interface{}{
			"engine_result": "terQUEUED",
			"tx_json":       txJSON,
		},
	}, nil
}

// Lookup reports the scheduled validation state of the given transaction
func (s *Sandbox) Lookup(txHash string) (*LookupResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, ok := s.txs[txHash]
	if !ok {
		return &LookupResult{Validated: false}, nil
	}

	if time.Since(tx.submittedAt) < tx.delay {
		return &LookupResult{Validated: false}, nil
	}

	meta := map[string]interface{}{
		"TransactionResult": tx.result,
	}
	if tx.issuanceID != nil && tx.result == TxResultSuccess {
		meta[MetaIssuanceIDKey] = *tx.issuanceID
	}

	return &LookupResult{
		Validated: true,
		Result:    tx.result,
		Meta:      meta,
	}, nil
}

// Fund credits the given address from the sandbox faucet
func (s *Sandbox) Fund(address string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	account, ok := s.accounts[address]
	if !ok {
		return ErrAccountNotFound
	}

	account.balance = account.balance.Add(decimal.NewFromInt(1000000000))
	return nil
}

// Balance returns the sandbox balance for the given address
func (s *Sandbox) Balance(address string) (*decimal.Decimal, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	account, ok := s.accounts[address]
	if !ok {
		return nil, ErrAccountNotFound
	}

	balance := account.balance
	return &balance, nil
}
