/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ledger

import (
	"errors"
	"strings"
	"sync"

	"github.com/provideplatform/issuance/common"
	"github.com/shopspring/decimal"
)

// Ledger transaction types understood by the settlement network
const (
	TxTypeIssuanceCreate = "MPTokenIssuanceCreate"
	TxTypeAuthorize      = "MPTokenAuthorize"
	TxTypePayment        = "Payment"
	TxTypeClawback       = "Clawback"
)

// Issuance flag bits; CanTransfer|CanClawback == 96
const (
	FlagCanTransfer = 0x20
	FlagCanClawback = 0x40
)

// TxResultSuccess is the ledger's canonical applied-successfully result code
const TxResultSuccess = "tesSUCCESS"

// MetaIssuanceIDKey is the validated-metadata field carrying the ledger-assigned
// issuance identifier for an issuance-creation transaction
const MetaIssuanceIDKey = "mpt_issuance_id"

// ErrAccountNotFound indicates the queried address is not funded on the ledger
var ErrAccountNotFound = errors.New("account not found")

// Transaction is an unsigned ledger transaction payload; Fields carries the
// type-specific members verbatim, the adapter owns the wire form
type Transaction struct {
	Type    string                 `json:"transaction_type"`
	Account string                 `json:"account"`
	Fields  map[string]interface{} `json:"fields"`
}

// JSON flattens the transaction into the tx_json form expected by the ledger
func (tx *Transaction) JSON() map[string]interface{} {
	payload := map[string]interface{}{
		"TransactionType": tx.Type,
		"Account":         tx.Account,
	}
	for k, v := range tx.Fields {
		payload[k] = v
	}
	return payload
}

// KeyPair is a derived signer identity
type KeyPair struct {
	Address string
	Seed    string
}

// SubmitResult is the ledger's tentative acceptance of a submitted blob
type SubmitResult struct {
	TxHash               string
	EngineResult         string
	Acceptance           map[string]interface{}
	ValidatedLedgerIndex *uint64
}

// LookupResult describes a transaction's validation state; a not-yet-in-a-ledger
// response is expressed as Validated == false with a nil error
type LookupResult struct {
	Validated bool
	Result    string
	Meta      map[string]interface{}
}

// API is the contract the orchestrator core requires of the external settlement
// ledger; the wire encoding and connection lifecycle are the provider's concern
type API interface {
	ResolveKeyPair(seed *string) (*KeyPair, error)
	Prepare(tx *Transaction) (*Transaction, error)
	Sign(tx *Transaction, seed string) (blob *string, hash *string, err error)
	Submit(blob string) (*SubmitResult, error)
	Lookup(txHash string) (*LookupResult, error)
	Fund(address string) error
	Balance(address string) (*decimal.Decimal, error)
}

// IsSuccess reports whether the given validated transaction result code is the
// canonical success code
func IsSuccess(result string) bool {
	return result == TxResultSuccess
}

// IsPermanentFailure reports whether the given result code is terminal
// (malformed, applied-with-error or failed); such codes are never retried
func IsPermanentFailure(result string) bool {
	return strings.HasPrefix(result, "tem") || strings.HasPrefix(result, "tec") || strings.HasPrefix(result, "tef")
}

var (
	defaultAPIMutex sync.Mutex

	// DefaultAPI is the process-wide shared ledger provider; resolved lazily by
	// Require and overridable by tests
	DefaultAPI API
)

// Require resolves the shared ledger provider for the configured network,
// initializing it on first use
func Require() API {
	defaultAPIMutex.Lock()
	defer defaultAPIMutex.Unlock()

	if DefaultAPI == nil {
		switch common.LedgerNetwork {
		case "sandbox":
			DefaultAPI = NewSandbox()
		default:
			DefaultAPI = requireJSONRPCProvider()
		}
	}

	return DefaultAPI
}
