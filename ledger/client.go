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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/provideplatform/issuance/common"
	"github.com/shopspring/decimal"
)

const jsonRPCRequestTimeout = time.Second * 10

// lastLedgerOffset is added to the current ledger index when autofilling
// LastLedgerSequence; submissions not validated within this window expire
const lastLedgerOffset = 20

const defaultFee = "10"

var networkEndpoints = map[string][]string{
	"testnet": {"https://s.altnet.rippletest.net:51234", "https://faucet.altnet.rippletest.net/accounts"},
	"devnet":  {"https://s.devnet.rippletest.net:51234", "https://faucet.devnet.rippletest.net/accounts"},
	"mainnet": {"https://s1.ripple.com:51234", ""},
}

// JSONRPCClient is the concrete ledger provider speaking JSON-RPC over HTTP to
// a settlement network node; safe for concurrent use
type JSONRPCClient struct {
	endpoint       string
	faucetEndpoint string
	client         *http.Client
}

func requireJSONRPCProvider() *JSONRPCClient {
	endpoints, ok := networkEndpoints[common.LedgerNetwork]
	if !ok {
		common.Log.Panicf("failed to resolve ledger endpoints for network: %s", common.LedgerNetwork)
	}

	endpoint := endpoints[0]
	if os.Getenv("LEDGER_RPC_URL") != "" {
		endpoint = os.Getenv("LEDGER_RPC_URL")
	}

	faucet := endpoints[1]
	if os.Getenv("LEDGER_FAUCET_URL") != "" {
		faucet = os.Getenv("LEDGER_FAUCET_URL")
	}

	common.Log.Debugf("resolved %s ledger JSON-RPC endpoint: %s", common.LedgerNetwork, endpoint)

	return &JSONRPCClient{
		endpoint:       endpoint,
		faucetEndpoint: faucet,
		client: &http.Client{
			Timeout: jsonRPCRequestTimeout,
		},
	}
}

// call invokes the given RPC method and returns the result object; ledger-level
// error codes are surfaced as the second return value
func (c *JSONRPCClient) call(method string, params map[string]interface{}) (map[string]interface{}, *string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"method": method,
		"params": []interface{}{params},
	})
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.client.Post(c.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("ledger %s request failed; %s", method, err.Error())
	}
	defer resp.Body.Close()

	var envelope map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode ledger %s response; %s", method, err.Error())
	}

	result, resultOk := envelope["result"].(map[string]interface{})
	if !resultOk {
		return nil, nil, fmt.Errorf("malformed ledger %s response", method)
	}

	if status, statusOk := result["status"].(string); statusOk && status == "error" {
		if code, codeOk := result["error"].(string); codeOk {
			return result, &code, nil
		}
		return result, nil, fmt.Errorf("ledger %s request errored without a code", method)
	}

	return result, nil, nil
}

// ResolveKeyPair derives the address for the given seed, or generates a fresh
// keypair when no seed is provided
func (c *JSONRPCClient) ResolveKeyPair(seed *string) (*KeyPair, error) {
	params := map[string]interface{}{}
	if seed != nil {
		params["seed"] = *seed
	}

	result, errCode, err := c.call("wallet_propose", params)
	if err != nil {
		return nil, err
	}
	if errCode != nil {
		return nil, fmt.Errorf("failed to resolve ledger keypair; %s", *errCode)
	}

	address, addressOk := result["account_id"].(string)
	masterSeed, seedOk := result["master_seed"].(string)
	if !addressOk || !seedOk {
		return nil, fmt.Errorf("malformed keypair resolution response")
	}

	return &KeyPair{
		Address: address,
		Seed:    masterSeed,
	}, nil
}

// Prepare autofills fee, sequence and last-ledger-sequence on the given
// transaction when the caller did not provide them
func (c *JSONRPCClient) Prepare(tx *Transaction) (*Transaction, error) {
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
		result, errCode, err := c.call("account_info", map[string]interface{}{
			"account":      tx.Account,
			"ledger_index": "current",
		})
		if err != nil {
			return nil, err
		}
		if errCode != nil {
			return nil, fmt.Errorf("failed to resolve account sequence for %s; %s", tx.Account, *errCode)
		}
		accountData, dataOk := result["account_data"].(map[string]interface{})
		if !dataOk {
			return nil, fmt.Errorf("malformed account_info response for %s", tx.Account)
		}
		if sequence, sequenceOk := accountData["Sequence"].(float64); sequenceOk {
			prepared.Fields["Sequence"] = uint64(sequence)
		}
	}

	if _, ok := prepared.Fields["LastLedgerSequence"]; !ok {
		result, errCode, err := c.call("ledger_current", map[string]interface{}{})
		if err != nil {
			return nil, err
		}
		if errCode == nil {
			if index, indexOk := result["ledger_current_index"].(float64); indexOk {
				prepared.Fields["LastLedgerSequence"] = uint64(index) + lastLedgerOffset
			}
		}
	}

	return prepared, nil
}

// Sign signs the prepared transaction with the given seed, returning the signed
// blob and its canonical hash
func (c *JSONRPCClient) Sign(tx *Transaction, seed string) (*string, *string, error) {
	result, errCode, err := c.call("sign", map[string]interface{}{
		"secret":  seed,
		"tx_json": tx.JSON(),
	})
	if err != nil {
		return nil, nil, err
	}
	if errCode != nil {
		return nil, nil, fmt.Errorf("failed to sign %s transaction; %s", tx.Type, *errCode)
	}

	blob, blobOk := result["tx_blob"].(string)
	if !blobOk {
		return nil, nil, fmt.Errorf("malformed sign response; no tx_blob")
	}

	var hash *string
	if txJSON, txJSONOk := result["tx_json"].(map[string]interface{}); txJSONOk {
		if h, hashOk := txJSON["hash"].(string); hashOk {
			hash = &h
		}
	}

	return &blob, hash, nil
}

// Submit broadcasts the signed blob, returning the transaction hash and the
// ledger's tentative acceptance
func (c *JSONRPCClient) Submit(blob string) (*SubmitResult, error) {
	result, errCode, err := c.call("submit", map[string]interface{}{
		"tx_blob": blob,
	})
	if err != nil {
		return nil, err
	}
	if errCode != nil {
		return nil, fmt.Errorf("ledger rejected submission; %s", *errCode)
	}

	engineResult, _ := result["engine_result"].(string)

	var txHash string
	if txJSON, txJSONOk := result["tx_json"].(map[string]interface{}); txJSONOk {
		if h, hashOk := txJSON["hash"].(string); hashOk {
			txHash = h
		}
	}
	if txHash == "" {
		return nil, fmt.Errorf("malformed submit response; no transaction hash")
	}

	var validatedIndex *uint64
	if index, indexOk := result["validated_ledger_index"].(float64); indexOk {
		idx := uint64(index)
		validatedIndex = &idx
	}

	return &SubmitResult{
		TxHash:               txHash,
		EngineResult:         engineResult,
		Acceptance:           result,
		ValidatedLedgerIndex: validatedIndex,
	}, nil
}

// Lookup queries the validation state of a submitted transaction; a
// not-yet-in-a-ledger response yields Validated == false with a nil error
func (c *JSONRPCClient) Lookup(txHash string) (*LookupResult, error) {
	result, errCode, err := c.call("tx", map[string]interface{}{
		"transaction": txHash,
		"binary":      false,
	})
	if err != nil {
		return nil, err
	}
	if errCode != nil {
		if *errCode == "txnNotFound" {
			return &LookupResult{Validated: false}, nil
		}
		return nil, fmt.Errorf("failed to look up transaction %s; %s", txHash, *errCode)
	}

	validated, _ := result["validated"].(bool)
	if !validated {
		return &LookupResult{Validated: false}, nil
	}

	meta, _ := result["meta"].(map[string]interface{})
	txResult := ""
	if meta != nil {
		if code, codeOk := meta["TransactionResult"].(string); codeOk {
			txResult = code
		}
	}

	return &LookupResult{
		Validated: true,
		Result:    txResult,
		Meta:      meta,
	}, nil
}

// Fund requests test-network faucet funding for the given address
func (c *JSONRPCClient) Fund(address string) error {
	if c.faucetEndpoint == "" {
		return fmt.Errorf("no faucet available on %s", common.LedgerNetwork)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"destination": address,
	})

	resp, err := c.client.Post(c.faucetEndpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("faucet request failed; %s", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("faucet request failed with status %d", resp.StatusCode)
	}

	return nil
}

// Balance returns the spendable balance for the given address in drops
func (c *JSONRPCClient) Balance(address string) (*decimal.Decimal, error) {
	result, errCode, err := c.call("account_info", map[string]interface{}{
		"account":      address,
		"ledger_index": "validated",
	})
	if err != nil {
		return nil, err
	}
	if errCode != nil {
		if *errCode == "actNotFound" {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to resolve balance for %s; %s", address, *errCode)
	}

	accountData, dataOk := result["account_data"].(map[string]interface{})
	if !dataOk {
		return nil, fmt.Errorf("malformed account_info response for %s", address)
	}

	raw, rawOk := accountData["Balance"].(string)
	if !rawOk {
		return nil, fmt.Errorf("malformed balance for %s", address)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance for %s; %s", address, err.Error())
	}

	return &balance, nil
}
