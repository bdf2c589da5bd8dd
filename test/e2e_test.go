// +build integration

package test

import (
	"fmt"
	"strings"
	"testing"

	uuid "github.com/kthomas/go.uuid"
)

// exercises the full mint lifecycle: fund a user wallet, submit the intent,
// await terminal status and verify the three settled steps
func TestHappyMint(t *testing.T) {
	userWalletID, err := walletFactory()
	if err != nil {
		t.Errorf("failed to create user wallet; %s", err.Error())
		return
	}

	err = fundWallet(*userWalletID)
	if err != nil {
		t.Errorf("failed to fund user wallet; %s", err.Error())
		return
	}

	idempotencyKey, _ := uuid.NewV4()
	status, resp, err := apiPost("/api/operations/mint", map[string]interface{}{
		"idempotencyKey": idempotencyKey.String(),
		"userWalletId":   *userWalletID,
		"amount":         "1000",
	})
	if err != nil {
		t.Errorf("failed to submit mint intent; %s", err.Error())
		return
	}
	if status != 201 {
		t.Errorf("expected 201 on mint intent; got %d (%v)", status, resp)
		return
	}

	operationID, operationIDOk := resp["operationId"].(string)
	if !operationIDOk {
		t.Errorf("malformed mint response; no operationId: %v", resp)
		return
	}

	settled, err := awaitOperationTerminal(operationID)
	if err != nil {
		t.Errorf("mint did not settle; %s", err.Error())
		return
	}

	if settled["status"] != "SUCCESS" {
		t.Errorf("expected mint operation SUCCESS; got %v (%v)", settled["status"], settled["error_message"])
		return
	}

	if settled["issuance_id"] == nil {
		t.Error("expected issuance_id populated after step 1")
	}

	steps, stepsOk := settled["steps"].([]interface{})
	if !stepsOk || len(steps) != 3 {
		t.Errorf("expected 3 steps on settled mint; got %v", settled["steps"])
		return
	}
	for i, s := range steps {
		step := s.(map[string]interface{})
		if step["status"] != "VALIDATED_SUCCESS" {
			t.Errorf("expected step %d VALIDATED_SUCCESS; got %v", i+1, step["status"])
		}
		if step["tx_hash"] == nil {
			t.Errorf("expected step %d to carry a tx hash", i+1)
		}
	}
}

// identical intents with one idempotency token map to one operation: the first
// submission creates (201), the replay returns the same id (200)
func TestIdempotentReplay(t *testing.T) {
	userWalletID, err := walletFactory()
	if err != nil {
		t.Errorf("failed to create user wallet; %s", err.Error())
		return
	}

	idempotencyKey, _ := uuid.NewV4()
	params := map[string]interface{}{
		"idempotencyKey": idempotencyKey.String(),
		"userWalletId":   *userWalletID,
		"amount":         "1000",
	}

	status, first, err := apiPost("/api/operations/mint", params)
	if err != nil {
		t.Errorf("failed to submit mint intent; %s", err.Error())
		return
	}
	if status != 201 {
		t.Errorf("expected 201 on first submission; got %d", status)
		return
	}

	status, second, err := apiPost("/api/operations/mint", params)
	if err != nil {
		t.Errorf("failed to replay mint intent; %s", err.Error())
		return
	}
	if status != 200 {
		t.Errorf("expected 200 on idempotent replay; got %d", status)
		return
	}

	if first["operationId"] != second["operationId"] {
		t.Errorf("expected replay to return the original operation; got %v and %v", first["operationId"], second["operationId"])
	}
}

// deprecated mint parameters are rejected with a 400 naming the offender
func TestMalformedMintRejectsDeprecatedParams(t *testing.T) {
	userWalletID, err := walletFactory()
	if err != nil {
		t.Errorf("failed to create user wallet; %s", err.Error())
		return
	}

	idempotencyKey, _ := uuid.NewV4()
	status, resp, err := apiPost("/api/operations/mint", map[string]interface{}{
		"idempotencyKey": idempotencyKey.String(),
		"userWalletId":   *userWalletID,
		"amount":         "1000",
		"assetScale":     2,
	})
	if err != nil {
		t.Errorf("failed to submit malformed mint intent; %s", err.Error())
		return
	}
	if status != 400 {
		t.Errorf("expected 400 for deprecated assetScale param; got %d", status)
		return
	}

	message := fmt.Sprintf("%v", resp["message"])
	if !strings.Contains(message, "assetScale") {
		t.Errorf("expected error to name assetScale as deprecated; got %v", resp)
	}
}

// the virtual issuer wallet resolves without a custody record and can never be
// faucet-funded
func TestVirtualIssuerWallet(t *testing.T) {
	status, resp, err := apiGet("/api/wallets/issuer")
	if err != nil {
		t.Errorf("failed to fetch issuer wallet; %s", err.Error())
		return
	}
	if status != 200 {
		t.Errorf("expected 200 fetching issuer wallet; got %d", status)
		return
	}
	if resp["address"] == nil {
		t.Errorf("expected issuer wallet address; got %v", resp)
	}

	status, _, err = apiPost("/api/wallets/issuer/fund", map[string]interface{}{})
	if err != nil {
		t.Errorf("failed to request issuer funding; %s", err.Error())
		return
	}
	if status != 400 {
		t.Errorf("expected 400 funding the issuer wallet; got %d", status)
	}
}

func TestOperationNotFound(t *testing.T) {
	randomID, _ := uuid.NewV4()
	status, _, err := apiGet(fmt.Sprintf("/api/operations/%s", randomID.String()))
	if err != nil {
		t.Errorf("failed to fetch operation; %s", err.Error())
		return
	}
	if status != 404 {
		t.Errorf("expected 404 for unknown operation; got %d", status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	status, resp, err := apiGet("/health")
	if err != nil {
		t.Errorf("failed to fetch health; %s", err.Error())
		return
	}
	if status != 200 || resp["status"] != "ok" {
		t.Errorf("expected healthy response; got %d (%v)", status, resp)
	}
}
