// +build integration

package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

const pollInterval = time.Millisecond * 500
const pollTimeout = time.Second * 60

func apiBaseURL() string {
	if url := os.Getenv("ISSUANCE_API_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func apiPost(path string, params map[string]interface{}) (int, map[string]interface{}, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return 0, nil, err
	}

	resp, err := http.Post(fmt.Sprintf("%s%s", apiBaseURL(), path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	decoded := map[string]interface{}{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded, nil
}

func apiGet(path string) (int, map[string]interface{}, error) {
	resp, err := http.Get(fmt.Sprintf("%s%s", apiBaseURL(), path))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	decoded := map[string]interface{}{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded, nil
}

func walletFactory() (*string, error) {
	status, resp, err := apiPost("/api/wallets", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	if status != 201 {
		return nil, fmt.Errorf("failed to create wallet; status: %d", status)
	}

	id, idOk := resp["id"].(string)
	if !idOk {
		return nil, fmt.Errorf("malformed wallet creation response")
	}
	return &id, nil
}

func fundWallet(walletID string) error {
	status, _, err := apiPost(fmt.Sprintf("/api/wallets/%s/fund", walletID), map[string]interface{}{})
	if err != nil {
		return err
	}
	if status != 200 {
		return fmt.Errorf("failed to fund wallet %s; status: %d", walletID, status)
	}
	return nil
}

// awaitOperationTerminal polls the operation status endpoint until the
// operation settles or the timeout elapses
func awaitOperationTerminal(operationID string) (map[string]interface{}, error) {
	deadline := time.Now().Add(pollTimeout)

	for time.Now().Before(deadline) {
		status, resp, err := apiGet(fmt.Sprintf("/api/operations/%s", operationID))
		if err != nil {
			return nil, err
		}
		if status != 200 {
			return nil, fmt.Errorf("failed to fetch operation %s; status: %d", operationID, status)
		}

		if opStatus, ok := resp["status"].(string); ok {
			if opStatus == "SUCCESS" || opStatus == "FAILED" {
				return resp, nil
			}
		}

		time.Sleep(pollInterval)
	}

	return nil, fmt.Errorf("operation %s did not settle within %s", operationID, pollTimeout)
}
