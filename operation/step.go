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

package operation

import (
	"encoding/json"
	"time"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/issuance/audit"
	"github.com/provideplatform/issuance/common"
	"github.com/provideplatform/issuance/ledger"
	provide "github.com/provideplatform/provide-go/api"
)

const stepStatusPending = "PENDING"
const stepStatusSubmitted = "SUBMITTED"
const stepStatusPendingValidation = "PENDING_VALIDATION"
const stepStatusValidatedSuccess = "VALIDATED_SUCCESS"
const stepStatusValidatedFailed = "VALIDATED_FAILED"

const stepKindIssuerMint = "issuer_mint"
const stepKindUserAuthorize = "user_authorize"
const stepKindReceiverAuthorize = "receiver_authorize"
const stepKindSenderTransfer = "sender_transfer"
const stepKindIssuerTransfer = "issuer_transfer"
const stepKindIssuerClawback = "issuer_clawback"

// Step is one ledger transaction within an operation. Steps advance only
// forward: PENDING -> SUBMITTED -> PENDING_VALIDATION -> terminal.
type Step struct {
	provide.Model
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	OperationID *uuid.UUID `sql:"not null;type:uuid" json:"operation_id"`
	StepNo      int        `gorm:"column:step_no" json:"step_no"`

	Kind            *string `sql:"not null" json:"kind"`
	SignerWalletID  *string `json:"signer_wallet_id"`
	TransactionType *string `json:"transaction_type"`

	TxHash *string `json:"tx_hash"`

	// opaque acknowledgement and validated-result blobs, retained for audit
	SubmitResult    []byte `sql:"type:jsonb" json:"-"`
	ValidatedResult []byte `sql:"type:jsonb" json:"-"`

	Status        *string    `sql:"not null;default:'PENDING'" json:"status"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

// TableName returns the table for the step model
func (s *Step) TableName() string {
	return "operation_steps"
}

// reload re-reads the step's persisted state
func (s *Step) reload(db *gorm.DB) *Step {
	step := &Step{}
	db.Where("id = ?", s.ID).Find(&step)
	if step.ID == uuid.Nil {
		return nil
	}
	return step
}

// succeeded reports whether the step reached VALIDATED_SUCCESS
func (s *Step) succeeded() bool {
	return s.Status != nil && *s.Status == stepStatusValidatedSuccess
}

// terminal reports whether the step reached a validated terminal status
func (s *Step) terminal() bool {
	return s.Status != nil && (*s.Status == stepStatusValidatedSuccess || *s.Status == stepStatusValidatedFailed)
}

// recordSubmission persists the tx hash and tentative acceptance and advances
// the step to SUBMITTED
func (s *Step) recordSubmission(db *gorm.DB, txHash string, receipt *ledger.SubmitResult) bool {
	var acceptance []byte
	if receipt != nil {
		acceptance, _ = json.Marshal(receipt.Acceptance)
	}

	result := db.Exec(
		"UPDATE operation_steps SET status = ?, tx_hash = ?, submit_result = ?, updated_at = now() WHERE id = ? AND status = ?",
		stepStatusSubmitted, txHash, acceptance, s.ID, stepStatusPending,
	)
	if result.Error != nil {
		common.Log.Warningf("failed to record submission for step %s; %s", s.ID, result.Error.Error())
		return false
	}
	if result.RowsAffected > 0 {
		s.Status = common.StringOrNil(stepStatusSubmitted)
		s.TxHash = common.StringOrNil(txHash)
		s.SubmitResult = acceptance
		return true
	}
	return false
}

// beginValidationWait advances the step to PENDING_VALIDATION
func (s *Step) beginValidationWait(db *gorm.DB) bool {
	result := db.Exec(
		"UPDATE operation_steps SET status = ?, updated_at = now() WHERE id = ? AND status = ?",
		stepStatusPendingValidation, s.ID, stepStatusSubmitted,
	)
	if result.Error != nil {
		common.Log.Warningf("failed to transition step %s to %s; %s", s.ID, stepStatusPendingValidation, result.Error.Error())
		return false
	}
	if result.RowsAffected > 0 {
		s.Status = common.StringOrNil(stepStatusPendingValidation)
	}
	return result.RowsAffected > 0
}

// markValidated records the observed validation outcome and advances the step
// to its terminal status; no-op when the step already settled
func (s *Step) markValidated(db *gorm.DB, res *ledger.LookupResult) bool {
	status := stepStatusValidatedFailed
	if ledger.IsSuccess(res.Result) {
		status = stepStatusValidatedSuccess
	}

	blob, _ := json.Marshal(map[string]interface{}{
		"transaction_result": res.Result,
		"meta":               res.Meta,
	})

	result := db.Exec(
		"UPDATE operation_steps SET status = ?, validated_result = ?, last_checked_at = now(), updated_at = now() WHERE id = ? AND status IN (?, ?)",
		status, blob, s.ID, stepStatusSubmitted, stepStatusPendingValidation,
	)
	if result.Error != nil {
		common.Log.Warningf("failed to finalize step %s; %s", s.ID, result.Error.Error())
		return false
	}
	if result.RowsAffected == 0 {
		return false
	}

	s.Status = common.StringOrNil(status)
	s.ValidatedResult = blob

	if s.TxHash != nil && s.OperationID != nil {
		err := audit.RecordStepResult(db, s.OperationID.String(), s.StepNo, *s.TxHash, res.Result)
		if err != nil {
			common.Log.Warningf("failed to append step %s result to audit trail; %s", s.ID, err.Error())
		}
	}

	common.Log.Debugf("step %d of operation %s settled as %s (%s)", s.StepNo, s.OperationID, status, res.Result)
	return true
}

// failLocal settles the step as VALIDATED_FAILED for failures that occurred
// before any ledger submission could be recorded
func (s *Step) failLocal(db *gorm.DB, reason string) {
	blob, _ := json.Marshal(map[string]interface{}{
		"error": reason,
	})

	result := db.Exec(
		"UPDATE operation_steps SET status = ?, validated_result = ?, updated_at = now() WHERE id = ? AND status IN (?, ?, ?)",
		stepStatusValidatedFailed, blob, s.ID, stepStatusPending, stepStatusSubmitted, stepStatusPendingValidation,
	)
	if result.Error != nil {
		common.Log.Warningf("failed to settle step %s after local failure; %s", s.ID, result.Error.Error())
		return
	}
	if result.RowsAffected > 0 {
		s.Status = common.StringOrNil(stepStatusValidatedFailed)
		s.ValidatedResult = blob
	}
}

// touch records a validation poll attempt without changing status
func (s *Step) touch(db *gorm.DB) {
	db.Exec("UPDATE operation_steps SET last_checked_at = now() WHERE id = ?", s.ID)
}

// validatedResultCode extracts the recorded transaction result code, if any
func (s *Step) validatedResultCode() *string {
	if len(s.ValidatedResult) == 0 {
		return nil
	}
	decoded := map[string]interface{}{}
	if err := json.Unmarshal(s.ValidatedResult, &decoded); err != nil {
		return nil
	}
	if code, ok := decoded["transaction_result"].(string); ok {
		return &code
	}
	return nil
}

// validatedIssuanceID extracts the ledger-assigned issuance identifier from the
// recorded validation metadata, if present
func (s *Step) validatedIssuanceID() *string {
	if len(s.ValidatedResult) == 0 {
		return nil
	}
	decoded := map[string]interface{}{}
	if err := json.Unmarshal(s.ValidatedResult, &decoded); err != nil {
		return nil
	}
	meta, metaOk := decoded["meta"].(map[string]interface{})
	if !metaOk {
		return nil
	}
	if issuanceID, ok := meta[ledger.MetaIssuanceIDKey].(string); ok {
		return &issuanceID
	}
	return nil
}
