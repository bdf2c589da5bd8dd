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
	"time"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/issuance/common"
	provide "github.com/provideplatform/provide-go/api"
	"github.com/shopspring/decimal"
)

const operationKindMint = "MINT"
const operationKindTransfer = "TRANSFER"
const operationKindBurn = "BURN"

const operationStatusPending = "PENDING"
const operationStatusInProgress = "IN_PROGRESS"
const operationStatusSuccess = "SUCCESS"
const operationStatusFailed = "FAILED"

// Operation is one logical user-visible intent; it owns an ordered set of
// steps, each a single ledger transaction
type Operation struct {
	provide.Model
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	Kind           *string `sql:"not null" json:"kind"`
	IdempotencyKey *string `sql:"not null" json:"idempotency_key"`

	// ledger-assigned handle for the token class; discovered after the first
	// mint step validates, required up front for transfer and burn
	IssuanceID *string `json:"issuance_id"`

	// wallet identifier columns are strings, not foreign keys; they may carry
	// the reserved issuer literal for which no row exists
	SourceWalletID      *string `json:"source_wallet_id"`
	DestinationWalletID *string `json:"destination_wallet_id"`

	Amount   *decimal.Decimal `sql:"type:numeric(78,0)" json:"amount"`
	Metadata *string          `json:"metadata,omitempty"`

	Status       *string `sql:"not null;default:'PENDING'" json:"status"`
	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	Steps []*Step `sql:"-" json:"steps,omitempty"`
}

// Find resolves an operation by id
func Find(db *gorm.DB, operationID uuid.UUID) *Operation {
	op := &Operation{}
	db.Where("id = ?", operationID).Find(&op)
	if op.ID == uuid.Nil {
		return nil
	}
	return op
}

// FindByIdempotencyKey resolves the operation created by a previous submission
// of the same intent, if any
func FindByIdempotencyKey(db *gorm.DB, key string) *Operation {
	op := &Operation{}
	db.Where("idempotency_key = ?", key).Find(&op)
	if op.ID == uuid.Nil {
		return nil
	}
	return op
}

// create persists the operation and its ordered steps within the given
// transaction handle; the caller owns commit/rollback
func (o *Operation) create(tx *gorm.DB) bool {
	steps, err := stepsForOperation(o)
	if err != nil {
		o.Errors = append(o.Errors, &provide.Error{
			Message: common.StringOrNil(err.Error()),
		})
		return false
	}

	if tx.NewRecord(o) {
		result := tx.Create(&o)
		rowsAffected := result.RowsAffected
		errs := result.GetErrors()
		if len(errs) > 0 {
			for _, err := range errs {
				o.Errors = append(o.Errors, &provide.Error{
					Message: common.StringOrNil(err.Error()),
				})
			}
			return false
		}
		if rowsAffected == 0 {
			return false
		}
	}

	for _, step := range steps {
		step.OperationID = &o.ID
		result := tx.Create(&step)
		errs := result.GetErrors()
		if len(errs) > 0 {
			for _, err := range errs {
				o.Errors = append(o.Errors, &provide.Error{
					Message: common.StringOrNil(err.Error()),
				})
			}
			return false
		}
	}

	o.Steps = steps
	return true
}

// LoadSteps resolves the operation's steps in ascending step order
func (o *Operation) LoadSteps(db *gorm.DB) []*Step {
	var steps []*Step
	db.Where("operation_id = ?", o.ID).Order("step_no ASC").Find(&steps)
	return steps
}

// terminal reports whether the operation has reached SUCCESS or FAILED
func (o *Operation) terminal() bool {
	return o.Status != nil && (*o.Status == operationStatusSuccess || *o.Status == operationStatusFailed)
}

// updateStatus transitions the operation status; terminal statuses are never
// left, enforced at the storage layer
func (o *Operation) updateStatus(db *gorm.DB, status string) bool {
	result := db.Exec(
		"UPDATE operations SET status = ?, updated_at = now() WHERE id = ? AND status NOT IN (?, ?)",
		status, o.ID, operationStatusSuccess, operationStatusFailed,
	)
	if result.Error != nil {
		common.Log.Warningf("failed to transition operation %s to %s; %s", o.ID, status, result.Error.Error())
		return false
	}
	if result.RowsAffected > 0 {
		o.Status = common.StringOrNil(status)
		return true
	}
	return false
}

// fail marks the operation FAILED with a diagnostic code and message
func (o *Operation) fail(db *gorm.DB, code, message string) {
	result := db.Exec(
		"UPDATE operations SET status = ?, error_code = ?, error_message = ?, updated_at = now() WHERE id = ? AND status NOT IN (?, ?)",
		operationStatusFailed, code, message, o.ID, operationStatusSuccess, operationStatusFailed,
	)
	if result.Error != nil {
		common.Log.Warningf("failed to mark operation %s failed; %s", o.ID, result.Error.Error())
		return
	}
	if result.RowsAffected > 0 {
		o.Status = common.StringOrNil(operationStatusFailed)
		o.ErrorCode = common.StringOrNil(code)
		o.ErrorMessage = common.StringOrNil(message)
		common.Log.Debugf("operation %s failed; %s", o.ID, message)
	}
}

// complete marks the operation SUCCESS
func (o *Operation) complete(db *gorm.DB) {
	if o.updateStatus(db, operationStatusSuccess) {
		common.Log.Debugf("operation %s completed", o.ID)
	}
}

// setIssuanceID persists the ledger-assigned issuance identifier; returns false
// when the identifier was already set or the update failed
func (o *Operation) setIssuanceID(db *gorm.DB, issuanceID string) bool {
	result := db.Exec(
		"UPDATE operations SET issuance_id = ?, updated_at = now() WHERE id = ? AND issuance_id IS NULL",
		issuanceID, o.ID,
	)
	if result.Error != nil {
		common.Log.Warningf("failed to persist issuance id for operation %s; %s", o.ID, result.Error.Error())
		return false
	}
	if result.RowsAffected == 0 {
		return false
	}
	o.IssuanceID = common.StringOrNil(issuanceID)
	return true
}
