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
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/provideplatform/issuance/common"
	"github.com/provideplatform/issuance/custody"
	"github.com/provideplatform/issuance/ledger"
	"github.com/provideplatform/issuance/locker"
	"github.com/provideplatform/issuance/wallet"
)

// errValidationTimeout signals the inline validation budget elapsed; the step
// stays PENDING_VALIDATION and the background poller settles it
var errValidationTimeout = errors.New("timed out awaiting inline validation")

// ExecuteOperation drives the given operation toward a terminal status,
// executing its steps strictly in step order. Steps already settled as
// VALIDATED_SUCCESS are skipped, which makes re-execution after a restart or
// redelivery safe. An inline validation timeout halts execution without
// failing the operation; the poller owns the step from there.
func ExecuteOperation(db *gorm.DB, op *Operation) error {
	if op.terminal() {
		common.Log.Debugf("operation %s already terminal; nothing to execute", op.ID)
		return nil
	}

	op.updateStatus(db, operationStatusInProgress)

	steps := op.LoadSteps(db)
	for _, step := range steps {
		if step.succeeded() {
			if err := ensureIssuanceDiscovered(db, op, step); err != nil {
				op.fail(db, fmt.Sprintf("step_%d_failed", step.StepNo), err.Error())
				return nil
			}
			continue
		}

		err := executeStep(db, op, step)
		if err == errValidationTimeout {
			common.Log.Debugf("step %d of operation %s timed out awaiting validation; deferring to poller", step.StepNo, op.ID)
			return nil
		}

		settled := step.reload(db)
		if settled == nil {
			return fmt.Errorf("failed to reload step %d of operation %s", step.StepNo, op.ID)
		}

		if err != nil || !settled.succeeded() {
			msg := fmt.Sprintf("operation failed at step %d (%s)", step.StepNo, *step.Kind)
			if code := settled.validatedResultCode(); code != nil {
				msg = fmt.Sprintf("%s; transaction result: %s", msg, *code)
			} else if err != nil {
				msg = fmt.Sprintf("%s; %s", msg, err.Error())
			}
			op.fail(db, fmt.Sprintf("step_%d_failed", step.StepNo), msg)
			return nil
		}

		if err := ensureIssuanceDiscovered(db, op, settled); err != nil {
			op.fail(db, fmt.Sprintf("step_%d_failed", step.StepNo), err.Error())
			return nil
		}
	}

	op.complete(db)
	return nil
}

// executeStep performs submit-then-wait-for-validation for one step. A step
// that already carries a tx hash is not resubmitted; its validation wait
// resumes instead.
func executeStep(db *gorm.DB, op *Operation, step *Step) error {
	if step.TxHash != nil && step.Status != nil &&
		(*step.Status == stepStatusSubmitted || *step.Status == stepStatusPendingValidation) {
		return awaitStepValidation(db, step)
	}

	if step.SignerWalletID == nil {
		step.failLocal(db, "no signer resolved for step")
		return nil
	}
	signerID := *step.SignerWalletID

	seed, err := custody.FetchSeed(db, signerID)
	if err != nil {
		step.failLocal(db, fmt.Sprintf("failed to resolve signing material; %s", err.Error()))
		return nil
	}

	tx, err := buildTransaction(db, op, step)
	if err != nil {
		step.failLocal(db, fmt.Sprintf("failed to build ledger transaction; %s", err.Error()))
		return nil
	}

	lapi := ledger.Require()

	var submitErr error
	locker.WithLock(signerID, func() {
		prepared, err := lapi.Prepare(tx)
		if err != nil {
			submitErr = fmt.Errorf("failed to prepare %s transaction; %s", tx.Type, err.Error())
			return
		}

		blob, hash, err := lapi.Sign(prepared, *seed)
		if err != nil {
			submitErr = fmt.Errorf("failed to sign %s transaction; %s", tx.Type, err.Error())
			return
		}

		receipt, err := lapi.Submit(*blob)
		if err != nil {
			submitErr = fmt.Errorf("failed to submit %s transaction; %s", tx.Type, err.Error())
			return
		}

		txHash := receipt.TxHash
		if txHash == "" && hash != nil {
			txHash = *hash
		}

		step.recordSubmission(db, txHash, receipt)
	})

	if submitErr != nil {
		step.failLocal(db, submitErr.Error())
		return nil
	}
	if step.TxHash == nil {
		step.failLocal(db, "submission returned no transaction hash")
		return nil
	}

	return awaitStepValidation(db, step)
}

// awaitStepValidation runs the bounded inline validation wait and settles the
// step from the observed result; on timeout the step is left
// PENDING_VALIDATION for the poller
func awaitStepValidation(db *gorm.DB, step *Step) error {
	step.beginValidationWait(db)

	res, err := awaitValidation(ledger.Require(), *step.TxHash, common.StepPollInterval, common.StepValidationTimeout)
	if err != nil {
		return err
	}

	step.markValidated(db, res)
	return nil
}

// awaitValidation polls the ledger for the given transaction until it
// validates or the wall-clock budget elapses. Lookup errors other than the
// benign not-yet-found signal are logged and treated as transient.
func awaitValidation(lapi ledger.API, txHash string, interval, budget time.Duration) (*ledger.LookupResult, error) {
	deadline := time.Now().Add(budget)

	for {
		res, err := lapi.Lookup(txHash)
		if err != nil {
			common.Log.Debugf("transient failure looking up transaction %s; %s", txHash, err.Error())
		} else if res.Validated {
			return res, nil
		}

		if time.Now().Add(interval).After(deadline) {
			return nil, errValidationTimeout
		}
		time.Sleep(interval)
	}
}

// buildTransaction resolves signer and counterparty addresses and constructs
// the step's unsigned ledger payload
func buildTransaction(db *gorm.DB, op *Operation, step *Step) (*ledger.Transaction, error) {
	signerAddress, err := wallet.ResolveAddress(db, *step.SignerWalletID)
	if err != nil {
		return nil, err
	}

	ctx := &stepContext{
		signerAddress: *signerAddress,
		issuanceID:    op.IssuanceID,
		metadata:      op.Metadata,
	}
	if op.Amount != nil {
		ctx.amount = op.Amount.String()
	}

	if op.DestinationWalletID != nil {
		destination, err := wallet.ResolveAddress(db, *op.DestinationWalletID)
		if err != nil {
			return nil, err
		}
		ctx.destinationAddress = destination

		// for clawback the destination identifies the token holder
		ctx.holderAddress = destination
	}

	return transactionForStep(step, ctx)
}

// ensureIssuanceDiscovered extracts and persists the ledger-assigned issuance
// identifier after the first mint step validates; later steps depend on it
func ensureIssuanceDiscovered(db *gorm.DB, op *Operation, step *Step) error {
	if op.Kind == nil || *op.Kind != operationKindMint || step.StepNo != 1 {
		return nil
	}
	if op.IssuanceID != nil {
		return nil
	}

	issuanceID := step.validatedIssuanceID()
	if issuanceID == nil {
		return fmt.Errorf("failed to extract issuance id from validated mint metadata for operation %s", op.ID)
	}

	if !op.setIssuanceID(db, *issuanceID) {
		// another writer may have won; reload and verify
		refreshed := Find(db, op.ID)
		if refreshed == nil || refreshed.IssuanceID == nil {
			return fmt.Errorf("failed to persist issuance id for operation %s", op.ID)
		}
		op.IssuanceID = refreshed.IssuanceID
	}

	common.Log.Debugf("discovered issuance %s for operation %s", *op.IssuanceID, op.ID)
	return nil
}
