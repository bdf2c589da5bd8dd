package operation

import (
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	dbconf "github.com/kthomas/go-db-config"
	"github.com/provideplatform/issuance/common"
	"github.com/provideplatform/issuance/ledger"
)

// validationSweepBatchSize bounds the number of in-flight steps reconciled per
// poller pass; rows are revisited oldest-check-first so nothing starves
const validationSweepBatchSize = 10

var (
	pollerOnce sync.Once
	pollerStop chan struct{}
)

// RequireValidationPoller starts the background validation sweep; one instance
// per process, started at boot
func RequireValidationPoller() {
	pollerOnce.Do(func() {
		pollerStop = make(chan struct{})
		go runValidationPoller()
		common.Log.Debugf("validation poller sweeping every %s", common.ValidationSweepInterval)
	})
}

// StopValidationPoller interrupts the sweep loop; the current pass completes
// before the goroutine exits
func StopValidationPoller() {
	if pollerStop != nil {
		close(pollerStop)
	}
}

func runValidationPoller() {
	ticker := time.NewTicker(common.ValidationSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollerStop:
			common.Log.Debug("validation poller exiting")
			return
		case <-ticker.C:
			sweepPendingValidations(dbconf.DatabaseConnection())
		}
	}
}

// sweepPendingValidations re-queries the ledger for steps stuck awaiting
// validation and promotes them to terminal status. SUBMITTED rows with a tx
// hash are treated identically to PENDING_VALIDATION so steps orphaned
// between submit and wait are reconciled after a crash.
func sweepPendingValidations(db *gorm.DB) {
	var steps []*Step
	db.Where(
		"status IN (?) AND tx_hash IS NOT NULL",
		[]string{stepStatusSubmitted, stepStatusPendingValidation},
	).Order("last_checked_at ASC NULLS FIRST").Limit(validationSweepBatchSize).Find(&steps)

	if len(steps) == 0 {
		return
	}
	common.Log.Debugf("validation poller reconciling %d in-flight steps", len(steps))

	for _, step := range steps {
		res, err := ledger.Require().Lookup(*step.TxHash)
		if err != nil {
			common.Log.Warningf("transient failure looking up transaction %s during sweep; %s", *step.TxHash, err.Error())
			step.touch(db)
			continue
		}

		if !res.Validated {
			step.touch(db)
			continue
		}

		if step.markValidated(db, res) {
			finalizeOperation(db, step)
		}
	}
}

// finalizeOperation propagates a step's terminal status to its parent
// operation: all steps validated successfully completes the operation, any
// failed step fails it, and a successfully settled step with later work still
// pending re-dispatches the operation for continued execution
func finalizeOperation(db *gorm.DB, step *Step) {
	if step.OperationID == nil {
		return
	}

	op := Find(db, *step.OperationID)
	if op == nil || op.terminal() {
		return
	}

	if !step.succeeded() {
		msg := fmt.Sprintf("operation failed at step %d (%s)", step.StepNo, *step.Kind)
		if code := step.validatedResultCode(); code != nil {
			msg = fmt.Sprintf("%s; transaction result: %s", msg, *code)
		}
		op.fail(db, fmt.Sprintf("step_%d_failed", step.StepNo), msg)
		return
	}

	if err := ensureIssuanceDiscovered(db, op, step); err != nil {
		op.fail(db, fmt.Sprintf("step_%d_failed", step.StepNo), err.Error())
		return
	}

	steps := op.LoadSteps(db)
	settled := 0
	for _, s := range steps {
		if s.succeeded() {
			settled++
		} else if s.Status != nil && *s.Status == stepStatusValidatedFailed {
			// another step already failed; leave finalization to its sweep
			return
		}
	}

	if settled == len(steps) {
		op.complete(db)
		return
	}

	dispatchOperation(op)
}
