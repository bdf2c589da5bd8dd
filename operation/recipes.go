package operation

import (
	"fmt"

	"github.com/provideplatform/issuance/common"
	"github.com/provideplatform/issuance/ledger"
)

// Fixed issuance parameters; callers can no longer vary these
const issuanceAssetScale = 0
const issuanceTransferFee = 0

// stepsForOperation materializes the ordered step templates for the given
// intent kind; steps are created PENDING and numbered from 1
func stepsForOperation(o *Operation) ([]*Step, error) {
	if o.Kind == nil {
		return nil, fmt.Errorf("operation kind required")
	}

	switch *o.Kind {
	case operationKindMint:
		return []*Step{
			newStep(1, stepKindIssuerMint, common.IssuerIdentifier, ledger.TxTypeIssuanceCreate),
			newStep(2, stepKindUserAuthorize, *o.DestinationWalletID, ledger.TxTypeAuthorize),
			newStep(3, stepKindIssuerTransfer, common.IssuerIdentifier, ledger.TxTypePayment),
		}, nil
	case operationKindTransfer:
		return []*Step{
			newStep(1, stepKindReceiverAuthorize, *o.DestinationWalletID, ledger.TxTypeAuthorize),
			newStep(2, stepKindSenderTransfer, *o.SourceWalletID, ledger.TxTypePayment),
		}, nil
	case operationKindBurn:
		return []*Step{
			newStep(1, stepKindIssuerClawback, common.IssuerIdentifier, ledger.TxTypeClawback),
		}, nil
	}

	return nil, fmt.Errorf("unsupported operation kind: %s", *o.Kind)
}

func newStep(stepNo int, kind, signerWalletID, txType string) *Step {
	return &Step{
		StepNo:          stepNo,
		Kind:            common.StringOrNil(kind),
		SignerWalletID:  common.StringOrNil(signerWalletID),
		TransactionType: common.StringOrNil(txType),
		Status:          common.StringOrNil(stepStatusPending),
	}
}

// stepContext carries the resolved addresses and operation parameters a step
// transaction is built from
type stepContext struct {
	signerAddress      string
	destinationAddress *string
	holderAddress      *string
	issuanceID         *string
	amount             string
	metadata           *string
}

// transactionForStep builds the unsigned ledger payload for the given step
// role; address resolution is the caller's concern
func transactionForStep(step *Step, ctx *stepContext) (*ledger.Transaction, error) {
	if step.Kind == nil {
		return nil, fmt.Errorf("step kind required")
	}

	switch *step.Kind {
	case stepKindIssuerMint:
		fields := map[string]interface{}{
			"Flags":         ledger.FlagCanTransfer | ledger.FlagCanClawback,
			"AssetScale":    issuanceAssetScale,
			"TransferFee":   issuanceTransferFee,
			"MaximumAmount": ctx.amount,
		}
		if ctx.metadata != nil {
			fields["MPTokenMetadata"] = *ctx.metadata
		}
		return &ledger.Transaction{
			Type:    ledger.TxTypeIssuanceCreate,
			Account: ctx.signerAddress,
			Fields:  fields,
		}, nil

	case stepKindUserAuthorize, stepKindReceiverAuthorize:
		if ctx.issuanceID == nil {
			return nil, fmt.Errorf("issuance id required to authorize")
		}
		return &ledger.Transaction{
			Type:    ledger.TxTypeAuthorize,
			Account: ctx.signerAddress,
			Fields: map[string]interface{}{
				"MPTokenIssuanceID": *ctx.issuanceID,
			},
		}, nil

	case stepKindIssuerTransfer, stepKindSenderTransfer:
		if ctx.issuanceID == nil {
			return nil, fmt.Errorf("issuance id required for payment")
		}
		if ctx.destinationAddress == nil {
			return nil, fmt.Errorf("destination address required for payment")
		}
		return &ledger.Transaction{
			Type:    ledger.TxTypePayment,
			Account: ctx.signerAddress,
			Fields: map[string]interface{}{
				"Destination": *ctx.destinationAddress,
				"Amount": map[string]interface{}{
					"mpt_issuance_id": *ctx.issuanceID,
					"value":           ctx.amount,
				},
			},
		}, nil

	case stepKindIssuerClawback:
		if ctx.issuanceID == nil {
			return nil, fmt.Errorf("issuance id required for clawback")
		}
		if ctx.holderAddress == nil {
			return nil, fmt.Errorf("holder address required for clawback")
		}
		return &ledger.Transaction{
			Type:    ledger.TxTypeClawback,
			Account: ctx.signerAddress,
			Fields: map[string]interface{}{
				"Holder": *ctx.holderAddress,
				"Amount": map[string]interface{}{
					"mpt_issuance_id": *ctx.issuanceID,
					"value":           ctx.amount,
				},
			},
		}, nil
	}

	return nil, fmt.Errorf("unsupported step kind: %s", *step.Kind)
}
