package operation

import (
	"testing"

	"github.com/provideplatform/issuance/common"
	"github.com/provideplatform/issuance/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintOperationFactory() *Operation {
	amount := decimal.NewFromInt(1000)
	return &Operation{
		Kind:                common.StringOrNil(operationKindMint),
		IdempotencyKey:      common.StringOrNil(common.RandomString(16)),
		SourceWalletID:      common.StringOrNil(common.IssuerIdentifier),
		DestinationWalletID: common.StringOrNil("9f1c7d0e-1111-2222-3333-444455556666"),
		Amount:              &amount,
	}
}

func TestStepsForMintOperation(t *testing.T) {
	steps, err := stepsForOperation(mintOperationFactory())
	require.Nil(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, 1, steps[0].StepNo)
	assert.Equal(t, stepKindIssuerMint, *steps[0].Kind)
	assert.Equal(t, common.IssuerIdentifier, *steps[0].SignerWalletID)
	assert.Equal(t, ledger.TxTypeIssuanceCreate, *steps[0].TransactionType)

	assert.Equal(t, 2, steps[1].StepNo)
	assert.Equal(t, stepKindUserAuthorize, *steps[1].Kind)
	assert.Equal(t, "9f1c7d0e-1111-2222-3333-444455556666", *steps[1].SignerWalletID)
	assert.Equal(t, ledger.TxTypeAuthorize, *steps[1].TransactionType)

	assert.Equal(t, 3, steps[2].StepNo)
	assert.Equal(t, stepKindIssuerTransfer, *steps[2].Kind)
	assert.Equal(t, common.IssuerIdentifier, *steps[2].SignerWalletID)
	assert.Equal(t, ledger.TxTypePayment, *steps[2].TransactionType)

	for _, step := range steps {
		assert.Equal(t, stepStatusPending, *step.Status)
	}
}

func TestStepsForTransferOperation(t *testing.T) {
	amount := decimal.NewFromInt(50)
	op := &Operation{
		Kind:                common.StringOrNil(operationKindTransfer),
		IssuanceID:          common.StringOrNil("00000ACE"),
		SourceWalletID:      common.StringOrNil("source-wallet"),
		DestinationWalletID: common.StringOrNil("destination-wallet"),
		Amount:              &amount,
	}

	steps, err := stepsForOperation(op)
	require.Nil(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, stepKindReceiverAuthorize, *steps[0].Kind)
	assert.Equal(t, "destination-wallet", *steps[0].SignerWalletID)
	assert.Equal(t, stepKindSenderTransfer, *steps[1].Kind)
	assert.Equal(t, "source-wallet", *steps[1].SignerWalletID)
}

func TestStepsForBurnOperation(t *testing.T) {
	amount := decimal.NewFromInt(25)
	op := &Operation{
		Kind:                common.StringOrNil(operationKindBurn),
		IssuanceID:          common.StringOrNil("00000ACE"),
		SourceWalletID:      common.StringOrNil(common.IssuerIdentifier),
		DestinationWalletID: common.StringOrNil("holder-wallet"),
		Amount:              &amount,
	}

	steps, err := stepsForOperation(op)
	require.Nil(t, err)
	require.Len(t, steps, 1)

	assert.Equal(t, stepKindIssuerClawback, *steps[0].Kind)
	assert.Equal(t, common.IssuerIdentifier, *steps[0].SignerWalletID)
	assert.Equal(t, ledger.TxTypeClawback, *steps[0].TransactionType)
}

func TestStepsForUnknownKind(t *testing.T) {
	_, err := stepsForOperation(&Operation{Kind: common.StringOrNil("REDEEM")})
	assert.NotNil(t, err)
}

func TestTransactionForIssuerMintStep(t *testing.T) {
	step := newStep(1, stepKindIssuerMint, common.IssuerIdentifier, ledger.TxTypeIssuanceCreate)
	metadata := "6d65746164617461"

	tx, err := transactionForStep(step, &stepContext{
		signerAddress: "rIssuer",
		amount:        "1000",
		metadata:      &metadata,
	})
	require.Nil(t, err)

	assert.Equal(t, ledger.TxTypeIssuanceCreate, tx.Type)
	assert.Equal(t, "rIssuer", tx.Account)
	assert.Equal(t, 96, tx.Fields["Flags"])
	assert.Equal(t, 0, tx.Fields["AssetScale"])
	assert.Equal(t, 0, tx.Fields["TransferFee"])
	assert.Equal(t, "1000", tx.Fields["MaximumAmount"])
	assert.Equal(t, metadata, tx.Fields["MPTokenMetadata"])
}

func TestTransactionForAuthorizeStepRequiresIssuance(t *testing.T) {
	step := newStep(2, stepKindUserAuthorize, "user-wallet", ledger.TxTypeAuthorize)

	_, err := transactionForStep(step, &stepContext{signerAddress: "rUser"})
	assert.NotNil(t, err)

	issuanceID := "00000ACE"
	tx, err := transactionForStep(step, &stepContext{
		signerAddress: "rUser",
		issuanceID:    &issuanceID,
	})
	require.Nil(t, err)
	assert.Equal(t, issuanceID, tx.Fields["MPTokenIssuanceID"])
}

func TestTransactionForPaymentStep(t *testing.T) {
	step := newStep(3, stepKindIssuerTransfer, common.IssuerIdentifier, ledger.TxTypePayment)

	issuanceID := "00000ACE"
	destination := "rUser"
	tx, err := transactionForStep(step, &stepContext{
		signerAddress:      "rIssuer",
		destinationAddress: &destination,
		issuanceID:         &issuanceID,
		amount:             "1000",
	})
	require.Nil(t, err)

	assert.Equal(t, "rUser", tx.Fields["Destination"])
	amount := tx.Fields["Amount"].(map[string]interface{})
	assert.Equal(t, issuanceID, amount["mpt_issuance_id"])
	assert.Equal(t, "1000", amount["value"])
}

func TestTransactionForClawbackStep(t *testing.T) {
	step := newStep(1, stepKindIssuerClawback, common.IssuerIdentifier, ledger.TxTypeClawback)

	issuanceID := "00000ACE"
	holder := "rHolder"
	tx, err := transactionForStep(step, &stepContext{
		signerAddress: "rIssuer",
		holderAddress: &holder,
		issuanceID:    &issuanceID,
		amount:        "25",
	})
	require.Nil(t, err)

	assert.Equal(t, "rHolder", tx.Fields["Holder"])
	amount := tx.Fields["Amount"].(map[string]interface{})
	assert.Equal(t, "25", amount["value"])
}
