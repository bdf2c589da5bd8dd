package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultClassification(t *testing.T) {
	assert.True(t, IsSuccess("tesSUCCESS"))
	assert.False(t, IsSuccess("tecNO_AUTH"))

	assert.True(t, IsPermanentFailure("tecNO_AUTH"))
	assert.True(t, IsPermanentFailure("temMALFORMED"))
	assert.True(t, IsPermanentFailure("tefPAST_SEQ"))
	assert.False(t, IsPermanentFailure("terQUEUED"))
	assert.False(t, IsPermanentFailure("tesSUCCESS"))
}

func TestTransactionJSONFlattensFields(t *testing.T) {
	tx := &Transaction{
		Type:    TxTypePayment,
		Account: "rSender",
		Fields: map[string]interface{}{
			"Destination": "rReceiver",
			"Amount":      "100",
		},
	}

	payload := tx.JSON()
	assert.Equal(t, TxTypePayment, payload["TransactionType"])
	assert.Equal(t, "rSender", payload["Account"])
	assert.Equal(t, "rReceiver", payload["Destination"])
	assert.Equal(t, "100", payload["Amount"])
}

func TestSandboxKeyPairDerivationIsStable(t *testing.T) {
	sandbox := NewSandbox()

	seed := "sEd7rBGm5kxzauRTAV2hbsNz7N45X91"
	kp1, err := sandbox.ResolveKeyPair(&seed)
	require.Nil(t, err)
	kp2, err := sandbox.ResolveKeyPair(&seed)
	require.Nil(t, err)

	assert.Equal(t, kp1.Address, kp2.Address)
	assert.Equal(t, seed, kp1.Seed)

	generated, err := sandbox.ResolveKeyPair(nil)
	require.Nil(t, err)
	assert.NotEqual(t, kp1.Address, generated.Address)
	assert.NotEmpty(t, generated.Seed)
}

func TestSandboxPrepareAutofillsSequence(t *testing.T) {
	sandbox := NewSandbox()
	kp, err := sandbox.ResolveKeyPair(nil)
	require.Nil(t, err)

	tx := &Transaction{Type: TxTypePayment, Account: kp.Address, Fields: map[string]interface{}{}}

	first, err := sandbox.Prepare(tx)
	require.Nil(t, err)
	second, err := sandbox.Prepare(tx)
	require.Nil(t, err)

	assert.Equal(t, defaultFee, first.Fields["Fee"])
	assert.Equal(t, uint64(1), first.Fields["Sequence"])
	assert.Equal(t, uint64(2), second.Fields["Sequence"])
}

func TestSandboxSubmitAndLookup(t *testing.T) {
	sandbox := NewSandbox()
	kp, err := sandbox.ResolveKeyPair(nil)
	require.Nil(t, err)

	tx := &Transaction{Type: TxTypeIssuanceCreate, Account: kp.Address, Fields: map[string]interface{}{
		"MaximumAmount": "1000",
	}}

	prepared, err := sandbox.Prepare(tx)
	require.Nil(t, err)

	blob, hash, err := sandbox.Sign(prepared, kp.Seed)
	require.Nil(t, err)
	require.NotNil(t, hash)

	receipt, err := sandbox.Submit(*blob)
	require.Nil(t, err)
	assert.Equal(t, *hash, receipt.TxHash)

	res, err := sandbox.Lookup(receipt.TxHash)
	require.Nil(t, err)
	assert.True(t, res.Validated)
	assert.Equal(t, TxResultSuccess, res.Result)
	assert.NotEmpty(t, res.Meta[MetaIssuanceIDKey])

	assert.Equal(t, []string{receipt.TxHash}, sandbox.SubmittedHashes())
}

func TestSandboxLookupHonorsValidationDelay(t *testing.T) {
	sandbox := NewSandbox()
	sandbox.SetDelay(TxTypePayment, time.Millisecond*50)

	kp, err := sandbox.ResolveKeyPair(nil)
	require.Nil(t, err)

	tx := &Transaction{Type: TxTypePayment, Account: kp.Address, Fields: map[string]interface{}{}}
	prepared, err := sandbox.Prepare(tx)
	require.Nil(t, err)
	blob, _, err := sandbox.Sign(prepared, kp.Seed)
	require.Nil(t, err)
	receipt, err := sandbox.Submit(*blob)
	require.Nil(t, err)

	res, err := sandbox.Lookup(receipt.TxHash)
	require.Nil(t, err)
	assert.False(t, res.Validated)

	time.Sleep(time.Millisecond * 60)

	res, err = sandbox.Lookup(receipt.TxHash)
	require.Nil(t, err)
	assert.True(t, res.Validated)
}

func TestSandboxScriptedFailureResult(t *testing.T) {
	sandbox := NewSandbox()
	sandbox.SetResult(TxTypeAuthorize, "tecNO_AUTH")

	kp, err := sandbox.ResolveKeyPair(nil)
	require.Nil(t, err)

	tx := &Transaction{Type: TxTypeAuthorize, Account: kp.Address, Fields: map[string]interface{}{}}
	prepared, err := sandbox.Prepare(tx)
	require.Nil(t, err)
	blob, _, err := sandbox.Sign(prepared, kp.Seed)
	require.Nil(t, err)
	receipt, err := sandbox.Submit(*blob)
	require.Nil(t, err)

	res, err := sandbox.Lookup(receipt.TxHash)
	require.Nil(t, err)
	assert.True(t, res.Validated)
	assert.Equal(t, "tecNO_AUTH", res.Result)
	assert.Nil(t, res.Meta[MetaIssuanceIDKey])
}

func TestSandboxLookupUnknownHash(t *testing.T) {
	sandbox := NewSandbox()

	res, err := sandbox.Lookup("DEADBEEF")
	require.Nil(t, err)
	assert.False(t, res.Validated)
}

func TestSandboxFundAndBalance(t *testing.T) {
	sandbox := NewSandbox()

	_, err := sandbox.Balance("rUnknown")
	assert.Equal(t, ErrAccountNotFound, err)

	kp, err := sandbox.ResolveKeyPair(nil)
	require.Nil(t, err)

	balance, err := sandbox.Balance(kp.Address)
	require.Nil(t, err)
	assert.True(t, balance.IsZero())

	require.Nil(t, sandbox.Fund(kp.Address))

	balance, err = sandbox.Balance(kp.Address)
	require.Nil(t, err)
	assert.True(t, balance.IsPositive())
}
