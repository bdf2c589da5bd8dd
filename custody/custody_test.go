package custody

import (
	"testing"

	"github.com/provideplatform/issuance/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTestMasterKey(t *testing.T) {
	key, err := common.RandomBytes(32)
	require.Nil(t, err)
	common.EncryptionMasterKey = key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	requireTestMasterKey(t)

	plaintext := []byte("sEdTM1uX8pu2do5XvTnutH6HsouMaM2")

	ciphertext, nonce, tag, err := Encrypt(plaintext)
	require.Nil(t, err)
	assert.Len(t, nonce, 12)
	assert.Len(t, tag, 16)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(ciphertext, nonce, tag)
	require.Nil(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptFailsWithTamperedCiphertext(t *testing.T) {
	requireTestMasterKey(t)

	ciphertext, nonce, tag, err := Encrypt([]byte("super secret seed material"))
	require.Nil(t, err)

	ciphertext[0] ^= 0xff
	_, err = Decrypt(ciphertext, nonce, tag)
	assert.NotNil(t, err)
}

func TestDecryptFailsWithTamperedTag(t *testing.T) {
	requireTestMasterKey(t)

	ciphertext, nonce, tag, err := Encrypt([]byte("super secret seed material"))
	require.Nil(t, err)

	tag[len(tag)-1] ^= 0x01
	_, err = Decrypt(ciphertext, nonce, tag)
	assert.NotNil(t, err)
}

func TestDecryptFailsUnderDifferentKey(t *testing.T) {
	requireTestMasterKey(t)

	ciphertext, nonce, tag, err := Encrypt([]byte("super secret seed material"))
	require.Nil(t, err)

	requireTestMasterKey(t) // rotate
	_, err = Decrypt(ciphertext, nonce, tag)
	assert.NotNil(t, err)
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	requireTestMasterKey(t)

	_, nonce1, _, err := Encrypt([]byte("seed"))
	require.Nil(t, err)
	_, nonce2, _, err := Encrypt([]byte("seed"))
	require.Nil(t, err)

	assert.NotEqual(t, nonce1, nonce2)
}

func TestFetchSeedResolvesConfiguredIssuer(t *testing.T) {
	seed := "sEd7rBGm5kxzauRTAV2hbsNz7N45X91"
	common.IssuerSeed = &seed
	defer func() { common.IssuerSeed = nil }()

	resolved, err := FetchSeed(nil, common.IssuerIdentifier)
	require.Nil(t, err)
	assert.Equal(t, seed, *resolved)
}

func TestFetchSeedFailsWithoutIssuerConfiguration(t *testing.T) {
	common.IssuerSeed = nil

	_, err := FetchSeed(nil, common.IssuerIdentifier)
	assert.Equal(t, ErrIssuerNotConfigured, err)
}

func TestStoreSeedRejectsReservedIdentifier(t *testing.T) {
	requireTestMasterKey(t)

	err := StoreSeed(nil, common.IssuerIdentifier, "sEd7rBGm5kxzauRTAV2hbsNz7N45X91")
	assert.Equal(t, ErrReservedIdentifier, err)
}

func TestCacheEviction(t *testing.T) {
	cacheMutex.Lock()
	cache["wallet-1"] = &cachedSeed{plaintext: "seed-1"}
	cache["wallet-2"] = &cachedSeed{plaintext: "seed-2"}
	cacheMutex.Unlock()

	Clear("wallet-1")

	cacheMutex.RLock()
	_, oneOk := cache["wallet-1"]
	_, twoOk := cache["wallet-2"]
	cacheMutex.RUnlock()
	assert.False(t, oneOk)
	assert.True(t, twoOk)

	ClearAll()

	cacheMutex.RLock()
	remaining := len(cache)
	cacheMutex.RUnlock()
	assert.Equal(t, 0, remaining)
}
