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

package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/provideplatform/issuance/common"
)

const nonceSize = 12
const authTagSize = 16

const cacheSweepInterval = time.Minute * 1

// ErrNotFound indicates no custody record exists for the requested identity
var ErrNotFound = errors.New("wallet not found")

// ErrIntegrity indicates stored seed material failed decryption or authentication
var ErrIntegrity = errors.New("failed to authenticate custodied seed material")

// ErrReservedIdentifier indicates an attempt to custody material under the
// reserved issuer identifier
var ErrReservedIdentifier = errors.New("issuer identifier is reserved")

// ErrIssuerNotConfigured indicates the process has no issuer seed configured
var ErrIssuerNotConfigured = errors.New("issuer seed not configured")

type cachedSeed struct {
	plaintext string
	expiresAt time.Time
}

var (
	cacheMutex sync.RWMutex
	cache      = map[string]*cachedSeed{}

	sweepOnce sync.Once
)

func requireCacheSweep() {
	sweepOnce.Do(func() {
		go func() {
			for {
				time.Sleep(cacheSweepInterval)
				sweepCache()
			}
		}()
	})
}

func sweepCache() {
	cacheMutex.Lock()
	defer cacheMutex.Unlock()
	now := time.Now()
	for id, entry := range cache {
		if now.After(entry.expiresAt) {
			delete(cache, id)
		}
	}
}

// FetchSeed resolves the plaintext seed for the given identity. The reserved
// issuer identifier resolves to the configured issuer seed without touching
// storage or cache; user identities are decrypted from durable storage through
// a bounded TTL cache.
func FetchSeed(db *gorm.DB, walletID string) (*string, error) {
	if walletID == common.IssuerIdentifier {
		if common.IssuerSeed == nil {
			return nil, ErrIssuerNotConfigured
		}
		return common.IssuerSeed, nil
	}

	requireCacheSweep()

	cacheMutex.RLock()
	if entry, ok := cache[walletID]; ok && time.Now().Before(entry.expiresAt) {
		seed := entry.plaintext
		cacheMutex.RUnlock()
		return &seed, nil
	}
	cacheMutex.RUnlock()

	var ciphertext, nonce, tag []byte
	rows, err := db.Raw("SELECT encrypted_seed, seed_nonce, seed_auth_tag FROM wallets WHERE id = ?", walletID).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve custody record for wallet %s; %s", walletID, err.Error())
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	err = rows.Scan(&ciphertext, &nonce, &tag)
	if err != nil {
		return nil, fmt.Errorf("failed to scan custody record for wallet %s; %s", walletID, err.Error())
	}

	plaintext, err := Decrypt(ciphertext, nonce, tag)
	if err != nil {
		common.Log.Warningf("failed to decrypt custodied seed for wallet %s; %s", walletID, err.Error())
		return nil, ErrIntegrity
	}

	seed := string(plaintext)

	cacheMutex.Lock()
	cache[walletID] = &cachedSeed{
		plaintext: seed,
		expiresAt: time.Now().Add(common.SecretCacheTTL),
	}
	cacheMutex.Unlock()

	return &seed, nil
}

// StoreSeed encrypts the given plaintext under the process master key and
// persists it to the identity's custody record; rejected for the issuer
func StoreSeed(db *gorm.DB, walletID, seed string) error {
	if walletID == common.IssuerIdentifier {
		return ErrReservedIdentifier
	}

	ciphertext, nonce, tag, err := Encrypt([]byte(seed))
	if err != nil {
		return err
	}

	result := db.Exec(
		"UPDATE wallets SET encrypted_seed = ?, seed_nonce = ?, seed_auth_tag = ?, updated_at = now() WHERE id = ?",
		ciphertext, nonce, tag, walletID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	cacheMutex.Lock()
	cache[walletID] = &cachedSeed{
		plaintext: seed,
		expiresAt: time.Now().Add(common.SecretCacheTTL),
	}
	cacheMutex.Unlock()

	return nil
}

// Clear evicts the given identity from the seed cache; storage is untouched
func Clear(walletID string) {
	cacheMutex.Lock()
	defer cacheMutex.Unlock()
	delete(cache, walletID)
}

// ClearAll evicts every cached seed; storage is untouched
func ClearAll() {
	cacheMutex.Lock()
	defer cacheMutex.Unlock()
	cache = map[string]*cachedSeed{}
}

// Encrypt seals the plaintext with AES-256-GCM under the process master key,
// returning ciphertext, a fresh 12-byte nonce and the 16-byte auth tag
func Encrypt(plaintext []byte) ([]byte, []byte, []byte, error) {
	gcm, err := requireAEAD()
	if err != nil {
		return nil, nil, nil, err
	}

	nonce, err := common.RandomBytes(nonceSize)
	if err != nil {
		return nil, nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	boundary := len(sealed) - authTagSize

	return sealed[:boundary], nonce, sealed[boundary:], nil
}

// Decrypt opens ciphertext sealed by Encrypt; authentication failure yields an error
func Decrypt(ciphertext, nonce, tag []byte) ([]byte, error) {
	gcm, err := requireAEAD()
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	return gcm.Open(nil, nonce, sealed, nil)
}

func requireAEAD() (cipher.AEAD, error) {
	if len(common.EncryptionMasterKey) != 32 {
		return nil, errors.New("encryption master key not configured")
	}

	block, err := aes.NewCipher(common.EncryptionMasterKey)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
