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

package wallet

import (
	"errors"
	"time"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/issuance/common"
	"github.com/provideplatform/issuance/custody"
	"github.com/provideplatform/issuance/ledger"
	provide "github.com/provideplatform/provide-go/api"
)

// ErrNotFound indicates no wallet exists for the requested identifier
var ErrNotFound = errors.New("wallet not found")

// Wallet is a custody record for a user identity; the address is derived from
// the seed at creation and immutable thereafter. The issuer identity is
// virtual and never persisted here.
type Wallet struct {
	provide.Model
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	Address *string `sql:"not null" json:"address"`

	// encrypted seed material; plaintext never leaves the custody boundary
	EncryptedSeed []byte `json:"-"`
	SeedNonce     []byte `json:"-"`
	SeedAuthTag   []byte `json:"-"`
}

// Create derives a keypair for the given seed (generating one when nil),
// encrypts the seed material and persists the custody record
func (w *Wallet) Create(db *gorm.DB, seed *string) bool {
	keypair, err := ledger.Require().ResolveKeyPair(seed)
	if err != nil {
		w.Errors = append(w.Errors, &provide.Error{
			Message: common.StringOrNil(err.Error()),
		})
		return false
	}

	ciphertext, nonce, tag, err := custody.Encrypt([]byte(keypair.Seed))
	if err != nil {
		w.Errors = append(w.Errors, &provide.Error{
			Message: common.StringOrNil(err.Error()),
		})
		return false
	}

	w.Address = common.StringOrNil(keypair.Address)
	w.EncryptedSeed = ciphertext
	w.SeedNonce = nonce
	w.SeedAuthTag = tag

	if db.NewRecord(w) {
		result := db.Create(&w)
		rowsAffected := result.RowsAffected
		errors := result.GetErrors()
		if len(errors) > 0 {
			for _, err := range errors {
				w.Errors = append(w.Errors, &provide.Error{
					Message: common.StringOrNil(err.Error()),
				})
			}
		}
		if !db.NewRecord(w) {
			success := rowsAffected > 0
			if success {
				common.Log.Debugf("initialized wallet %s with address %s", w.ID, *w.Address)
			}
			return success
		}
	}

	return false
}

// Find resolves a persisted wallet by its opaque identifier
func Find(db *gorm.DB, walletID string) *Wallet {
	id, err := uuid.FromString(walletID)
	if err != nil {
		return nil
	}

	w := &Wallet{}
	db.Where("id = ?", id).Find(&w)
	if w.ID == uuid.Nil {
		return nil
	}
	return w
}

// ResolveAddress returns the ledger address for the given wallet identifier;
// the reserved issuer identifier derives its address from the configured seed
func ResolveAddress(db *gorm.DB, walletID string) (*string, error) {
	if walletID == common.IssuerIdentifier {
		return IssuerAddress()
	}

	w := Find(db, walletID)
	if w == nil {
		return nil, ErrNotFound
	}
	return w.Address, nil
}

// IssuerAddress derives the virtual issuer wallet's address on demand
func IssuerAddress() (*string, error) {
	if common.IssuerSeed == nil {
		return nil, custody.ErrIssuerNotConfigured
	}

	keypair, err := ledger.Require().ResolveKeyPair(common.IssuerSeed)
	if err != nil {
		return nil, err
	}
	return common.StringOrNil(keypair.Address), nil
}
