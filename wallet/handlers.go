package wallet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	dbconf "github.com/kthomas/go-db-config"
	redisutil "github.com/kthomas/go-redisutil"
	"github.com/provideplatform/issuance/common"
	"github.com/provideplatform/issuance/ledger"
	provide "github.com/provideplatform/provide-go/common"
	"github.com/shopspring/decimal"
)

const balanceCacheTTL = time.Second * 15

// InstallAPI registers the wallet API handlers with gin
func InstallAPI(r *gin.Engine) {
	r.POST("/api/wallets", createWalletHandler)
	r.GET("/api/wallets/:id", walletDetailsHandler)
	r.POST("/api/wallets/:id/fund", fundWalletHandler)
	r.GET("/api/wallets/:id/balance", walletBalanceHandler)
}

// create a user wallet, optionally importing a caller-supplied seed
func createWalletHandler(c *gin.Context) {
	params := map[string]interface{}{}
	if buf, err := c.GetRawData(); err == nil && len(buf) > 0 {
		err = json.Unmarshal(buf, &params)
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}
	}

	var seed *string
	if _seed, seedOk := params["seed"].(string); seedOk {
		seed = &_seed
	}

	db := dbconf.DatabaseConnection()

	w := &Wallet{}
	if w.Create(db, seed) {
		provide.Render(w, 201, c)
	} else {
		msg := "failed to create wallet"
		if len(w.Errors) > 0 && w.Errors[0].Message != nil {
			msg = *w.Errors[0].Message
		}
		provide.RenderError(msg, 500, c)
	}
}

// fetch wallet details; the reserved issuer identifier resolves the virtual wallet
func walletDetailsHandler(c *gin.Context) {
	walletID := c.Param("id")

	if walletID == common.IssuerIdentifier {
		address, err := IssuerAddress()
		if err != nil {
			provide.RenderError(err.Error(), 500, c)
			return
		}
		provide.Render(map[string]interface{}{
			"id":      common.IssuerIdentifier,
			"address": address,
			"virtual": true,
		}, 200, c)
		return
	}

	db := dbconf.DatabaseConnection()
	w := Find(db, walletID)
	if w == nil {
		provide.RenderError("wallet not found", 404, c)
		return
	}

	provide.Render(w, 200, c)
}

// faucet-fund a wallet; test networks only and never the issuer
func fundWalletHandler(c *gin.Context) {
	walletID := c.Param("id")

	if walletID == common.IssuerIdentifier {
		provide.RenderError("issuer wallet cannot be faucet-funded", 400, c)
		return
	}

	if common.LedgerNetwork == "mainnet" {
		provide.RenderError("faucet funding unavailable on mainnet", 400, c)
		return
	}

	db := dbconf.DatabaseConnection()
	w := Find(db, walletID)
	if w == nil {
		provide.RenderError("wallet not found", 404, c)
		return
	}

	err := ledger.Require().Fund(*w.Address)
	if err != nil {
		provide.RenderError(err.Error(), 500, c)
		return
	}

	provide.Render(map[string]interface{}{
		"wallet_id": w.ID,
		"address":   w.Address,
		"funded":    true,
	}, 200, c)
}

// fetch the ledger balance for a wallet; reads are cached briefly
func walletBalanceHandler(c *gin.Context) {
	walletID := c.Param("id")

	db := dbconf.DatabaseConnection()
	address, err := ResolveAddress(db, walletID)
	if err != nil {
		provide.RenderError("wallet not found", 404, c)
		return
	}

	cacheKey := fmt.Sprintf("wallet.balance.%s", *address)
	if cached, _ := redisutil.Get(cacheKey); cached != nil {
		if balance, err := decimal.NewFromString(*cached); err == nil {
			provide.Render(map[string]interface{}{
				"address": address,
				"balance": balance,
			}, 200, c)
			return
		}
	}

	balance, err := ledger.Require().Balance(*address)
	if err != nil {
		if err == ledger.ErrAccountNotFound {
			provide.RenderError("account not found on ledger", 404, c)
			return
		}
		provide.RenderError(err.Error(), 500, c)
		return
	}

	ttl := balanceCacheTTL
	redisutil.Set(cacheKey, balance.String(), &ttl)

	provide.Render(map[string]interface{}{
		"address": address,
		"balance": balance,
	}, 200, c)
}
