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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	dbconf "github.com/kthomas/go-db-config"
	uuid "github.com/kthomas/go.uuid"
	"github.com/provideplatform/issuance/common"
	provide "github.com/provideplatform/provide-go/common"
	"github.com/shopspring/decimal"
)

// deprecatedMintParams are rejected outright; the values they once carried are
// fixed internally (assetScale=0, maximumAmount=amount, transferFee=0, issuer
// from process configuration)
var deprecatedMintParams = []string{"issuerWalletId", "assetScale", "maximumAmount", "transferFee"}

// InstallAPI registers the operation API handlers with gin
func InstallAPI(r *gin.Engine) {
	r.POST("/api/operations/mint", mintOperationHandler)
	r.POST("/api/operations/transfer", transferOperationHandler)
	r.POST("/api/operations/burn", burnOperationHandler)
	r.GET("/api/operations", listOperationsHandler)
	r.GET("/api/operations/:id", operationDetailsHandler)
}

func parseIntentParams(c *gin.Context) map[string]interface{} {
	buf, err := c.GetRawData()
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return nil
	}

	params := map[string]interface{}{}
	err = json.Unmarshal(buf, &params)
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return nil
	}

	common.Log.Debugf("received intent: %v", common.Redact(params))
	return params
}

func requireStringParam(c *gin.Context, params map[string]interface{}, key string) *string {
	val, ok := params[key].(string)
	if !ok || val == "" {
		provide.RenderError(fmt.Sprintf("%s is required", key), 400, c)
		return nil
	}
	return &val
}

// requireAmountParam parses the amount as an arbitrary-precision decimal
// integer; fractional or non-positive values are rejected
func requireAmountParam(c *gin.Context, params map[string]interface{}) *decimal.Decimal {
	raw, ok := params["amount"].(string)
	if !ok || raw == "" {
		provide.RenderError("amount is required", 400, c)
		return nil
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		provide.RenderError(fmt.Sprintf("failed to parse amount; %s", err.Error()), 400, c)
		return nil
	}
	if !amount.IsInteger() || amount.Sign() <= 0 {
		provide.RenderError("amount must be a positive integer", 400, c)
		return nil
	}

	return &amount
}

// submit a mint intent; creates a three-step operation
func mintOperationHandler(c *gin.Context) {
	params := parseIntentParams(c)
	if params == nil {
		return
	}

	deprecated := make([]string, 0)
	for _, key := range deprecatedMintParams {
		if _, ok := params[key]; ok {
			deprecated = append(deprecated, key)
		}
	}
	if len(deprecated) > 0 {
		provide.RenderError(fmt.Sprintf("deprecated parameters no longer accepted: %s", strings.Join(deprecated, ", ")), 400, c)
		return
	}

	idempotencyKey := requireStringParam(c, params, "idempotencyKey")
	if idempotencyKey == nil {
		return
	}
	userWalletID := requireStringParam(c, params, "userWalletId")
	if userWalletID == nil {
		return
	}
	amount := requireAmountParam(c, params)
	if amount == nil {
		return
	}

	var metadata *string
	if _metadata, metadataOk := params["metadata"].(string); metadataOk {
		metadata = &_metadata
	}

	op := &Operation{
		Kind:                common.StringOrNil(operationKindMint),
		IdempotencyKey:      idempotencyKey,
		SourceWalletID:      common.StringOrNil(common.IssuerIdentifier),
		DestinationWalletID: userWalletID,
		Amount:              amount,
		Metadata:            metadata,
		Status:              common.StringOrNil(operationStatusPending),
	}

	acceptOperation(c, op)
}

// submit a transfer intent; creates a two-step operation
func transferOperationHandler(c *gin.Context) {
	params := parseIntentParams(c)
	if params == nil {
		return
	}

	idempotencyKey := requireStringParam(c, params, "idempotencyKey")
	if idempotencyKey == nil {
		return
	}
	sourceWalletID := requireStringParam(c, params, "sourceWalletId")
	if sourceWalletID == nil {
		return
	}
	destinationWalletID := requireStringParam(c, params, "destinationWalletId")
	if destinationWalletID == nil {
		return
	}
	issuanceID := requireStringParam(c, params, "issuanceId")
	if issuanceID == nil {
		return
	}
	amount := requireAmountParam(c, params)
	if amount == nil {
		return
	}

	op := &Operation{
		Kind:                common.StringOrNil(operationKindTransfer),
		IdempotencyKey:      idempotencyKey,
		IssuanceID:          issuanceID,
		SourceWalletID:      sourceWalletID,
		DestinationWalletID: destinationWalletID,
		Amount:              amount,
		Status:              common.StringOrNil(operationStatusPending),
	}

	acceptOperation(c, op)
}

// submit a burn intent; creates a single-step clawback operation
func burnOperationHandler(c *gin.Context) {
	params := parseIntentParams(c)
	if params == nil {
		return
	}

	idempotencyKey := requireStringParam(c, params, "idempotencyKey")
	if idempotencyKey == nil {
		return
	}

	// issuerWalletId is optional and accepted for API compatibility; when present
	// it must be the reserved issuer identifier, any other value is rejected
	if issuerWalletID, issuerOk := params["issuerWalletId"].(string); issuerOk && issuerWalletID != common.IssuerIdentifier {
		provide.RenderError(fmt.Sprintf("issuerWalletId must be %s", common.IssuerIdentifier), 400, c)
		return
	}

	holderWalletID := requireStringParam(c, params, "holderWalletId")
	if holderWalletID == nil {
		return
	}
	issuanceID := requireStringParam(c, params, "issuanceId")
	if issuanceID == nil {
		return
	}
	amount := requireAmountParam(c, params)
	if amount == nil {
		return
	}

	op := &Operation{
		Kind:                common.StringOrNil(operationKindBurn),
		IdempotencyKey:      idempotencyKey,
		IssuanceID:          issuanceID,
		SourceWalletID:      common.StringOrNil(common.IssuerIdentifier),
		DestinationWalletID: holderWalletID,
		Amount:              amount,
		Status:              common.StringOrNil(operationStatusPending),
	}

	acceptOperation(c, op)
}

// acceptOperation enforces idempotency, materializes the operation and its
// steps atomically and dispatches async execution. Identical retries return
// the existing operation with a 200.
func acceptOperation(c *gin.Context, op *Operation) {
	db := dbconf.DatabaseConnection()

	if existing := FindByIdempotencyKey(db, *op.IdempotencyKey); existing != nil {
		renderOperation(c, db, existing, 200)
		return
	}

	tx := db.Begin()
	if tx.Error != nil {
		provide.RenderError(tx.Error.Error(), 500, c)
		return
	}

	if !op.create(tx) {
		tx.Rollback()

		// a concurrent identical intent may have won the unique-constraint
		// race; the losing insert becomes a read of the winner
		if existing := FindByIdempotencyKey(db, *op.IdempotencyKey); existing != nil {
			renderOperation(c, db, existing, 200)
			return
		}

		msg := "failed to create operation"
		if len(op.Errors) > 0 && op.Errors[0].Message != nil {
			msg = *op.Errors[0].Message
		}
		provide.RenderError(msg, 500, c)
		return
	}

	result := tx.Commit()
	if result.Error != nil {
		if existing := FindByIdempotencyKey(db, *op.IdempotencyKey); existing != nil {
			renderOperation(c, db, existing, 200)
			return
		}
		provide.RenderError(result.Error.Error(), 500, c)
		return
	}

	common.Log.Debugf("accepted %s operation %s with %d steps", *op.Kind, op.ID, len(op.Steps))
	dispatchOperation(op)

	provide.Render(map[string]interface{}{
		"operationId": op.ID,
		"status":      op.Status,
		"steps":       op.Steps,
	}, 201, c)
}

func renderOperation(c *gin.Context, db *gorm.DB, op *Operation, status int) {
	provide.Render(map[string]interface{}{
		"operationId": op.ID,
		"status":      op.Status,
		"steps":       op.LoadSteps(db),
	}, status, c)
}

// fetch full operation status including steps; ?status=true elides steps
func operationDetailsHandler(c *gin.Context) {
	operationID, err := uuid.FromString(c.Param("id"))
	if err != nil {
		provide.RenderError("operation not found", 404, c)
		return
	}

	db := dbconf.DatabaseConnection()
	op := Find(db, operationID)
	if op == nil {
		provide.RenderError("operation not found", 404, c)
		return
	}

	if strings.ToLower(c.Query("status")) != "true" {
		op.Steps = op.LoadSteps(db)
	}

	provide.Render(op, 200, c)
}

// list/query operations
func listOperationsHandler(c *gin.Context) {
	db := dbconf.DatabaseConnection()
	query := db.Select("operations.*").Order("operations.created_at DESC")

	if status := c.Query("status"); status != "" {
		query = query.Where("operations.status = ?", strings.ToUpper(status))
	}
	if kind := c.Query("kind"); kind != "" {
		query = query.Where("operations.kind = ?", strings.ToUpper(kind))
	}

	var operations []*Operation
	provide.Paginate(c, query, &Operation{}).Find(&operations)
	provide.Render(operations, 200, c)
}
