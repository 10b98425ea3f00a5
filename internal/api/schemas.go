package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
)

const maxBodyBytes = 1 << 20

const orderCodeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["orderId", "code"],
  "properties": {
    "orderId": { "type": "string", "minLength": 1 },
    "code": { "type": "string", "minLength": 1, "maxLength": 64 }
  }
}`

const orderSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["orderId"],
  "properties": {
    "orderId": { "type": "string", "minLength": 1 }
  }
}`

const couponPreviewSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["code"],
  "properties": {
    "code": { "type": "string", "minLength": 1, "maxLength": 64 },
    "cartSubtotal": { "type": ["number", "null"], "minimum": 0 },
    "vendorIds": { "type": "array", "items": { "type": "string" } },
    "productIds": { "type": "array", "items": { "type": "string" } }
  }
}`

const couponRedeemSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["code", "orderId"],
  "properties": {
    "code": { "type": "string", "minLength": 1, "maxLength": 64 },
    "orderId": { "type": "string", "minLength": 1 }
  }
}`

const refundOverrideSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": { "type": "string", "enum": ["approve", "reject"] },
    "admin_notes": { "type": ["string", "null"], "maxLength": 2000 }
  }
}`

const discardSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "reason": { "type": "string", "maxLength": 500 }
  }
}`

var (
	orderCodeRequest      = mustSchema(orderCodeSchema)
	orderRequest          = mustSchema(orderSchema)
	couponPreviewRequest  = mustSchema(couponPreviewSchema)
	couponRedeemRequest   = mustSchema(couponRedeemSchema)
	refundOverrideRequest = mustSchema(refundOverrideSchema)
	discardRequest        = mustSchema(discardSchema)
)

func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// decodeBody validates the request body against schema and unmarshals it
// into dst. An empty body is treated as an empty object.
func decodeBody(r *http.Request, schema *gojsonschema.Schema, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.NewInvalidInputError("Could not read request body")
	}
	defer r.Body.Close()

	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperrors.NewInvalidInputError("Invalid request payload")
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return apperrors.NewInvalidInputError("Validation failed: " + strings.Join(details, "; "))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.NewInvalidInputError("Invalid request payload")
	}

	return nil
}
