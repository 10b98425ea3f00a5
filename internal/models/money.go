package models

import "github.com/shopspring/decimal"

// Amounts are written as JSON numbers, the same form request bodies use for
// them. The digits come from the decimal itself, so no precision is lost.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}
