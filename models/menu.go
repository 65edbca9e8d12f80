package models

import "github.com/shopspring/decimal"

// MenuItem is a catalog entry managed through the admin API.
type MenuItem struct {
	ID        int             `json:"id"`
	ItemName  string          `json:"item_name"`
	Category  string          `json:"category"`
	ItemPrice decimal.Decimal `json:"item_price"`
}
