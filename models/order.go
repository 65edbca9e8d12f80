package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawOrderRecord is a single order row as fetched from the order store,
// joined with the menu table for its category. Records are immutable once
// fetched for a pipeline run.
type RawOrderRecord struct {
	OrderID    string          `json:"order_id"`
	ItemID     int             `json:"item_id"`
	ItemName   string          `json:"item_name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Timestamp  time.Time       `json:"timestamp"`
	Category   string          `json:"category"`
	Phone      string          `json:"phone,omitempty"`
	OrderType  string          `json:"order_type,omitempty"`
}

// CleanOrderRecord is an order row that survived the cleaning filters:
// no exact duplicates, no future timestamps, a normalized non-empty
// category and a total price inside the batch outlier band.
type CleanOrderRecord RawOrderRecord

// Raw converts back to the raw representation, used when a cleaned batch
// is fed through the filters again.
func (c CleanOrderRecord) Raw() RawOrderRecord {
	return RawOrderRecord(c)
}

// CleanBatch is one pipeline run's worth of cleaned order rows, handed to
// the archive writer.
type CleanBatch struct {
	BatchID   string             `json:"batch_id"`
	Records   []CleanOrderRecord `json:"records"`
	FetchedAt time.Time          `json:"fetched_at"`
}
