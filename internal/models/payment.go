package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the receipt written in the same transaction as the account debit.
type Payment struct {
	ID          string          `json:"id"`
	Kind        BillKind        `json:"kind"`
	BillID      string          `json:"bill_id,omitempty"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
