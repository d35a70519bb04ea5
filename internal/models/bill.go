package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillStatusPending BillStatus = "pending"
	BillStatusPaid    BillStatus = "paid"
)

func (s BillStatus) Valid() bool {
	return s == BillStatusPending || s == BillStatusPaid
}

type BillKind string

const (
	BillKindUtility  BillKind = "utility"
	BillKindVignette BillKind = "vignette"
)

// Bill is a payable item. Vignette bills are synthesized on the fly and carry
// the vehicle details instead of a stored identifier.
type Bill struct {
	ID        string          `json:"id"`
	Kind      BillKind        `json:"kind"`
	Payee     string          `json:"payee"`
	Reference string          `json:"reference,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Status    BillStatus      `json:"status"`
	AccountID string          `json:"account_id,omitempty"`
	DueDate   *time.Time      `json:"due_date,omitempty"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	Vignette  *Vignette       `json:"vignette,omitempty"`
}

// Vignette is the annual vehicle tax paid by registration number.
type Vignette struct {
	Matricule string          `json:"matricule"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
}
