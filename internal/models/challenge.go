package models

import "time"

// OperationKind names the action a challenge confirms.
type OperationKind string

const (
	OperationLogin           OperationKind = "LOGIN"
	OperationBillPayment     OperationKind = "BILL_PAYMENT"
	OperationVignettePayment OperationKind = "VIGNETTE_PAYMENT"
)

// OperationPayload is the operation a code is requested for. It travels with the
// challenge but is not re-checked on verification.
type OperationPayload struct {
	BillID      string `json:"bill_id,omitempty"`
	Amount      string `json:"amount,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// Challenge is a pending SMS code, keyed by its server-issued validation id.
type Challenge struct {
	ValidationID string           `json:"validation_id"`
	Kind         OperationKind    `json:"kind"`
	Payload      OperationPayload `json:"payload"`
	Phone        string           `json:"phone"`
	CodeHash     string           `json:"code_hash"`
	Attempts     int              `json:"attempts"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
}
