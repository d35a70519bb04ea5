package models

import "github.com/shopspring/decimal"

// Account is a customer bank account. Phone is where confirmation codes are sent.
type Account struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Phone    string          `json:"phone"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}
