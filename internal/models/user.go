package models

import (
	"time"
)

type User struct {
	PhoneNumber string    `json:"phone_number" dynamodbav:"phone_number"`
	Name        string    `json:"name,omitempty" dynamodbav:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return UserPK(u.PhoneNumber)
}

func (u *User) GetSK() string {
	return "PROFILE"
}

// UserPK is the partition shared by a customer's profile, accounts, bills and payments.
func UserPK(phoneNumber string) string {
	return "USER#" + phoneNumber
}
