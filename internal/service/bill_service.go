package service

import (
	"context"

	"github.com/qcom/portal/internal/models"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type BillStore interface {
	List(ctx context.Context, phone string) ([]models.Bill, error)
}

type PaymentStore interface {
	PayBill(ctx context.Context, phone, billID, accountID string) (*models.Payment, error)
	PayVignette(ctx context.Context, phone string, vignette models.Vignette, accountID string) (*models.Payment, error)
	List(ctx context.Context, phone string) ([]models.Payment, error)
}

type AccountStore interface {
	List(ctx context.Context, phone string) ([]models.Account, error)
}

// BillService serves bills and payments. For binds it to one customer.
type BillService struct {
	bills    BillStore
	payments PaymentStore
	logger   *logrus.Logger
}

func NewBillService(bills BillStore, payments PaymentStore, logger *logrus.Logger) *BillService {
	return &BillService{bills: bills, payments: payments, logger: logger}
}

func (s *BillService) For(phone string) *CustomerBills {
	return &CustomerBills{svc: s, phone: phone}
}

// CustomerBills is the bill service scoped to the signed-in customer.
type CustomerBills struct {
	svc   *BillService
	phone string
}

// GetMoroccanBills lists every bill of the customer, paid or not.
func (c *CustomerBills) GetMoroccanBills(ctx context.Context) ([]models.Bill, error) {
	return c.svc.bills.List(ctx, c.phone)
}

func (c *CustomerBills) Pending(ctx context.Context) ([]models.Bill, error) {
	bills, err := c.GetMoroccanBills(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(bills, func(b models.Bill, _ int) bool {
		return b.Status == models.BillStatusPending
	}), nil
}

func (c *CustomerBills) PayBill(ctx context.Context, billID, accountID string) error {
	_, err := c.svc.payments.PayBill(ctx, c.phone, billID, accountID)
	return err
}

func (c *CustomerBills) PayVignette(ctx context.Context, vignette models.Vignette, accountID string) error {
	_, err := c.svc.payments.PayVignette(ctx, c.phone, vignette, accountID)
	return err
}

func (c *CustomerBills) Receipts(ctx context.Context) ([]models.Payment, error) {
	return c.svc.payments.List(ctx, c.phone)
}

type AccountService struct {
	accounts AccountStore
}

func NewAccountService(accounts AccountStore) *AccountService {
	return &AccountService{accounts: accounts}
}

func (s *AccountService) For(phone string) *CustomerAccounts {
	return &CustomerAccounts{svc: s, phone: phone}
}

type CustomerAccounts struct {
	svc   *AccountService
	phone string
}

func (c *CustomerAccounts) GetAccounts(ctx context.Context) ([]models.Account, error) {
	return c.svc.accounts.List(ctx, c.phone)
}
