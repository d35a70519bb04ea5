package service

import (
	"context"
	"testing"

	"github.com/qcom/portal/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type memBills map[string][]models.Bill

func (m memBills) List(_ context.Context, phone string) ([]models.Bill, error) {
	return m[phone], nil
}

type recordingPayments struct {
	phones    []string
	billIDs   []string
	vignettes []models.Vignette
}

func (r *recordingPayments) PayBill(_ context.Context, phone, billID, accountID string) (*models.Payment, error) {
	r.phones = append(r.phones, phone)
	r.billIDs = append(r.billIDs, billID)
	return &models.Payment{BillID: billID, AccountID: accountID}, nil
}

func (r *recordingPayments) PayVignette(_ context.Context, phone string, v models.Vignette, accountID string) (*models.Payment, error) {
	r.phones = append(r.phones, phone)
	r.vignettes = append(r.vignettes, v)
	return &models.Payment{AccountID: accountID, Amount: v.Amount}, nil
}

func (r *recordingPayments) List(context.Context, string) ([]models.Payment, error) {
	return nil, nil
}

func TestCustomerBills_ScopedToPhone(t *testing.T) {
	bills := memBills{
		"+212600000001": {
			{ID: "b1", Status: models.BillStatusPending, Amount: decimal.NewFromInt(10)},
			{ID: "b2", Status: models.BillStatusPaid, Amount: decimal.NewFromInt(20)},
		},
		"+212600000002": {{ID: "x", Status: models.BillStatusPending}},
	}
	payments := &recordingPayments{}
	svc := NewBillService(bills, payments, logrus.New()).For("+212600000001")
	ctx := context.Background()

	all, err := svc.GetMoroccanBills(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("GetMoroccanBills() = %v, %v, want 2 bills", all, err)
	}

	pending, err := svc.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "b1" {
		t.Errorf("Pending() = %+v, want only b1", pending)
	}

	if err := svc.PayBill(ctx, "b1", "1"); err != nil {
		t.Fatalf("PayBill() error = %v", err)
	}
	if err := svc.PayVignette(ctx, models.Vignette{Matricule: "1-A-2", Amount: decimal.NewFromInt(350)}, "1"); err != nil {
		t.Fatalf("PayVignette() error = %v", err)
	}
	for _, phone := range payments.phones {
		if phone != "+212600000001" {
			t.Errorf("payment made for %q, want +212600000001", phone)
		}
	}
}
