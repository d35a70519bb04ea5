// Package billpay sequences a payment behind an SMS confirmation: request a
// challenge, wait for the code, verify it, then pay and refresh the bills.
package billpay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/qcom/portal/internal/models"
	"github.com/qcom/portal/internal/notify"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoAccount     = errors.New("no account available")
	ErrInvalidAmount = errors.New("amount must be a positive number")
)

type ValidationService interface {
	RequestSmsValidation(ctx context.Context, kind models.OperationKind, payload models.OperationPayload, phone string) (string, error)
	VerifySmsCode(ctx context.Context, validationID, code string) (bool, error)
}

type BillService interface {
	GetMoroccanBills(ctx context.Context) ([]models.Bill, error)
	PayBill(ctx context.Context, billID, accountID string) error
	PayVignette(ctx context.Context, vignette models.Vignette, accountID string) error
}

type AccountService interface {
	GetAccounts(ctx context.Context) ([]models.Account, error)
}

// State is the orchestrator's selection, as rendered by the client.
type State struct {
	SelectedBill      *models.Bill `json:"selected_bill"`
	ShowOTPModal      bool         `json:"show_otp_modal"`
	SMSValidationID   string       `json:"sms_validation_id,omitempty"`
	SelectedAccountID string       `json:"selected_account_id,omitempty"`
}

// Orchestrator holds one challenge at a time. A second PayBill overwrites the
// selection of the first.
type Orchestrator struct {
	validation ValidationService
	bills      BillService
	notifier   notify.Notifier
	logger     *logrus.Entry
	onModal    func(open bool)

	billsQuery    *Query[[]models.Bill]
	accountsQuery *Query[[]models.Account]

	mu                sync.Mutex
	selectedBill      *models.Bill
	showOTPModal      bool
	smsValidationID   string
	selectedAccountID string
}

type Option func(*Orchestrator)

// WithModalHook is called whenever the confirmation modal opens or closes.
func WithModalHook(fn func(open bool)) Option {
	return func(o *Orchestrator) { o.onModal = fn }
}

func New(
	validation ValidationService,
	bills BillService,
	accounts AccountService,
	notifier notify.Notifier,
	logger *logrus.Entry,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		validation:    validation,
		bills:         bills,
		notifier:      notifier,
		logger:        logger,
		billsQuery:    NewQuery(bills.GetMoroccanBills),
		accountsQuery: NewQuery(accounts.GetAccounts),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Bills(ctx context.Context) ([]models.Bill, error) {
	return o.billsQuery.Get(ctx)
}

func (o *Orchestrator) Accounts(ctx context.Context) ([]models.Account, error) {
	return o.accountsQuery.Get(ctx)
}

// BillsQuery exposes the bill cache, mostly for its counters.
func (o *Orchestrator) BillsQuery() *Query[[]models.Bill] {
	return o.billsQuery
}

// PayBill requests a code for paying bill from the first account.
func (o *Orchestrator) PayBill(ctx context.Context, bill models.Bill) error {
	return o.requestChallenge(ctx, models.OperationBillPayment, bill, func(account models.Account) models.OperationPayload {
		return models.OperationPayload{
			BillID:    bill.ID,
			Amount:    bill.Amount.StringFixed(2),
			AccountID: account.ID,
		}
	})
}

// PayVignette requests a code for a vignette payment. amount must parse to a
// positive number.
func (o *Orchestrator) PayVignette(ctx context.Context, matricule, vignetteType, amount string) error {
	amt, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil || !amt.IsPositive() {
		o.notifier.Error("Invalid amount", "Enter an amount greater than zero.")
		return ErrInvalidAmount
	}

	description := fmt.Sprintf("Vignette %s - %s", vignetteType, matricule)
	bill := models.Bill{
		ID:     "vignette:" + matricule,
		Kind:   models.BillKindVignette,
		Payee:  description,
		Amount: amt,
		Status: models.BillStatusPending,
		Vignette: &models.Vignette{
			Matricule: matricule,
			Type:      vignetteType,
			Amount:    amt,
		},
	}

	return o.requestChallenge(ctx, models.OperationVignettePayment, bill, func(account models.Account) models.OperationPayload {
		return models.OperationPayload{
			Amount:      amt.StringFixed(2),
			AccountID:   account.ID,
			Description: description,
		}
	})
}

func (o *Orchestrator) requestChallenge(
	ctx context.Context,
	kind models.OperationKind,
	bill models.Bill,
	payload func(models.Account) models.OperationPayload,
) error {
	accounts, err := o.accountsQuery.Get(ctx)
	if err != nil {
		o.notifier.Error("Accounts unavailable", "We could not load your accounts. Please try again.")
		return fmt.Errorf("load accounts: %w", err)
	}

	account, ok := lo.First(accounts)
	if !ok {
		o.notifier.Error("No account available", "You need an account to make this payment.")
		return ErrNoAccount
	}

	validationID, err := o.validation.RequestSmsValidation(ctx, kind, payload(account), account.Phone)
	if err != nil {
		o.logger.WithError(err).WithField("bill_id", bill.ID).Error("Failed to request SMS validation")
		o.notifier.Error("Code not sent", "We could not send the confirmation code. Please try again.")
		return fmt.Errorf("request sms validation: %w", err)
	}

	o.mu.Lock()
	o.selectedBill = &bill
	o.selectedAccountID = account.ID
	o.smsValidationID = validationID
	o.showOTPModal = true
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"bill_id":       bill.ID,
		"account_id":    account.ID,
		"validation_id": validationID,
	}).Info("Payment awaiting SMS confirmation")
	o.notifier.Info("Code sent", "Enter the 6-digit code we sent to "+maskPhone(account.Phone)+".")

	if o.onModal != nil {
		o.onModal(true)
	}
	return nil
}

// ValidateOTP verifies code against the pending challenge and, when accepted,
// pays the selected bill from the selected account. Errors from the validation
// or bill service are returned to the caller.
func (o *Orchestrator) ValidateOTP(ctx context.Context, code string) (bool, error) {
	o.mu.Lock()
	bill := o.selectedBill
	validationID := o.smsValidationID
	accountID := o.selectedAccountID
	o.mu.Unlock()

	if bill == nil || validationID == "" || accountID == "" {
		return false, nil
	}

	ok, err := o.validation.VerifySmsCode(ctx, validationID, code)
	if err != nil {
		return false, fmt.Errorf("verify sms code: %w", err)
	}
	if !ok {
		return false, nil
	}

	if bill.Kind == models.BillKindVignette && bill.Vignette != nil {
		err = o.bills.PayVignette(ctx, *bill.Vignette, accountID)
	} else {
		err = o.bills.PayBill(ctx, bill.ID, accountID)
	}
	if err != nil {
		o.logger.WithError(err).WithField("bill_id", bill.ID).Error("Payment failed after confirmation")
		o.notifier.Error("Payment failed", "Your payment could not be completed.")
		return false, fmt.Errorf("pay bill %s: %w", bill.ID, err)
	}

	if _, err := o.billsQuery.Refetch(ctx); err != nil {
		o.logger.WithError(err).Warn("Failed to refetch bills after payment")
	}
	o.accountsQuery.Invalidate()

	o.notifier.Success("Payment successful", fmt.Sprintf("%s paid (%s).", bill.Payee, bill.Amount.StringFixed(2)))
	o.CloseModal()
	return true, nil
}

// CloseModal dismisses the confirmation modal and forgets the selection.
func (o *Orchestrator) CloseModal() {
	o.mu.Lock()
	wasOpen := o.showOTPModal
	o.selectedBill = nil
	o.smsValidationID = ""
	o.selectedAccountID = ""
	o.showOTPModal = false
	o.mu.Unlock()

	if wasOpen && o.onModal != nil {
		o.onModal(false)
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	var bill *models.Bill
	if o.selectedBill != nil {
		b := *o.selectedBill
		bill = &b
	}
	return State{
		SelectedBill:      bill,
		ShowOTPModal:      o.showOTPModal,
		SMSValidationID:   o.smsValidationID,
		SelectedAccountID: o.selectedAccountID,
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
