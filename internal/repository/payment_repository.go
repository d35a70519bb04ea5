package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/qcom/portal/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const paymentPrefix = "PAYMENT#"

// paymentSK sorts receipts chronologically within the customer partition.
func paymentSK(createdAt time.Time, id string) string {
	return paymentPrefix + createdAt.UTC().Format(time.RFC3339Nano) + "#" + id
}

type paymentRecord struct {
	PaymentID   string    `dynamodbav:"payment_id"`
	Kind        string    `dynamodbav:"kind"`
	BillID      string    `dynamodbav:"bill_id,omitempty"`
	AccountID   string    `dynamodbav:"account_id"`
	Amount      string    `dynamodbav:"amount"`
	Description string    `dynamodbav:"description"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
}

func (r paymentRecord) model() (models.Payment, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return models.Payment{}, fmt.Errorf("payment %s has invalid amount %q: %w", r.PaymentID, r.Amount, err)
	}
	return models.Payment{
		ID:          r.PaymentID,
		Kind:        models.BillKind(r.Kind),
		BillID:      r.BillID,
		AccountID:   r.AccountID,
		Amount:      amount,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// PaymentRepository debits accounts and records receipts. Every payment is a
// single DynamoDB transaction: the bill flip, the debit and the receipt land
// together or not at all.
type PaymentRepository struct {
	client    API
	tableName string
	accounts  *AccountRepository
	bills     *BillRepository
	logger    *logrus.Logger
	now       func() time.Time
}

func NewPaymentRepository(client API, tableName string, accounts *AccountRepository, bills *BillRepository, logger *logrus.Logger) *PaymentRepository {
	return &PaymentRepository{
		client:    client,
		tableName: tableName,
		accounts:  accounts,
		bills:     bills,
		logger:    logger,
		now:       time.Now,
	}
}

// PayBill settles a pending bill from accountID.
func (r *PaymentRepository) PayBill(ctx context.Context, phone, billID, accountID string) (*models.Payment, error) {
	bill, err := r.bills.Get(ctx, phone, billID)
	if err != nil {
		return nil, fmt.Errorf("load bill %s: %w", billID, err)
	}
	if bill.Status == models.BillStatusPaid {
		return nil, ErrBillAlreadyPaid
	}

	account, err := r.accounts.record(ctx, phone, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}

	debit, err := debitItem(r.tableName, phone, account, bill.Amount)
	if err != nil {
		return nil, err
	}

	now := r.now()
	payment := models.Payment{
		ID:          uuid.New().String(),
		Kind:        models.BillKindUtility,
		BillID:      bill.ID,
		AccountID:   account.AccountID,
		Amount:      bill.Amount,
		Description: bill.Payee,
		CreatedAt:   now.UTC(),
	}
	receipt, err := r.receiptItem(phone, payment)
	if err != nil {
		return nil, err
	}

	items := []types.TransactWriteItem{
		markPaidItem(r.tableName, phone, bill.ID, account.AccountID, now),
		debit,
		receipt,
	}
	if err := r.commit(ctx, items); err != nil {
		r.logger.WithError(err).WithField("bill_id", billID).Error("Bill payment transaction failed")
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"bill_id":    bill.ID,
		"account_id": account.AccountID,
	}).Info("Bill paid")
	return &payment, nil
}

// PayVignette debits the vignette amount. There is no stored bill to flip.
func (r *PaymentRepository) PayVignette(ctx context.Context, phone string, vignette models.Vignette, accountID string) (*models.Payment, error) {
	if !vignette.Amount.IsPositive() {
		return nil, fmt.Errorf("vignette amount must be positive, got %s", vignette.Amount)
	}

	account, err := r.accounts.record(ctx, phone, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}

	debit, err := debitItem(r.tableName, phone, account, vignette.Amount)
	if err != nil {
		return nil, err
	}

	payment := models.Payment{
		ID:          uuid.New().String(),
		Kind:        models.BillKindVignette,
		AccountID:   account.AccountID,
		Amount:      vignette.Amount,
		Description: fmt.Sprintf("Vignette %s - %s", vignette.Type, vignette.Matricule),
		CreatedAt:   r.now().UTC(),
	}
	receipt, err := r.receiptItem(phone, payment)
	if err != nil {
		return nil, err
	}

	if err := r.commit(ctx, []types.TransactWriteItem{debit, receipt}); err != nil {
		r.logger.WithError(err).WithField("matricule", vignette.Matricule).Error("Vignette payment transaction failed")
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"matricule":  vignette.Matricule,
		"account_id": account.AccountID,
	}).Info("Vignette paid")
	return &payment, nil
}

// List returns receipts newest first.
func (r *PaymentRepository) List(ctx context.Context, phone string) ([]models.Payment, error) {
	var records []paymentRecord
	if err := queryPrefix(ctx, r.client, r.tableName, models.UserPK(phone), paymentPrefix, true, &records); err != nil {
		r.logger.WithError(err).Error("Failed to list payments")
		return nil, err
	}

	payments := make([]models.Payment, 0, len(records))
	for _, rec := range records {
		payment, err := rec.model()
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

func (r *PaymentRepository) receiptItem(phone string, payment models.Payment) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(paymentRecord{
		PaymentID:   payment.ID,
		Kind:        string(payment.Kind),
		BillID:      payment.BillID,
		AccountID:   payment.AccountID,
		Amount:      payment.Amount.String(),
		Description: payment.Description,
		CreatedAt:   payment.CreatedAt,
	})
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to marshal payment: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: models.UserPK(phone)}
	item["SK"] = &types.AttributeValueMemberS{Value: paymentSK(payment.CreatedAt, payment.ID)}

	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}, nil
}

func (r *PaymentRepository) commit(ctx context.Context, items []types.TransactWriteItem) error {
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err == nil {
		return nil
	}
	if mapped := transactionCanceled(err); errors.Is(mapped, ErrConflict) {
		return mapped
	}
	return fmt.Errorf("failed to commit payment: %w", err)
}
