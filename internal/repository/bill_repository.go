package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/portal/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const billPrefix = "BILL#"

func billSK(id string) string { return billPrefix + id }

type billRecord struct {
	BillID    string     `dynamodbav:"bill_id"`
	Payee     string     `dynamodbav:"payee"`
	Reference string     `dynamodbav:"reference,omitempty"`
	Amount    string     `dynamodbav:"amount"`
	Status    string     `dynamodbav:"status"`
	AccountID string     `dynamodbav:"account_id,omitempty"`
	DueDate   *time.Time `dynamodbav:"due_date,omitempty"`
	PaidAt    *time.Time `dynamodbav:"paid_at,omitempty"`
}

func (r billRecord) model() (models.Bill, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return models.Bill{}, fmt.Errorf("bill %s has invalid amount %q: %w", r.BillID, r.Amount, err)
	}
	status := models.BillStatus(r.Status)
	if !status.Valid() {
		return models.Bill{}, fmt.Errorf("bill %s has invalid status %q", r.BillID, r.Status)
	}
	return models.Bill{
		ID:        r.BillID,
		Kind:      models.BillKindUtility,
		Payee:     r.Payee,
		Reference: r.Reference,
		Amount:    amount,
		Status:    status,
		AccountID: r.AccountID,
		DueDate:   r.DueDate,
		PaidAt:    r.PaidAt,
	}, nil
}

type BillRepository struct {
	client    API
	tableName string
	logger    *logrus.Logger
}

func NewBillRepository(client API, tableName string, logger *logrus.Logger) *BillRepository {
	return &BillRepository{client: client, tableName: tableName, logger: logger}
}

func (r *BillRepository) List(ctx context.Context, phone string) ([]models.Bill, error) {
	var records []billRecord
	if err := queryPrefix(ctx, r.client, r.tableName, models.UserPK(phone), billPrefix, false, &records); err != nil {
		r.logger.WithError(err).Error("Failed to list bills")
		return nil, err
	}

	bills := make([]models.Bill, 0, len(records))
	for _, rec := range records {
		bill, err := rec.model()
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

func (r *BillRepository) Get(ctx context.Context, phone, billID string) (*models.Bill, error) {
	var rec billRecord
	if err := getItem(ctx, r.client, r.tableName, models.UserPK(phone), billSK(billID), &rec); err != nil {
		return nil, err
	}
	bill, err := rec.model()
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// Put creates or replaces a bill. Used for provisioning.
func (r *BillRepository) Put(ctx context.Context, phone string, bill models.Bill) error {
	status := bill.Status
	if status == "" {
		status = models.BillStatusPending
	}
	item, err := attributevalue.MarshalMap(billRecord{
		BillID:    bill.ID,
		Payee:     bill.Payee,
		Reference: bill.Reference,
		Amount:    bill.Amount.String(),
		Status:    string(status),
		AccountID: bill.AccountID,
		DueDate:   bill.DueDate,
		PaidAt:    bill.PaidAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal bill: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: models.UserPK(phone)}
	item["SK"] = &types.AttributeValueMemberS{Value: billSK(bill.ID)}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		r.logger.WithError(err).Error("Failed to put bill")
		return fmt.Errorf("failed to put bill: %w", err)
	}
	return nil
}

// markPaidItem flips a pending bill to paid. A bill that is already paid fails
// the condition and cancels the whole transaction.
func markPaidItem(table, phone, billID, accountID string, paidAt time.Time) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                aws.String(table),
			Key:                      key(models.UserPK(phone), billSK(billID)),
			UpdateExpression:         aws.String("SET #status = :paid, paid_at = :paid_at, account_id = :account"),
			ConditionExpression:      aws.String("#status = :pending"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":paid":    &types.AttributeValueMemberS{Value: string(models.BillStatusPaid)},
				":pending": &types.AttributeValueMemberS{Value: string(models.BillStatusPending)},
				":paid_at": &types.AttributeValueMemberS{Value: paidAt.UTC().Format(time.RFC3339Nano)},
				":account": &types.AttributeValueMemberS{Value: accountID},
			},
		},
	}
}
