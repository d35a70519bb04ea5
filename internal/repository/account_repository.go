package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/portal/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const accountPrefix = "ACCOUNT#"

func accountSK(id string) string { return accountPrefix + id }

// accountRecord stores the balance as a decimal string so it survives the
// round trip without float rounding.
type accountRecord struct {
	AccountID string `dynamodbav:"account_id"`
	Label     string `dynamodbav:"label"`
	Phone     string `dynamodbav:"phone"`
	Balance   string `dynamodbav:"balance"`
	Currency  string `dynamodbav:"currency"`
}

func (r accountRecord) model() (models.Account, error) {
	balance, err := decimal.NewFromString(r.Balance)
	if err != nil {
		return models.Account{}, fmt.Errorf("account %s has invalid balance %q: %w", r.AccountID, r.Balance, err)
	}
	return models.Account{
		ID:       r.AccountID,
		Label:    r.Label,
		Phone:    r.Phone,
		Balance:  balance,
		Currency: r.Currency,
	}, nil
}

type AccountRepository struct {
	client    API
	tableName string
	logger    *logrus.Logger
}

func NewAccountRepository(client API, tableName string, logger *logrus.Logger) *AccountRepository {
	return &AccountRepository{client: client, tableName: tableName, logger: logger}
}

// List returns the customer's accounts in account id order.
func (r *AccountRepository) List(ctx context.Context, phone string) ([]models.Account, error) {
	var records []accountRecord
	if err := queryPrefix(ctx, r.client, r.tableName, models.UserPK(phone), accountPrefix, false, &records); err != nil {
		r.logger.WithError(err).Error("Failed to list accounts")
		return nil, err
	}

	accounts := make([]models.Account, 0, len(records))
	for _, rec := range records {
		account, err := rec.model()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// record returns the account as stored, balance text included.
func (r *AccountRepository) record(ctx context.Context, phone, accountID string) (accountRecord, error) {
	var rec accountRecord
	if err := getItem(ctx, r.client, r.tableName, models.UserPK(phone), accountSK(accountID), &rec); err != nil {
		return accountRecord{}, err
	}
	return rec, nil
}

// Put creates or replaces an account. Used for provisioning.
func (r *AccountRepository) Put(ctx context.Context, phone string, account models.Account) error {
	item, err := attributevalue.MarshalMap(accountRecord{
		AccountID: account.ID,
		Label:     account.Label,
		Phone:     account.Phone,
		Balance:   account.Balance.String(),
		Currency:  account.Currency,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: models.UserPK(phone)}
	item["SK"] = &types.AttributeValueMemberS{Value: accountSK(account.ID)}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		r.logger.WithError(err).Error("Failed to put account")
		return fmt.Errorf("failed to put account: %w", err)
	}
	return nil
}

// debitItem moves the balance from its current value to balance-amount. The
// condition compares against the stored text, not a re-rendered decimal, so
// "500.00" still matches; concurrent debits fail instead of overdrawing.
func debitItem(table, phone string, rec accountRecord, amount decimal.Decimal) (types.TransactWriteItem, error) {
	account, err := rec.model()
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	if account.Balance.LessThan(amount) {
		return types.TransactWriteItem{}, ErrInsufficientFunds
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(table),
			Key:                 key(models.UserPK(phone), accountSK(account.ID)),
			UpdateExpression:    aws.String("SET balance = :new"),
			ConditionExpression: aws.String("balance = :old"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":new": &types.AttributeValueMemberS{Value: account.Balance.Sub(amount).String()},
				":old": &types.AttributeValueMemberS{Value: rec.Balance},
			},
		},
	}, nil
}
