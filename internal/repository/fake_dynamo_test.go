package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo keeps items in memory. It understands the key shapes and the
// condition and update expressions the repositories use. Transactions are
// recorded and applied all or nothing.
type fakeDynamo struct {
	mu           sync.Mutex
	items        map[string]map[string]types.AttributeValue
	transactions []*dynamodb.TransactWriteItemsInput
	transactErr  error
	// beforeCommit runs with the lock held, ahead of the condition checks.
	beforeCommit func(items map[string]map[string]types.AttributeValue)
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return str(item["PK"]) + "|" + str(item["SK"])
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := itemKey(in.Item)
	if in.ConditionExpression != nil && *in.ConditionExpression == "attribute_not_exists(PK)" {
		if _, exists := f.items[k]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := str(in.ExpressionAttributeValues[":pk"])
	prefix := str(in.ExpressionAttributeValues[":prefix"])

	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if str(item["PK"]) == pk && strings.HasPrefix(str(item["SK"]), prefix) {
			out = append(out, item)
		}
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(out, func(i, j int) bool {
		if forward {
			return str(out[i]["SK"]) < str(out[j]["SK"])
		}
		return str(out[i]["SK"]) > str(out[j]["SK"])
	})
	return &dynamodb.QueryOutput{Items: out}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	f.transactions = append(f.transactions, in)
	if f.beforeCommit != nil {
		f.beforeCommit(f.items)
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			_, exists := f.items[itemKey(ti.Put.Item)]
			if exists && aws.ToString(ti.Put.ConditionExpression) == "attribute_not_exists(PK)" {
				return nil, &types.TransactionCanceledException{Message: aws.String("put condition failed")}
			}
		case ti.Update != nil:
			u := ti.Update
			item, ok := f.items[itemKey(u.Key)]
			if !ok {
				return nil, &types.TransactionCanceledException{Message: aws.String("update target missing")}
			}
			if u.ConditionExpression != nil {
				attr, val := splitAssign(*u.ConditionExpression, u.ExpressionAttributeNames)
				if str(item[attr]) != str(u.ExpressionAttributeValues[val]) {
					return nil, &types.TransactionCanceledException{Message: aws.String("update condition failed")}
				}
			}
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[itemKey(ti.Put.Item)] = ti.Put.Item
		case ti.Update != nil:
			u := ti.Update
			updated := map[string]types.AttributeValue{}
			for k, v := range f.items[itemKey(u.Key)] {
				updated[k] = v
			}
			for _, clause := range strings.Split(strings.TrimPrefix(aws.ToString(u.UpdateExpression), "SET "), ",") {
				attr, val := splitAssign(clause, u.ExpressionAttributeNames)
				updated[attr] = u.ExpressionAttributeValues[val]
			}
			f.items[itemKey(u.Key)] = updated
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// splitAssign reads "name = :value", resolving #placeholders.
func splitAssign(expr string, names map[string]string) (string, string) {
	attr, val, _ := strings.Cut(expr, "=")
	attr, val = strings.TrimSpace(attr), strings.TrimSpace(val)
	if resolved, ok := names[attr]; ok {
		attr = resolved
	}
	return attr, val
}
