// Package docstore reads tenant documents from DynamoDB and fronts them with a Redis cache.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// maxQueryPages bounds a single partition read; scenario pools are small.
const maxQueryPages = 20

// DynamoAPI is the subset of the DynamoDB client the stores use.
type DynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Table wraps one DynamoDB table.
type Table struct {
	client DynamoAPI
	name   string
	logger *logging.Logger
}

func NewTable(client DynamoAPI, name string, logger *logging.Logger) *Table {
	if client == nil {
		panic("docstore: dynamodb client cannot be nil")
	}
	if name == "" {
		panic("docstore: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Table{client: client, name: name, logger: logger}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Get loads one item into out. found is false when the key does not exist.
func (t *Table) Get(ctx context.Context, key map[string]string, out any) (bool, error) {
	resp, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.name),
		Key:       stringKey(key),
	})
	if err != nil {
		return false, fmt.Errorf("docstore: get from %s: %w", t.name, err)
	}
	if resp.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(resp.Item, out); err != nil {
		return false, fmt.Errorf("docstore: decode item from %s: %w", t.name, err)
	}
	return true, nil
}

// Put writes item, replacing any existing item with the same key.
func (t *Table) Put(ctx context.Context, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("docstore: marshal item for %s: %w", t.name, err)
	}
	if _, err := t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.name),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("docstore: put into %s: %w", t.name, err)
	}
	return nil
}

// Delete removes the item at key. Missing items are not an error.
func (t *Table) Delete(ctx context.Context, key map[string]string) error {
	if _, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.name),
		Key:       stringKey(key),
	}); err != nil {
		return fmt.Errorf("docstore: delete from %s: %w", t.name, err)
	}
	return nil
}

// QueryPartition reads every item whose partition key equals value into out,
// which must be a pointer to a slice.
func (t *Table) QueryPartition(ctx context.Context, keyName, value string, out any) error {
	if keyName == "" || value == "" {
		return errors.New("docstore: partition key and value required")
	}
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for page := 0; page < maxQueryPages; page++ {
		resp, err := t.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(t.name),
			KeyConditionExpression:    aws.String("#pk = :pk"),
			ExpressionAttributeNames:  map[string]string{"#pk": keyName},
			ExpressionAttributeValues: map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: value}},
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return fmt.Errorf("docstore: query %s: %w", t.name, err)
		}
		items = append(items, resp.Items...)
		if len(resp.LastEvaluatedKey) == 0 {
			startKey = nil
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	if startKey != nil {
		t.logger.Warn("docstore: partition truncated", "table", t.name, "key", value, "pages", maxQueryPages)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("docstore: decode items from %s: %w", t.name, err)
	}
	return nil
}

func stringKey(key map[string]string) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(key))
	for k, v := range key {
		out[k] = &types.AttributeValueMemberS{Value: v}
	}
	return out
}
