package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeySchema names a table's partition key and optional sort key.
type KeySchema struct {
	PartitionKey string
	SortKey      string
}

// MemoryDynamo is an in-process DynamoAPI for local runs and tests. It only
// understands the "#pk = :pk" key condition that Table.QueryPartition issues.
type MemoryDynamo struct {
	mu      sync.RWMutex
	schemas map[string]KeySchema
	tables  map[string]map[string]map[string]types.AttributeValue
}

var _ DynamoAPI = (*MemoryDynamo)(nil)

func NewMemoryDynamo(schemas map[string]KeySchema) *MemoryDynamo {
	return &MemoryDynamo{
		schemas: schemas,
		tables:  make(map[string]map[string]map[string]types.AttributeValue),
	}
}

func (m *MemoryDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, err := m.itemID(aws.ToString(in.TableName), in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[aws.ToString(in.TableName)][id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (m *MemoryDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := aws.ToString(in.TableName)
	id, err := m.itemID(table, in.Item)
	if err != nil {
		return nil, err
	}
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]map[string]types.AttributeValue)
	}
	m.tables[table][id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *MemoryDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := aws.ToString(in.TableName)
	id, err := m.itemID(table, in.Key)
	if err != nil {
		return nil, err
	}
	delete(m.tables[table], id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *MemoryDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table := aws.ToString(in.TableName)
	schema, ok := m.schemas[table]
	if !ok {
		return nil, fmt.Errorf("memorydynamo: unknown table %s", table)
	}
	if aws.ToString(in.KeyConditionExpression) != "#pk = :pk" || in.ExpressionAttributeNames["#pk"] != schema.PartitionKey {
		return nil, fmt.Errorf("memorydynamo: unsupported key condition on %s", table)
	}
	want, ok := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("memorydynamo: partition value must be a string")
	}

	ids := make([]string, 0)
	for id, item := range m.tables[table] {
		if pk, ok := item[schema.PartitionKey].(*types.AttributeValueMemberS); ok && pk.Value == want.Value {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := &dynamodb.QueryOutput{Items: make([]map[string]types.AttributeValue, 0, len(ids))}
	for _, id := range ids {
		out.Items = append(out.Items, m.tables[table][id])
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (m *MemoryDynamo) itemID(table string, item map[string]types.AttributeValue) (string, error) {
	schema, ok := m.schemas[table]
	if !ok {
		return "", fmt.Errorf("memorydynamo: unknown table %s", table)
	}
	pk, ok := item[schema.PartitionKey].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("memorydynamo: %s requires string key %s", table, schema.PartitionKey)
	}
	if schema.SortKey == "" {
		return pk.Value, nil
	}
	sk, ok := item[schema.SortKey].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("memorydynamo: %s requires string key %s", table, schema.SortKey)
	}
	return pk.Value + "\x00" + sk.Value, nil
}
