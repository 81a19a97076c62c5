package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

const processedTTL = 72 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// processedRecord marks a provider message as handled.
type processedRecord struct {
	Key         string `dynamodbav:"messageKey"`
	Provider    string `dynamodbav:"provider"`
	MessageID   string `dynamodbav:"messageId"`
	ProcessedAt string `dynamodbav:"processedAt"`
	ExpiresAt   int64  `dynamodbav:"expiresAt"`
}

// ProcessedStore deduplicates webhook deliveries in DynamoDB. The table's TTL attribute
// is expiresAt.
type ProcessedStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

// NewProcessedStore builds a store backed by the provided DynamoDB client.
func NewProcessedStore(client dynamoAPI, tableName string, logger *logging.Logger) *ProcessedStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ProcessedStore{client: client, tableName: tableName, logger: logger, now: time.Now}
}

func processedKey(provider, messageID string) string {
	return provider + "#" + messageID
}

// AlreadyProcessed reports whether the message was marked before.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, messageID string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"messageKey": &types.AttributeValueMemberS{Value: processedKey(provider, messageID)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("conversation: failed to read processed message: %w", err)
	}
	return out.Item != nil, nil
}

// MarkProcessed records the message and returns false when it was already recorded.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, messageID string) (bool, error) {
	if messageID == "" {
		return false, errors.New("conversation: message id required")
	}
	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(processedRecord{
		Key:         processedKey(provider, messageID),
		Provider:    provider,
		MessageID:   messageID,
		ProcessedAt: now.Format(time.RFC3339Nano),
		ExpiresAt:   now.Add(processedTTL).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("conversation: failed to marshal processed record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(messageKey)"),
	})
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conversation: failed to mark message processed: %w", err)
	}
	return true, nil
}

// MemoryProcessedStore is the in-process stand-in used when no table is configured.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryProcessedStore creates an empty store.
func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: map[string]struct{}{}}
}

func (m *MemoryProcessedStore) AlreadyProcessed(_ context.Context, provider, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[processedKey(provider, messageID)]
	return ok, nil
}

func (m *MemoryProcessedStore) MarkProcessed(_ context.Context, provider, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := processedKey(provider, messageID)
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}
