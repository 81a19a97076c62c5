package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := in.Item["messageKey"].(*types.AttributeValueMemberS).Value
	if _, exists := f.items[key]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key["messageKey"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func TestProcessedStoreMarksOnce(t *testing.T) {
	db := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	store := NewProcessedStore(db, "processed-messages", nil)
	ctx := context.Background()

	seen, err := store.AlreadyProcessed(ctx, providerWhatsApp, "wamid.1")
	require.NoError(t, err)
	assert.False(t, seen)

	fresh, err := store.MarkProcessed(ctx, providerWhatsApp, "wamid.1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.MarkProcessed(ctx, providerWhatsApp, "wamid.1")
	require.NoError(t, err)
	assert.False(t, fresh)

	seen, err = store.AlreadyProcessed(ctx, providerWhatsApp, "wamid.1")
	require.NoError(t, err)
	assert.True(t, seen)

	item := db.items["whatsapp#wamid.1"]
	require.NotNil(t, item)
	_, hasTTL := item["expiresAt"].(*types.AttributeValueMemberN)
	assert.True(t, hasTTL)
}

func TestProcessedStorePropagatesErrors(t *testing.T) {
	store := NewProcessedStore(&fakeDynamo{err: errors.New("throttled")}, "t", nil)
	_, err := store.MarkProcessed(context.Background(), providerWhatsApp, "wamid.2")
	assert.Error(t, err)

	_, err = store.MarkProcessed(context.Background(), providerWhatsApp, "")
	assert.Error(t, err)
}
