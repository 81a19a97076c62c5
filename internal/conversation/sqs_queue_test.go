package conversation

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent    []string
	inputs  []*sqs.SendMessageInput
	deleted []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{}
	for i, body := range f.sent {
		if int32(i) >= in.MaxNumberOfMessages {
			break
		}
		out.Messages = append(out.Messages, sqstypes.Message{
			MessageId:     aws.String(body),
			Body:          aws.String(body),
			ReceiptHandle: aws.String("rh-" + body),
			Attributes:    map[string]string{"MessageGroupId": aws.ToString(f.inputs[i].MessageGroupId)},
		})
	}
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueRoundTrip(t *testing.T) {
	client := &fakeSQS{}
	q := NewSQSQueue(client, "https://sqs.local/000000000000/inbound")
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, queueMessage{ID: "1", Body: "a"}))
	require.NoError(t, q.Send(ctx, queueMessage{ID: "2", Body: "b"}))
	assert.Nil(t, client.inputs[0].MessageGroupId)

	msgs, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Body)

	require.NoError(t, q.Delete(ctx, msgs[0].ReceiptHandle))
	require.NoError(t, q.Delete(ctx, ""))
	assert.Equal(t, []string{"rh-a"}, client.deleted)
}

func TestSQSQueueFIFOGroupsByConversation(t *testing.T) {
	client := &fakeSQS{}
	q := NewSQSQueue(client, "https://sqs.local/000000000000/inbound.fifo")
	ctx := context.Background()

	qm, err := encodeJob(inboundJob{ID: "wamid.1", Message: InboundMessage{ClinicID: "clinic-1", From: "+15550001"}})
	require.NoError(t, err)
	require.NoError(t, q.Send(ctx, qm))

	in := client.inputs[0]
	assert.Equal(t, "clinic-1|+15550001", aws.ToString(in.MessageGroupId))
	assert.Equal(t, "wamid.1", aws.ToString(in.MessageDeduplicationId))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "clinic-1|+15550001", msgs[0].GroupKey)

	assert.Error(t, q.Send(ctx, queueMessage{Body: "no group"}))
}
