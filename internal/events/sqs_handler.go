package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSHandler forwards outbox entries to an SQS queue. The stored envelope is the body;
// event type and clinic ride along as message attributes for subscription filters.
type SQSHandler struct {
	client   sqsSender
	queueURL string
}

func NewSQSHandler(client sqsSender, queueURL string) *SQSHandler {
	if client == nil {
		panic("events: sqs client required")
	}
	if queueURL == "" {
		panic("events: queue url required")
	}
	return &SQSHandler{client: client, queueURL: queueURL}
}

func (h *SQSHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	_, err := h.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"clinic_id":  {DataType: aws.String("String"), StringValue: aws.String(entry.ClinicID)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: sqs send %s: %w", entry.ID, err)
	}
	return nil
}
