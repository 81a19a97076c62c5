package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, msg queueMessage) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Queue is satisfied by MemoryQueue and SQSQueue; binaries pick one at startup.
type Queue interface {
	queueClient
}

// queueMessage is one queued job. GroupKey names the patient conversation the job
// belongs to; jobs sharing a key must be handled in send order.
type queueMessage struct {
	ID            string
	GroupKey      string
	Body          string
	ReceiptHandle string
}

// inboundJob is the queue body around one patient message.
type inboundJob struct {
	ID       string         `json:"id"`
	Message  InboundMessage `json:"message"`
	Attempts int            `json:"attempts,omitempty"`
}

// conversationKey identifies a patient's dialogue with one clinic.
func conversationKey(clinicID, phone string) string {
	return clinicID + "|" + phone
}

func encodeJob(job inboundJob) (queueMessage, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return queueMessage{}, fmt.Errorf("conversation: encode job %s: %w", job.ID, err)
	}
	return queueMessage{
		ID:       job.ID,
		GroupKey: conversationKey(job.Message.ClinicID, job.Message.From),
		Body:     string(body),
	}, nil
}

func decodeJob(body string) (inboundJob, error) {
	var job inboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return inboundJob{}, fmt.Errorf("conversation: decode job: %w", err)
	}
	return job, nil
}
