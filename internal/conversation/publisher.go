package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Publisher enqueues inbound messages for the conversation worker.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueInbound publishes one patient message. The job id reuses the WhatsApp message
// id so redeliveries can be recognised downstream, and the patient's conversation is
// the ordering group.
func (p *Publisher) EnqueueInbound(ctx context.Context, msg InboundMessage) error {
	qm, err := encodeJob(inboundJob{ID: msg.MessageID, Message: msg})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, qm); err != nil {
		return fmt.Errorf("conversation: enqueue %s: %w", qm.ID, err)
	}
	p.logger.Debug("conversation job enqueued", "job_id", qm.ID, "clinic_id", msg.ClinicID)
	return nil
}
