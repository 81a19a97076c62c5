package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

const (
	providerWhatsApp     = "whatsapp"
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	retryLaterReply      = "Sorry, we could not process your message right now. Please try again in a few minutes."
)

// ReplyMessenger sends a text reply from the clinic's WhatsApp number.
type ReplyMessenger interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) error
}

type messageHandler interface {
	Handle(ctx context.Context, msg InboundMessage) (*Reply, error)
}

type processedEventStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Worker consumes inbound jobs, runs them through the sequencer and sends the reply.
// Jobs of one conversation never run concurrently in a process; across processes a
// FIFO queue provides the same guarantee.
type Worker struct {
	handler   messageHandler
	queue     queueClient
	messenger ReplyMessenger
	logger    *logging.Logger
	cfg       workerConfig

	locks convLocks
	wg    sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	processed        processedEventStore
	metrics          *metrics.MessagingMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithProcessedStore deduplicates provider redeliveries.
func WithProcessedStore(store processedEventStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

// WithWorkerMetrics records outbound reply outcomes.
func WithWorkerMetrics(m *metrics.MessagingMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker constructs a queue consumer around the sequencer.
func NewWorker(handler messageHandler, queue queueClient, messenger ReplyMessenger, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{handler: handler, queue: queue, messenger: messenger, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	defer w.deleteMessage(msg.ReceiptHandle)

	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable conversation job", "error", err, "msg_id", msg.ID)
		return
	}
	in := job.Message
	log := w.logger.ForClinic(in.ClinicID).With("job_id", job.ID)

	unlock := w.lockConversation(conversationKey(in.ClinicID, in.From))
	defer unlock()

	if w.seenBefore(ctx, log, in.MessageID) {
		return
	}

	reply, err := w.handler.Handle(ctx, in)
	if err != nil {
		log.Error("conversation turn failed", "error", err)
		reply = &Reply{Text: retryLaterReply}
	}
	outcome := "sent"
	if err := w.messenger.SendText(ctx, in.PhoneNumberID, in.From, reply.Body()); err != nil {
		log.Error("failed to send reply", "error", err)
		outcome = "failed"
	}
	w.cfg.metrics.ObserveOutbound(outcome)
}

// seenBefore claims messageID in the processed store. Store failures let the message
// through.
func (w *Worker) seenBefore(ctx context.Context, log *logging.Logger, messageID string) bool {
	if w.cfg.processed == nil || messageID == "" {
		return false
	}
	fresh, err := w.cfg.processed.MarkProcessed(ctx, providerWhatsApp, messageID)
	if err != nil {
		log.Warn("processed-message check failed; handling anyway", "error", err)
		return false
	}
	if !fresh {
		log.Info("skipping duplicate inbound message", "message_id", messageID)
	}
	return !fresh
}

func (w *Worker) lockConversation(key string) func() {
	return w.locks.acquire(key)
}

// convLocks hands out one mutex per active conversation. An entry lives only while
// some turn holds or waits on it.
type convLocks struct {
	mu      sync.Mutex
	entries map[string]*convLock
}

type convLock struct {
	sync.Mutex
	refs int
}

func (l *convLocks) acquire(key string) func() {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*convLock)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &convLock{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

func (l *convLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}

// ProcessSync runs one message inline, bypassing the queue. Used by tests and the
// single-process development mode.
func (w *Worker) ProcessSync(ctx context.Context, in InboundMessage) error {
	qm, err := encodeJob(inboundJob{ID: in.MessageID, Message: in})
	if err != nil {
		return err
	}
	w.handleMessage(ctx, qm)
	return nil
}
