package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-scheduler/cmd/mainconfig"
	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/clinic"
	appconfig "github.com/wolfman30/clinic-scheduler/internal/config"
	"github.com/wolfman30/clinic-scheduler/internal/conversation"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// Metrics groups the collectors shared by the API and the worker.
type Metrics struct {
	Messaging    *metrics.MessagingMetrics
	Availability *metrics.AvailabilityMetrics
	Bookings     *metrics.BookingMetrics
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Messaging:    metrics.NewMessagingMetrics(reg),
		Availability: metrics.NewAvailabilityMetrics(reg),
		Bookings:     metrics.NewBookingMetrics(reg),
	}
}

// Scheduling is the availability engine and booking writer over one database.
type Scheduling struct {
	Clinics *clinic.Store
	Store   *bookings.Store
	Engine  *availability.Engine
	Writer  *bookings.Writer
}

// BuildScheduling wires the store, engine and writer from config.
func BuildScheduling(cfg *appconfig.Config, pool *pgxpool.Pool, redisClient *redis.Client, m *Metrics, logger *logging.Logger) (*Scheduling, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if pool == nil || redisClient == nil {
		return nil, fmt.Errorf("bootstrap: postgres and redis are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = &Metrics{}
	}
	clinics := clinic.NewStore(redisClient)
	store := bookings.NewStore(pool)
	engine := availability.NewEngine(clinics, store, store, logger,
		availability.WithStep(cfg.SlotStepMinutes),
		availability.WithNearestSearch(cfg.NearestDateRadiusDays, cfg.NearestDateLimit),
		availability.WithServices(store),
		availability.WithPostVisitCounter(store),
		availability.WithMetrics(m.Availability),
	)
	return &Scheduling{
		Clinics: clinics,
		Store:   store,
		Engine:  engine,
		Writer:  bookings.NewWriter(store, engine, m.Bookings, logger),
	}, nil
}

// BuildQueue picks the in-process queue or SQS.
func BuildQueue(ctx context.Context, cfg *appconfig.Config) (conversation.Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if cfg.UseMemoryQueue {
		return conversation.NewMemoryQueue(1024), nil
	}
	if strings.TrimSpace(cfg.ConversationQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: CONVERSATION_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conversation.NewSQSQueue(mainconfig.NewSQSClient(awsCfg, cfg), cfg.ConversationQueueURL), nil
}

// ProcessedStore is the webhook dedupe table shared by the worker options.
type ProcessedStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// BuildProcessedStore uses DynamoDB unless the memory queue is in use.
func BuildProcessedStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (ProcessedStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.ProcessedMessagesTable) == "" {
		return conversation.NewMemoryProcessedStore(), nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conversation.NewProcessedStore(mainconfig.NewDynamoClient(awsCfg, cfg), cfg.ProcessedMessagesTable, logger), nil
}

// BuildConversationWorker wires the sequencer behind a queue consumer.
func BuildConversationWorker(ctx context.Context, cfg *appconfig.Config, sched *Scheduling, redisClient *redis.Client, queue conversation.Queue, m *Metrics, logger *logging.Logger) (*conversation.Worker, error) {
	if cfg == nil || sched == nil || queue == nil {
		return nil, fmt.Errorf("bootstrap: config, scheduling and queue are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = &Metrics{}
	}
	processed, err := BuildProcessedStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	messenger, provider := BuildOutboundMessenger(cfg, logger)
	sequencer := conversation.NewSequencer(
		sched.Engine,
		sched.Writer,
		sched.Store,
		sched.Clinics,
		conversation.NewSessionStore(redisClient, cfg.SessionTTL),
		cfg.CalendarDays,
		logger,
	)
	logger.Info("conversation worker configured", "provider", provider, "workers", cfg.WorkerCount, "memory_queue", cfg.UseMemoryQueue)
	return conversation.NewWorker(sequencer, queue, messenger, logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithProcessedStore(processed),
		conversation.WithWorkerMetrics(m.Messaging),
	), nil
}
