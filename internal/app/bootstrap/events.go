package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-scheduler/cmd/mainconfig"
	appconfig "github.com/wolfman30/clinic-scheduler/internal/config"
	"github.com/wolfman30/clinic-scheduler/internal/events"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// BuildDeliverer relays booking events from the outbox to SQS, or to the log
// when BOOKING_EVENTS_QUEUE_URL is unset.
func BuildDeliverer(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (*events.Deliverer, error) {
	if cfg == nil || pool == nil {
		return nil, fmt.Errorf("bootstrap: config and postgres are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	var handler events.DeliveryHandler = events.NewLoggingHandler(logger)
	if url := strings.TrimSpace(cfg.BookingEventsQueueURL); url != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		handler = events.NewSQSHandler(mainconfig.NewSQSClient(awsCfg, cfg), url)
	}
	return events.NewDeliverer(events.NewOutboxStore(pool), handler, logger,
		events.WithInterval(cfg.OutboxPollInterval),
		events.WithMaxAttempts(cfg.OutboxMaxAttempts)), nil
}
