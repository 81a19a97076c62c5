package bootstrap

import (
	"context"
	"net/http"
	"strings"
	"time"

	appconfig "github.com/wolfman30/clinic-scheduler/internal/config"
	"github.com/wolfman30/clinic-scheduler/internal/conversation"
	"github.com/wolfman30/clinic-scheduler/internal/messaging/whatsappclient"
	"github.com/wolfman30/clinic-scheduler/internal/observability/tracing"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// BuildOutboundMessenger returns the WhatsApp client, or a logging messenger when
// no access token is configured. The second value names the provider.
func BuildOutboundMessenger(cfg *appconfig.Config, logger *logging.Logger) (conversation.ReplyMessenger, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || strings.TrimSpace(cfg.WhatsAppAccessToken) == "" {
		logger.Warn("WHATSAPP_ACCESS_TOKEN not set; replies will only be logged")
		return &logMessenger{logger: logger}, "log"
	}
	client, err := whatsappclient.New(whatsappclient.Config{
		BaseURL:     cfg.WhatsAppAPIBaseURL,
		AccessToken: cfg.WhatsAppAccessToken,
		Logger:      logger.Logger,
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: tracing.Transport(nil),
		},
	})
	if err != nil {
		logger.Error("whatsapp client unavailable; replies will only be logged", "error", err)
		return &logMessenger{logger: logger}, "log"
	}
	return client, "whatsapp"
}

type logMessenger struct {
	logger *logging.Logger
}

func (m *logMessenger) SendText(ctx context.Context, phoneNumberID, to, body string) error {
	m.logger.Info("outbound reply (not sent)", "phone_number_id", phoneNumberID, "to", to, "body", body)
	return nil
}
