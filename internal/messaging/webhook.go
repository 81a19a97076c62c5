package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduler/internal/conversation"
	"github.com/wolfman30/clinic-scheduler/internal/messaging/whatsappclient"
	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

var whatsappTracer = otel.Tracer("clinicbot.internal.messaging.whatsapp")

const maxWebhookBody = 1 << 20

type inboundPublisher interface {
	EnqueueInbound(ctx context.Context, msg conversation.InboundMessage) error
}

// Handler receives WhatsApp Cloud API webhooks and queues patient messages.
type Handler struct {
	verifyToken string
	appSecret   string
	publisher   inboundPublisher
	resolver    ClinicResolver
	metrics     *metrics.MessagingMetrics
	logger      *logging.Logger
	now         func() time.Time
}

// NewHandler creates a webhook handler. An empty appSecret disables signature checks.
func NewHandler(verifyToken, appSecret string, publisher inboundPublisher, resolver ClinicResolver, m *metrics.MessagingMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	if resolver == nil {
		panic("messaging: clinic resolver cannot be nil")
	}
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		publisher:   publisher,
		resolver:    resolver,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Verify handles the GET subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("whatsapp webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// Receive handles POST notifications.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	defer func() {
		h.metrics.ObserveWebhookLatency(r.Method, time.Since(start).Seconds())
	}()

	ctx, span := whatsappTracer.Start(r.Context(), "messaging.whatsapp.webhook")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read whatsapp webhook", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}

	if h.appSecret != "" {
		if err := whatsappclient.VerifySignature(h.appSecret, r.Header.Get("X-Hub-Signature-256"), body); err != nil {
			h.logger.Warn("invalid whatsapp signature", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			span.RecordError(err)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Error("failed to parse whatsapp webhook", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}

	queued := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			n, err := h.handleChange(ctx, change.Value)
			queued += n
			if err != nil {
				h.logger.Error("failed to enqueue whatsapp message", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				span.RecordError(err)
				return
			}
		}
	}
	span.SetAttributes(attribute.Int("whatsapp.queued", queued))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleChange(ctx context.Context, value ChangeValue) (int, error) {
	for _, st := range value.Statuses {
		h.logger.Debug("whatsapp delivery status", "message_id", st.ID, "status", st.Status)
	}
	if len(value.Messages) == 0 {
		return 0, nil
	}

	pnid := value.Metadata.PhoneNumberID
	clinicID, err := h.resolver.ResolveClinicID(ctx, pnid)
	if err != nil {
		if errors.Is(err, ErrClinicNotFound) {
			h.logger.Warn("whatsapp message for unmapped number", "phone_number_id", pnid)
			for _, m := range value.Messages {
				h.metrics.ObserveInbound(m.Type, "unmapped")
			}
			return 0, nil
		}
		return 0, err
	}

	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		names[c.WaID] = c.Profile.Name
	}

	queued := 0
	for _, m := range value.Messages {
		text, ok := m.Content()
		if !ok {
			h.logger.Info("ignoring unsupported whatsapp message", "type", m.Type, "message_id", m.ID)
			h.metrics.ObserveInbound(m.Type, "ignored")
			continue
		}
		msg := conversation.InboundMessage{
			MessageID:     m.ID,
			ClinicID:      clinicID,
			PhoneNumberID: pnid,
			From:          NormalizeE164(m.From),
			ProfileName:   names[m.From],
			Text:          text,
			ReceivedAt:    m.SentAt(h.now().UTC()),
		}
		publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := h.publisher.EnqueueInbound(publishCtx, msg)
		cancel()
		if err != nil {
			h.metrics.ObserveInbound(m.Type, "failed")
			return queued, err
		}
		h.metrics.ObserveInbound(m.Type, "queued")
		queued++
	}
	return queued, nil
}
