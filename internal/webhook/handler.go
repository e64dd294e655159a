package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/VictoriaMetrics/metrics"

	"payment-service/internal/db"
	"payment-service/internal/logcontext"
	"payment-service/internal/orchestrator"
	"payment-service/internal/payment"
	"payment-service/internal/provider"
)

const SignatureHeader = "X-Signature"

var (
	webhookAcceptedCounter  = metrics.GetOrCreateCounter(`webhook_received_total{result="accepted"}`)
	webhookBadSigCounter    = metrics.GetOrCreateCounter(`webhook_received_total{result="invalid_signature"}`)
	webhookUnknownCounter   = metrics.GetOrCreateCounter(`webhook_received_total{result="unknown_payment"}`)
	webhookProcessedCounter = metrics.GetOrCreateCounter(`webhook_received_total{result="processed"}`)
	webhookErrorCounter     = metrics.GetOrCreateCounter(`webhook_received_total{result="process_error"}`)
)

// Handler accepts provider confirmation webhooks. The signature is verified
// against the raw body before anything else; unsigned or badly signed
// payloads are dropped with a 400 and never processed. Once a payload is
// processed the response is 200 even for business no-ops, so provider retry
// storms stop.
type Handler struct {
	decoders map[string]provider.WebhookDecoder
	intents  *db.IntentRepository
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger
}

func NewHandler(decoders map[string]provider.WebhookDecoder, intents *db.IntentRepository, orch *orchestrator.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{decoders: decoders, intents: intents, orch: orch, logger: logger}
}

func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")
	ctx := logcontext.AppendCtx(r.Context(), slog.String("provider", providerName))

	decoder, ok := h.decoders[providerName]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := decoder.VerifyWebhook(r.Header.Get(SignatureHeader), body); err != nil {
		h.logger.WarnContext(ctx, "Webhook signature rejected")
		webhookBadSigCounter.Inc()
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	webhookAcceptedCounter.Inc()

	providerRef, _, err := decoder.DecodeWebhook(body)
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	intent, err := h.intents.GetByProviderRef(ctx, providerRef)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		// Nothing to confirm; retrying will not help, acknowledge and drop.
		h.logger.WarnContext(ctx, "Webhook for unknown payment", "providerRef", providerRef)
		webhookUnknownCounter.Inc()
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		webhookErrorCounter.Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The webhook body only tells us which payment moved; the status applied
	// comes from verifying with the provider, which also makes replayed or
	// forged-but-signed payloads harmless.
	if _, err := h.orch.Confirm(ctx, intent.ID); err != nil {
		h.logger.ErrorContext(ctx, "Error confirming payment from webhook", "error", err)
		webhookErrorCounter.Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	webhookProcessedCounter.Inc()
	w.WriteHeader(http.StatusOK)
}
