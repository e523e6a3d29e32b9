package processor

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adforgehq/adforge/pkg/payment"
)

// maxWebhookBody caps inbound payload size; provider events are a few
// kilobytes, so 1 MiB is generous.
const maxWebhookBody = 1 << 20

// WebhookHandler is the HTTP boundary of the pipeline.
//
// Response contract: 200 for processed, skipped, and duplicate events
// (including handler failures, which the internal retry manager owns);
// 400 for authentication and payload-shape failures so the provider can
// retry a corrected delivery; 500 only for storage-level admission
// failures, which the provider's own retry cadence will resolve.
type WebhookHandler struct {
	processor *Processor
	log       *slog.Logger
}

func NewWebhookHandler(p *Processor, log *slog.Logger) *WebhookHandler {
	if p == nil {
		panic("processor: Processor is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{processor: p, log: log}
}

// Routes mounts the webhook endpoint.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", h.handleWebhook)
	return r
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	prov, ok := h.processor.Provider(providerName)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown provider"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	signature := r.Header.Get(prov.SignatureHeader())
	result, err := h.processor.Process(r.Context(), providerName, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		case errors.Is(err, payment.ErrMalformedPayload):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		default:
			h.log.ErrorContext(r.Context(), "webhook admission failed",
				slog.String("provider", providerName),
				slog.Any("error", err),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"decision": string(result.Decision),
		"status":   string(result.Status),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
