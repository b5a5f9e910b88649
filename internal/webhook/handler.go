package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"stableramp/internal/collector"
	"stableramp/internal/metrics"
	"stableramp/internal/settlement"
)

// SignatureHeader carries the collector's keyed hash over the body.
const SignatureHeader = "X-Collector-Signature"

const maxBodyBytes = 1 << 20

// PaymentApplier is the dispatcher entry point webhook events feed into.
type PaymentApplier interface {
	ApplyPaymentEvent(ctx context.Context, ev settlement.PaymentEvent) error
}

// Handler ingests collector webhooks: authenticate, match, apply.
// Duplicate deliveries for settled orders return 200 with no side
// effects.
type Handler struct {
	Verifier   *Verifier
	Dispatcher PaymentApplier
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if !h.Verifier.Verify(body, r.Header.Get(SignatureHeader)) {
		h.reject("signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if ip := h.Verifier.VerifyIP(r.RemoteAddr); ip.Checked && !ip.Listed {
		// Signature already proved authenticity; record the anomaly and
		// continue.
		h.logf("webhook from unlisted ip %s", r.RemoteAddr)
		if h.Metrics != nil {
			h.Metrics.WebhookIPMismatch.Inc()
		}
	}

	var event collector.Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.reject("malformed")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	ev := settlement.PaymentEvent{
		PaymentReference:     event.EventData.PaymentReference,
		TransactionReference: event.EventData.TransactionReference,
		OrderReference:       event.EventData.MetaData.OrderReference,
		PaymentStatus:        event.EventData.PaymentStatus,
		AmountPaid:           event.EventData.AmountPaid,
	}
	if err := h.Dispatcher.ApplyPaymentEvent(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, settlement.ErrNotFound):
			http.Error(w, "transaction not found", http.StatusNotFound)
		case errors.Is(err, settlement.ErrAmountMismatch):
			http.Error(w, "amount mismatch", http.StatusBadRequest)
		default:
			h.logf("webhook apply failed ref=%s: %v", ev.PaymentReference, err)
			http.Error(w, "apply failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) reject(reason string) {
	if h.Metrics != nil {
		h.Metrics.WebhookRejected.WithLabelValues(reason).Inc()
	}
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
