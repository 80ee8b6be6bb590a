//go:build !integration

package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"invoicing-platform/internal/config"
	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/infra/adapters/gateway"
)

const testWebhookSecret = "whsec_test"

func testConfig(dev bool) *config.Config {
	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Server.OpsPort = 9090
	cfg.Webhook.MaxRetries = 3
	cfg.Webhook.RetryBackoffBase = 60 * time.Second
	cfg.Webhook.ProcessingTimeout = 5 * time.Second
	cfg.Webhook.PaymentTimeout = 300 * time.Second
	cfg.Gateway.Stripe.WebhookSecret = testWebhookSecret
	cfg.Ops.JWTSecret = "ops-secret"
	cfg.Runtime.Dev = dev
	return cfg
}

func newWebhookServer(dev bool, uc *stubSubUC, retries *recordingRetry) http.Handler {
	logger := zerolog.New(nil)
	return NewServer(testConfig(dev), uc, retries, &logger).Routes()
}

func mpesaCallbackBody(t *testing.T, checkoutID string, resultCode int) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"Body": map[string]interface{}{
			"stkCallback": map[string]interface{}{
				"MerchantRequestID": "mr-1",
				"CheckoutRequestID": checkoutID,
				"ResultCode":        resultCode,
				"ResultDesc":        "The service request is processed successfully.",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal callback: %v", err)
	}
	return b
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) mpesaAck {
	t.Helper()
	var ack mpesaAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func TestMpesaWebhook(t *testing.T) {
	t.Run("valid callback is processed and acked", func(t *testing.T) {
		uc := &stubSubUC{}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/mpesa", bytes.NewReader(mpesaCallbackBody(t, "ws_CO_1", 0)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if ack := decodeAck(t, rec); ack.ResultCode != 0 {
			t.Errorf("expected ResultCode 0, got %d (%s)", ack.ResultCode, ack.ResultDesc)
		}
		if len(uc.confirmPayloads) != 1 || uc.confirmPayloads[0].GatewayRef != "ws_CO_1" {
			t.Errorf("expected one confirm with the checkout id, got %+v", uc.confirmPayloads)
		}
		if len(retries.jobs) != 0 {
			t.Errorf("expected no retries, got %d", len(retries.jobs))
		}
	})

	t.Run("invalid JSON is acked with ResultCode 1 and never queued", func(t *testing.T) {
		uc := &stubSubUC{}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/mpesa", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 even for garbage, got %d", rec.Code)
		}
		if ack := decodeAck(t, rec); ack.ResultCode != 1 {
			t.Errorf("expected ResultCode 1, got %d", ack.ResultCode)
		}
		if len(uc.confirmPayloads) != 0 {
			t.Error("expected the use case untouched")
		}
		if len(retries.jobs) != 0 {
			t.Error("malformed payloads must never reach the retry queue")
		}
	})

	t.Run("missing CheckoutRequestID is rejected without queueing", func(t *testing.T) {
		uc := &stubSubUC{}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		body, _ := json.Marshal(map[string]interface{}{"Body": map[string]interface{}{"stkCallback": map[string]interface{}{"ResultCode": 0}}})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/mpesa", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		ack := decodeAck(t, rec)
		if ack.ResultCode != 1 {
			t.Errorf("expected ResultCode 1, got %d", ack.ResultCode)
		}
		if ack.ResultDesc != "Missing CheckoutRequestID" {
			t.Errorf("expected the Daraja-visible reason, got %q", ack.ResultDesc)
		}
		if len(uc.confirmPayloads) != 0 {
			t.Error("expected the use case untouched")
		}
		if len(retries.jobs) != 0 {
			t.Error("expected no retry for a structurally broken callback")
		}
	})

	t.Run("transient failure schedules a retry and reports it at HTTP 200", func(t *testing.T) {
		uc := &stubSubUC{confirmErr: errors.New("db down")}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/mpesa", bytes.NewReader(mpesaCallbackBody(t, "ws_CO_1", 0)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		ack := decodeAck(t, rec)
		if ack.ResultCode != 1 {
			t.Errorf("expected ResultCode 1 on a processing error, got %d", ack.ResultCode)
		}
		if ack.ResultDesc == "" || ack.ResultDesc == "Accepted" {
			t.Errorf("expected a failure reason, got %q", ack.ResultDesc)
		}
		if len(retries.jobs) != 1 {
			t.Fatalf("expected 1 retry job, got %d", len(retries.jobs))
		}
		if retries.jobs[0].GatewayRef != "ws_CO_1" || retries.jobs[0].Attempt != 1 {
			t.Errorf("unexpected retry job: %+v", retries.jobs[0])
		}
	})

	t.Run("malformed verdict from the adapter is not retried", func(t *testing.T) {
		uc := &stubSubUC{confirmErr: domain.ErrMalformedCallback}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/mpesa", bytes.NewReader(mpesaCallbackBody(t, "ws_CO_1", 0)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if ack := decodeAck(t, rec); ack.ResultCode != 1 {
			t.Errorf("expected ResultCode 1, got %d", ack.ResultCode)
		}
		if len(retries.jobs) != 0 {
			t.Error("expected no retry")
		}
	})
}

func stripeEventBody(t *testing.T, eventType, intentID string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":            intentID,
				"latest_charge": "ch_1",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func TestStripeWebhook(t *testing.T) {
	signed := func(body []byte) string {
		return gateway.SignStripePayload(testWebhookSecret, body, time.Now())
	}

	t.Run("signed succeeded event is processed", func(t *testing.T) {
		uc := &stubSubUC{}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		body := stripeEventBody(t, "payment_intent.succeeded", "pi_1")
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		req.Header.Set("Stripe-Signature", signed(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(uc.confirmPayloads) != 1 || uc.confirmPayloads[0].GatewayRef != "pi_1" {
			t.Errorf("expected one confirm for pi_1, got %+v", uc.confirmPayloads)
		}
	})

	t.Run("bad signature is rejected before any processing", func(t *testing.T) {
		uc := &stubSubUC{}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		body := stripeEventBody(t, "payment_intent.succeeded", "pi_1")
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if len(uc.confirmPayloads) != 0 {
			t.Error("expected the use case untouched on a bad signature")
		}
	})

	t.Run("dev mode lets a signature mismatch through", func(t *testing.T) {
		uc := &stubSubUC{}
		retries := &recordingRetry{}
		h := newWebhookServer(true, uc, retries)

		body := stripeEventBody(t, "payment_intent.succeeded", "pi_1")
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 in dev mode, got %d", rec.Code)
		}
		if len(uc.confirmPayloads) != 1 {
			t.Errorf("expected the callback processed despite the mismatch, got %d confirms", len(uc.confirmPayloads))
		}
	})

	t.Run("dev mode accepts an unsigned payload", func(t *testing.T) {
		uc := &stubSubUC{}
		retries := &recordingRetry{}
		h := newWebhookServer(true, uc, retries)

		body := stripeEventBody(t, "payment_intent.succeeded", "pi_1")
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 in dev mode, got %d", rec.Code)
		}
	})

	t.Run("only succeeded intents drive state", func(t *testing.T) {
		// A decline is not terminal: the payer can retry the intent, so
		// payment_failed must be ignored like any other event type.
		for _, eventType := range []string{
			"payment_intent.created",
			"payment_intent.payment_failed",
			"charge.refunded",
		} {
			uc := &stubSubUC{}
			retries := &recordingRetry{}
			h := newWebhookServer(false, uc, retries)

			body := stripeEventBody(t, eventType, "pi_1")
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
			req.Header.Set("Stripe-Signature", signed(body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d", eventType, rec.Code)
			}
			var resp map[string]bool
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("%s: decode response: %v", eventType, err)
			}
			if !resp["received"] || !resp["ignored"] {
				t.Errorf("%s: expected received+ignored, got %v", eventType, resp)
			}
			if len(uc.confirmPayloads) != 0 {
				t.Errorf("%s: expected the use case untouched", eventType)
			}
			if len(retries.jobs) != 0 {
				t.Errorf("%s: expected no retry", eventType)
			}
		}
	})

	t.Run("transient failure returns 500 and schedules a retry", func(t *testing.T) {
		uc := &stubSubUC{confirmErr: errors.New("db down")}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		body := stripeEventBody(t, "payment_intent.succeeded", "pi_1")
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		req.Header.Set("Stripe-Signature", signed(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["error"] == "" {
			t.Error("expected an error body")
		}
		if len(retries.jobs) != 1 || retries.jobs[0].GatewayRef != "pi_1" {
			t.Fatalf("expected 1 retry job for pi_1, got %+v", retries.jobs)
		}
	})

	t.Run("payload without an intent id is a 400", func(t *testing.T) {
		uc := &stubSubUC{}
		retries := &recordingRetry{}
		h := newWebhookServer(false, uc, retries)

		body, _ := json.Marshal(map[string]interface{}{"type": "payment_intent.succeeded", "data": map[string]interface{}{}})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
		req.Header.Set("Stripe-Signature", signed(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if len(retries.jobs) != 0 {
			t.Error("expected no retry")
		}
	})
}

func TestHealth(t *testing.T) {
	h := newWebhookServer(false, &stubSubUC{}, &recordingRetry{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
