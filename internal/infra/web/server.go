package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"invoicing-platform/internal/config"
	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/infra/adapters/gateway"
	"invoicing-platform/internal/infra/logging"
	"invoicing-platform/internal/infra/metrics"
	"invoicing-platform/internal/infra/retry"
	"invoicing-platform/internal/usecase"
)

const (
	maxWebhookBody     = 1 << 20 // 1 MiB
	signatureTolerance = 5 * time.Minute
)

// retryScheduler is the slice of the retry scheduler the webhook server needs.
type retryScheduler interface {
	Schedule(ctx context.Context, job retry.Job) (bool, error)
}

// Server ingests gateway webhooks. It validates transport-level concerns
// (signature, shape), normalizes the payload and hands it to the use case;
// verdict interpretation belongs to the gateway adapters.
type Server struct {
	cfg     *config.Config
	subUC   usecase.SubscriptionUseCase
	retries retryScheduler
	log     *zerolog.Logger
	srv     *http.Server
}

func NewServer(cfg *config.Config, subUC usecase.SubscriptionUseCase, retries retryScheduler, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebhookServer").Logger()
	return &Server{
		cfg:     cfg,
		subUC:   subUC,
		retries: retries,
		log:     &l,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID)
	r.Use(RequestLogger(s.log))
	r.Use(Recover(s.log))

	r.Post("/webhooks/mpesa", s.handleMpesaWebhook)
	r.Post("/webhooks/stripe", s.handleStripeWebhook)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.cfg.Webhook.ProcessingTimeout + 5*time.Second,
	}
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("webhook server listening")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mpesaAck is the acknowledgement shape Daraja expects. The HTTP status is
// always 200: a non-200 only triggers provider-side redelivery of a payload
// we have already classified.
type mpesaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (s *Server) handleMpesaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.IncWebhookCallback("mpesa", "rejected")
		writeJSON(w, http.StatusOK, mpesaAck{ResultCode: 1, ResultDesc: "Rejected: unreadable body"})
		return
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		// Malformed payloads are acked and dropped; retrying cannot fix them.
		metrics.IncWebhookCallback("mpesa", "rejected")
		writeJSON(w, http.StatusOK, mpesaAck{ResultCode: 1, ResultDesc: "Rejected: invalid JSON"})
		return
	}
	ref := stkCheckoutRequestID(raw)
	if ref == "" {
		metrics.IncWebhookCallback("mpesa", "rejected")
		writeJSON(w, http.StatusOK, mpesaAck{ResultCode: 1, ResultDesc: "Missing CheckoutRequestID"})
		return
	}

	ctx := logging.WithGatewayRef(r.Context(), ref)
	payload := &model.CallbackPayload{
		Gateway:    model.GatewayMpesa,
		GatewayRef: ref,
		Raw:        raw,
		ReceivedAt: time.Now(),
	}
	if err := s.confirm(ctx, model.GatewayMpesa, payload, body); err != nil {
		if errors.Is(err, domain.ErrMalformedCallback) {
			metrics.IncWebhookCallback("mpesa", "rejected")
			writeJSON(w, http.StatusOK, mpesaAck{ResultCode: 1, ResultDesc: "Rejected: " + err.Error()})
			return
		}
		// Transient failure: the retry scheduler owns redelivery now.
		// Daraja still gets HTTP 200; only ResultCode reports the failure.
		metrics.IncWebhookCallback("mpesa", "deferred")
		writeJSON(w, http.StatusOK, mpesaAck{ResultCode: 1, ResultDesc: "Rejected: processing error"})
		return
	}
	metrics.IncWebhookCallback("mpesa", "processed")
	writeJSON(w, http.StatusOK, mpesaAck{ResultCode: 0, ResultDesc: "Accepted"})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.IncWebhookCallback("stripe", "rejected")
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if !gateway.VerifyStripeSignature(s.cfg.Gateway.Stripe.WebhookSecret, body, sig, signatureTolerance, time.Now()) {
		if !s.cfg.Runtime.Dev {
			metrics.IncWebhookCallback("stripe", "rejected")
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		// Permissive mode for staging: mismatches pass but never silently.
		s.log.Warn().Msg("stripe signature mismatch allowed in dev mode")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		metrics.IncWebhookCallback("stripe", "rejected")
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	// Only a settled intent drives state. Everything else, declines
	// included, is acked untouched: the payer can still complete the
	// intent, and abandonment is the timeout sweeper's call.
	if eventType, _ := raw["type"].(string); eventType != "payment_intent.succeeded" {
		metrics.IncWebhookCallback("stripe", "ignored")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true, "ignored": true})
		return
	}

	ref := gateway.ExtractIntentID(raw)
	if ref == "" {
		metrics.IncWebhookCallback("stripe", "rejected")
		writeError(w, http.StatusBadRequest, "missing payment_intent id")
		return
	}

	ctx := logging.WithGatewayRef(r.Context(), ref)
	payload := &model.CallbackPayload{
		Gateway:    model.GatewayStripe,
		GatewayRef: ref,
		Raw:        raw,
		Signature:  sig,
		ReceivedAt: time.Now(),
	}
	if err := s.confirm(ctx, model.GatewayStripe, payload, body); err != nil {
		if errors.Is(err, domain.ErrMalformedCallback) {
			metrics.IncWebhookCallback("stripe", "rejected")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// 500 tells Stripe to redeliver too; our own scheduler is the
		// primary retry path.
		metrics.IncWebhookCallback("stripe", "deferred")
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	metrics.IncWebhookCallback("stripe", "processed")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// confirm runs the use case under the processing timeout and schedules a
// retry on transient failure. Structural errors pass through untouched.
func (s *Server) confirm(ctx context.Context, gw model.GatewayName, payload *model.CallbackPayload, body []byte) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Webhook.ProcessingTimeout)
	defer cancel()

	_, err := s.subUC.ConfirmPayment(cctx, gw, payload)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrMalformedCallback) || errors.Is(err, domain.ErrInvalidArgument) {
		return err
	}

	log := logging.With(ctx, s.log)
	log.Warn().Err(err).Str("gateway", string(gw)).Msg("confirm failed; scheduling retry")
	if s.retries != nil {
		if _, rerr := s.retries.Schedule(ctx, retry.Job{
			Gateway:    gw,
			GatewayRef: payload.GatewayRef,
			Payload:    body,
			Attempt:    1,
		}); rerr != nil {
			log.Error().Err(rerr).Msg("scheduling webhook retry failed")
		}
	}
	return err
}

// stkCheckoutRequestID digs Body.stkCallback.CheckoutRequestID out of a
// Daraja callback envelope.
func stkCheckoutRequestID(raw map[string]interface{}) string {
	body, _ := raw["Body"].(map[string]interface{})
	if body == nil {
		return ""
	}
	cb, _ := body["stkCallback"].(map[string]interface{})
	if cb == nil {
		return ""
	}
	id, _ := cb["CheckoutRequestID"].(string)
	return id
}
