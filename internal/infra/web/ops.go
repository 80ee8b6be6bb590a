package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"invoicing-platform/internal/config"
	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/usecase"
)

// OpsClaims is the token payload the ops API accepts.
type OpsClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// OpsServer exposes the operator surface: payment and subscription lookups,
// admin cancellation, aggregate stats and the Prometheus endpoint. Guarded
// by an HS256 bearer token.
type OpsServer struct {
	cfg       *config.Config
	subUC     usecase.SubscriptionUseCase
	paymentUC usecase.PaymentUseCase
	log       *zerolog.Logger
	srv       *http.Server
}

func NewOpsServer(cfg *config.Config, subUC usecase.SubscriptionUseCase, paymentUC usecase.PaymentUseCase, logger *zerolog.Logger) *OpsServer {
	l := logger.With().Str("component", "OpsServer").Logger()
	return &OpsServer{
		cfg:       cfg,
		subUC:     subUC,
		paymentUC: paymentUC,
		log:       &l,
	}
}

func (s *OpsServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID)
	r.Use(RequestLogger(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/payments", s.handleInitiatePayment)
		r.Get("/payments/{id}", s.handleGetPayment)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Get("/subscriptions/{id}", s.handleGetSubscription)
		r.Post("/subscriptions/{id}/cancel", s.handleCancelSubscription)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *OpsServer) Start() error {
	port := s.cfg.Server.OpsPort
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("ops server listening")
	return s.srv.ListenAndServe()
}

func (s *OpsServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// authMiddleware enforces a Bearer HS256 token signed with the ops secret.
func (s *OpsServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Ops.JWTSecret == "" {
			s.log.Error().Msg("ops JWT secret is not configured")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		hdr := r.Header.Get("Authorization")
		if hdr == "" || !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims := &OpsClaims{}
		tkn, err := jwt.ParseWithClaims(strings.TrimSpace(hdr[7:]), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.Ops.JWTSecret), nil
		})
		if err != nil || !tkn.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MintOpsToken signs a short-lived operator token. Used by the CLI.
func MintOpsToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OpsClaims{
		Role: "ops",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *OpsServer) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.paymentUC.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "payment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *OpsServer) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.subUC.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type subscribeRequest struct {
	TenantID    string `json:"tenant_id"`
	PlanID      string `json:"plan_id"`
	Country     string `json:"country"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Description string `json:"description"`
}

func (s *OpsServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sub, payment, gw, err := s.subUC.Subscribe(r.Context(), usecase.SubscribeInput{
		TenantID:    req.TenantID,
		PlanID:      req.PlanID,
		Country:     req.Country,
		Phone:       req.Phone,
		Email:       req.Email,
		Description: req.Description,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"subscription": sub,
			"payment":      payment,
			"gateway":      gw,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "plan not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid subscription request")
	default:
		writeError(w, http.StatusBadGateway, "payment initiation failed")
	}
}

type initiatePaymentRequest struct {
	TenantID    string `json:"tenant_id"`
	InvoiceID   string `json:"invoice_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Country     string `json:"country"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Description string `json:"description"`
}

func (s *OpsServer) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	payment, gw, err := s.paymentUC.InitiateForInvoice(r.Context(), usecase.InitiateInvoicePaymentInput{
		TenantID:    req.TenantID,
		InvoiceID:   req.InvoiceID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Country:     req.Country,
		Phone:       req.Phone,
		Email:       req.Email,
		Description: req.Description,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"payment": payment,
			"gateway": gw,
		})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid payment request")
	default:
		writeError(w, http.StatusBadGateway, "payment initiation failed")
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (s *OpsServer) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Actor == "" {
		req.Actor = "ops"
	}
	err := s.subUC.Cancel(r.Context(), id, req.Actor, req.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, domain.ErrSubscriptionExpired):
		writeError(w, http.StatusConflict, "subscription already expired")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "subscription cannot be cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "cancel failed")
	}
}

func (s *OpsServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payments, err := s.paymentUC.CountByStatus(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	subs, err := s.subUC.CountByStatus(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	month, err := s.paymentUC.RevenueByPeriod(ctx, "month")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	year, err := s.paymentUC.RevenueByPeriod(ctx, "year")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Payments      map[string]int `json:"payments_by_status"`
		Subscriptions map[string]int `json:"subscriptions_by_status"`
		Revenue       struct {
			Month int64 `json:"month"`
			Year  int64 `json:"year"`
		} `json:"revenue_minor"`
	}{
		Payments:      payments,
		Subscriptions: subs,
		Revenue: struct {
			Month int64 `json:"month"`
			Year  int64 `json:"year"`
		}{Month: month, Year: year},
	})
}
