package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"invoicing-platform/internal/config"
	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.PaymentGateway against the Stripe REST
// API (PaymentIntents for charges, Subscriptions for recurring cancels).
type StripeGateway struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewStripeGateway(cfg config.StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	return &StripeGateway{
		secretKey: cfg.SecretKey,
		baseURL:   "https://api.stripe.com",
		client:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *StripeGateway) Name() model.GatewayName { return model.GatewayStripe }

func (g *StripeGateway) SupportsRecurring() bool { return true }

// InitiatePayment creates a PaymentIntent. The intent id doubles as the
// GatewayRef the webhook confirmation is matched on. Stripe's form-encoded
// API plus the Idempotency-Key header make retried initiation safe.
func (g *StripeGateway) InitiatePayment(ctx context.Context, pc adapter.PaymentContext) (*adapter.GatewayResponse, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(pc.Amount, 10))
	form.Set("currency", strings.ToLower(pc.Currency))
	form.Set("description", pc.Description)
	form.Set("metadata[payment_id]", pc.PaymentID)
	if pc.SubscriptionID != "" {
		form.Set("metadata[subscription_id]", pc.SubscriptionID)
	}
	if pc.Email != "" {
		form.Set("receipt_email", pc.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	if pc.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", pc.IdempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Status       string `json:"status"`
		Error        *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("stripe payment_intent create: %s", out.Error.Message)
	}
	if out.ID == "" {
		return nil, errors.New("stripe payment_intent create: empty id")
	}
	return &adapter.GatewayResponse{
		GatewayRef:   out.ID,
		ClientSecret: out.ClientSecret,
		Success:      true,
		Meta:         map[string]interface{}{"intent_status": out.Status},
	}, nil
}

// ConfirmPayment interprets a Stripe event envelope. Only
// payment_intent.succeeded confirms; any other event type on an intent we
// track reads as a failed result and the ingestion layer decides whether it
// was even dispatched here. A payload without an intent id is structural.
func (g *StripeGateway) ConfirmPayment(ctx context.Context, payload *model.CallbackPayload) (*model.PaymentResult, error) {
	if payload == nil || payload.GatewayRef == "" {
		return nil, fmt.Errorf("%w: missing payment_intent id", domain.ErrMalformedCallback)
	}

	eventType, _ := payload.Raw["type"].(string)
	res := &model.PaymentResult{
		GatewayRef: payload.GatewayRef,
		Meta:       map[string]interface{}{"event_type": eventType},
	}
	if eventType != "payment_intent.succeeded" {
		res.Status = model.ResultFailed
		return res, nil
	}
	res.Status = model.ResultConfirmed
	if obj := eventObject(payload.Raw); obj != nil {
		if charge, _ := obj["latest_charge"].(string); charge != "" {
			res.GatewayTxID = charge
		}
	}
	if res.GatewayTxID == "" {
		// Fall back to the intent id as settlement reference.
		res.GatewayTxID = payload.GatewayRef
	}
	return res, nil
}

// CancelSubscription cancels a Stripe subscription. A 404 reads as already
// gone, which is fine for a cancel.
func (g *StripeGateway) CancelSubscription(ctx context.Context, cc adapter.CancelContext) error {
	if cc.GatewaySubscriptionID == "" {
		return fmt.Errorf("%w: missing gateway subscription id", domain.ErrInvalidArgument)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.baseURL+"/v1/subscriptions/"+cc.GatewaySubscriptionID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stripe subscription cancel http %d", resp.StatusCode)
	}
	return nil
}

// eventObject digs data.object out of an event envelope.
func eventObject(raw map[string]interface{}) map[string]interface{} {
	data, _ := raw["data"].(map[string]interface{})
	if data == nil {
		return nil
	}
	obj, _ := data["object"].(map[string]interface{})
	return obj
}

// ExtractIntentID pulls the PaymentIntent id out of a decoded event
// envelope; used by webhook ingestion to build the CallbackPayload.
func ExtractIntentID(raw map[string]interface{}) string {
	obj := eventObject(raw)
	if obj == nil {
		return ""
	}
	id, _ := obj["id"].(string)
	return id
}
