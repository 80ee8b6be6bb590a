package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"invoicing-platform/internal/config"
	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*MpesaGateway)(nil)

// MpesaGateway implements adapter.PaymentGateway against the Daraja STK
// push API. M-Pesa has no recurring-billing concept, so CancelSubscription
// signals domain.ErrUnsupportedOperation.
type MpesaGateway struct {
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string
	sandbox        bool
	client         *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewMpesaGateway(cfg config.MpesaConfig) (*MpesaGateway, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, errors.New("mpesa consumer credentials empty")
	}
	if cfg.ShortCode == "" || cfg.Passkey == "" {
		return nil, errors.New("mpesa short code / passkey empty")
	}
	return &MpesaGateway{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortCode:      cfg.ShortCode,
		passkey:        cfg.Passkey,
		callbackURL:    cfg.CallbackURL,
		sandbox:        cfg.Sandbox,
		client:         &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *MpesaGateway) Name() model.GatewayName { return model.GatewayMpesa }

func (g *MpesaGateway) SupportsRecurring() bool { return false }

func (g *MpesaGateway) endpoint(path string) string {
	base := "https://api.safaricom.co.ke"
	if g.sandbox {
		base = "https://sandbox.safaricom.co.ke"
	}
	return base + path
}

// token fetches (and caches) an OAuth client-credentials access token.
func (g *MpesaGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint("/oauth/v1/generate?grant_type=client_credentials"), nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.consumerKey, g.consumerSecret)
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mpesa oauth http %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("mpesa oauth returned empty token")
	}
	g.accessToken = out.AccessToken
	// Daraja tokens last an hour; refresh a minute early.
	g.tokenExpiry = time.Now().Add(59 * time.Minute)
	return g.accessToken, nil
}

// InitiatePayment issues an STK push. The returned GatewayRef is the
// CheckoutRequestID that the asynchronous callback will carry.
func (g *MpesaGateway) InitiatePayment(ctx context.Context, pc adapter.PaymentContext) (*adapter.GatewayResponse, error) {
	if pc.Phone == "" {
		return nil, fmt.Errorf("%w: mpesa requires a phone number", domain.ErrInvalidArgument)
	}
	tok, err := g.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("mpesa token: %w", err)
	}

	ts := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(g.shortCode + g.passkey + ts))
	payload := map[string]any{
		"BusinessShortCode": g.shortCode,
		"Password":          password,
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            pc.Amount / 100, // Daraja takes whole KES
		"PartyA":            pc.Phone,
		"PartyB":            g.shortCode,
		"PhoneNumber":       pc.Phone,
		"CallBackURL":       g.callbackURL,
		"AccountReference":  pc.Reference,
		"TransactionDesc":   pc.Description,
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint("/mpesa/stkpush/v1/processrequest"), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return nil, fmt.Errorf("mpesa stk push rejected: %s", out.ResponseDescription)
	}
	return &adapter.GatewayResponse{
		GatewayRef: out.CheckoutRequestID,
		Success:    true,
		Meta: map[string]interface{}{
			"merchant_request_id": out.MerchantRequestID,
			"customer_message":    out.CustomerMessage,
		},
	}, nil
}

// ConfirmPayment parses a Body.stkCallback payload. ResultCode 0 means the
// charge went through; any other code is a definitive failure (cancelled on
// handset, insufficient funds, STK timeout). Missing CheckoutRequestID is
// the only structural error.
func (g *MpesaGateway) ConfirmPayment(ctx context.Context, payload *model.CallbackPayload) (*model.PaymentResult, error) {
	if payload == nil || payload.GatewayRef == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", domain.ErrMalformedCallback)
	}
	cb := stkCallback(payload.Raw)

	resultCode, ok := cb.resultCode()
	if !ok {
		// Treat an unreadable result code as a provider quirk, not a crash.
		return &model.PaymentResult{
			Status:     model.ResultFailed,
			GatewayRef: payload.GatewayRef,
			Meta:       map[string]interface{}{"result_desc": "missing ResultCode"},
		}, nil
	}

	res := &model.PaymentResult{
		GatewayRef: payload.GatewayRef,
		Meta:       map[string]interface{}{"result_desc": cb.resultDesc()},
	}
	if resultCode != 0 {
		res.Status = model.ResultFailed
		res.Meta["result_code"] = resultCode
		return res, nil
	}
	res.Status = model.ResultConfirmed
	if receipt := cb.metadataItem("MpesaReceiptNumber"); receipt != "" {
		res.GatewayTxID = receipt
	}
	if phone := cb.metadataItem("PhoneNumber"); phone != "" {
		res.Meta["phone"] = phone
	}
	return res, nil
}

func (g *MpesaGateway) CancelSubscription(ctx context.Context, cc adapter.CancelContext) error {
	return domain.ErrUnsupportedOperation
}

// stkCallback navigates the nested Body.stkCallback structure without
// committing to a rigid struct: Daraja omits CallbackMetadata on failures.
type stkCallback map[string]interface{}

func (c stkCallback) inner() map[string]interface{} {
	body, _ := c["Body"].(map[string]interface{})
	if body == nil {
		return nil
	}
	cb, _ := body["stkCallback"].(map[string]interface{})
	return cb
}

func (c stkCallback) resultCode() (int, bool) {
	cb := c.inner()
	if cb == nil {
		return 0, false
	}
	switch v := cb["ResultCode"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

func (c stkCallback) resultDesc() string {
	cb := c.inner()
	if cb == nil {
		return ""
	}
	s, _ := cb["ResultDesc"].(string)
	return s
}

func (c stkCallback) metadataItem(name string) string {
	cb := c.inner()
	if cb == nil {
		return ""
	}
	md, _ := cb["CallbackMetadata"].(map[string]interface{})
	if md == nil {
		return ""
	}
	items, _ := md["Item"].([]interface{})
	for _, it := range items {
		m, _ := it.(map[string]interface{})
		if m == nil || m["Name"] != name {
			continue
		}
		switch v := m["Value"].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
