package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/logging"
	"storefront-orders/internal/observability"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaystackGateway talks to a Paystack-compatible REST API.
type PaystackGateway struct {
	baseURL   string
	secretKey string
	client    *http.Client
	metrics   *observability.Metrics
}

type PaystackConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

func NewPaystackGateway(cfg PaystackConfig, metrics *observability.Metrics) *PaystackGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PaystackGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: timeout},
		metrics:   metrics,
	}
}

var _ Gateway = (*PaystackGateway)(nil)

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Channel         string `json:"channel"`
	GatewayResponse string `json:"gateway_response"`
	PaidAt          string `json:"paid_at"`
	Authorization   struct {
		Last4    string `json:"last4"`
		CardType string `json:"card_type"`
		Bank     string `json:"bank"`
	} `json:"authorization"`
}

type refundData struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (g *PaystackGateway) InitializeTransaction(ctx context.Context, req InitializeRequest) AuthorizationHandle {
	body := map[string]any{
		"email":        req.CustomerEmail,
		"amount":       domain.ToMinorUnits(req.Amount),
		"currency":     req.Currency,
		"reference":    req.Reference,
		"callback_url": req.CallbackURL,
		"metadata":     map[string]string{"order_number": req.OrderNumber},
	}
	res, env := g.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body)
	out := AuthorizationHandle{Result: res, Reference: req.Reference}
	if !res.Succeeded() {
		return out
	}

	var data initializeData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.AuthorizationURL == "" {
		out.Status = OutcomeDeclined
		out.FailureReason = "malformed initialize response"
		return out
	}
	out.AuthorizationURL = data.AuthorizationURL
	out.AccessCode = data.AccessCode
	if data.Reference != "" {
		out.Reference = data.Reference
	}
	return out
}

func (g *PaystackGateway) VerifyTransaction(ctx context.Context, reference string) TransactionOutcome {
	res, env := g.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	out := TransactionOutcome{Result: res, Reference: reference}
	if !res.Succeeded() {
		return out
	}

	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		out.Status = OutcomeUnavailable
		out.FailureReason = "malformed verify response"
		return out
	}
	if data.ID != 0 {
		out.GatewayRef = strconv.FormatInt(data.ID, 10)
	}
	out.Amount = data.Amount
	out.Currency = data.Currency
	out.Method = domain.PaymentMethod{
		Channel:  data.Channel,
		CardType: strings.TrimSpace(data.Authorization.CardType),
		Last4:    data.Authorization.Last4,
		Bank:     data.Authorization.Bank,
	}
	if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
		out.PaidAt = &t
	}

	switch strings.ToLower(data.Status) {
	case "success":
		out.Status = OutcomeSucceeded
	case "failed", "reversed":
		out.Status = OutcomeDeclined
		out.FailureReason = data.GatewayResponse
		if out.FailureReason == "" {
			out.FailureReason = data.Status
		}
	default:
		// abandoned means the customer left checkout but may still come back and pay; the
		// reconciliation sweep fails it once it goes stale.
		out.Status = OutcomePending
	}
	return out
}

func (g *PaystackGateway) CreateRefund(ctx context.Context, gatewayRef string, amount decimal.Decimal, currency string) RefundOutcome {
	body := map[string]any{
		"transaction": gatewayRef,
		"amount":      domain.ToMinorUnits(amount),
		"currency":    currency,
	}
	res, env := g.do(ctx, "refund", http.MethodPost, "/refund", body)
	out := RefundOutcome{Result: res}
	if !res.Succeeded() {
		return out
	}

	var data refundData
	if err := json.Unmarshal(env.Data, &data); err == nil && data.ID != 0 {
		out.GatewayRef = strconv.FormatInt(data.ID, 10)
	}
	if strings.EqualFold(data.Status, "failed") {
		out.Status = OutcomeDeclined
		out.FailureReason = "refund failed at processor"
	}
	return out
}

func (g *PaystackGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return parseWebhook(g.secretKey, payload, signature)
}

// do performs one API call and folds every failure mode into a Result.
func (g *PaystackGateway) do(ctx context.Context, op, method, path string, body any) (Result, apiEnvelope) {
	logger := logging.FromContext(ctx).With(zap.String("gateway_operation", op))
	start := time.Now()
	var env apiEnvelope

	res := func() Result {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return Result{Status: OutcomeDeclined, FailureReason: err.Error()}
			}
			reader = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
		if err != nil {
			return Result{Status: OutcomeDeclined, FailureReason: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+g.secretKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			reason := err.Error()
			var timeout interface{ Timeout() bool }
			if errors.As(err, &timeout) && timeout.Timeout() {
				reason = "gateway timeout"
			}
			logger.Warn("gateway_request_failed", zap.Error(err))
			return Result{Status: OutcomeUnavailable, FailureReason: reason}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return Result{Status: OutcomeUnavailable, FailureReason: fmt.Sprintf("read response: %v", err)}
		}
		logger.Info("gateway_response",
			zap.Int("http_status", resp.StatusCode),
			zap.ByteString("body", raw),
		)

		out := Result{RawPayload: string(raw)}
		_ = json.Unmarshal(raw, &env)
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			out.Status = OutcomeUnavailable
			out.FailureReason = fmt.Sprintf("gateway returned %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Status:
			out.Status = OutcomeDeclined
			out.FailureReason = env.Message
			if out.FailureReason == "" {
				out.FailureReason = fmt.Sprintf("gateway returned %d", resp.StatusCode)
			}
		default:
			out.Status = OutcomeSucceeded
		}
		return out
	}()

	g.metrics.ObserveGateway(op, string(res.Status), time.Since(start))
	return res, env
}
