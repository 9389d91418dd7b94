package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-orders/internal/observability"
)

func newTestPaystack(t *testing.T, h http.HandlerFunc, timeout time.Duration) (*PaystackGateway, *observability.Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	m := observability.NewMetrics(prometheus.NewRegistry())
	return NewPaystackGateway(PaystackConfig{BaseURL: srv.URL, SecretKey: "sk_test", Timeout: timeout}, m), m
}

func TestInitializeConvertsToMinorUnits(t *testing.T) {
	var got map[string]any
	g, m := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://pay/abc","access_code":"abc","reference":"PAY-1"}}`))
	}, time.Second)

	h := g.InitializeTransaction(context.Background(), InitializeRequest{
		Reference:     "PAY-1",
		Amount:        decimal.RequireFromString("81000.50"),
		Currency:      "NGN",
		CustomerEmail: "a@b.c",
	})

	require.True(t, h.Succeeded())
	assert.Equal(t, "https://pay/abc", h.AuthorizationURL)
	assert.Equal(t, "PAY-1", h.Reference)
	assert.EqualValues(t, 8100050, got["amount"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayRequests.WithLabelValues("initialize", "succeeded")))
}

func TestInitializeDeclinedOnClientError(t *testing.T) {
	g, _ := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid email"}`))
	}, time.Second)

	h := g.InitializeTransaction(context.Background(), InitializeRequest{Reference: "PAY-2", Amount: decimal.NewFromInt(10)})

	assert.Equal(t, OutcomeDeclined, h.Status)
	assert.Equal(t, "Invalid email", h.FailureReason)
	assert.Contains(t, h.RawPayload, "Invalid email")
}

func TestServerErrorIsUnavailable(t *testing.T) {
	g, _ := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second)

	out := g.VerifyTransaction(context.Background(), "PAY-3")
	assert.True(t, out.Unavailable())
}

func TestTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	g, _ := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	out := g.VerifyTransaction(context.Background(), "PAY-4")
	assert.True(t, out.Unavailable())
	assert.Equal(t, "gateway timeout", out.FailureReason)
}

func TestVerifyNormalizesStatuses(t *testing.T) {
	cases := []struct {
		status string
		want   OutcomeStatus
	}{
		{"success", OutcomeSucceeded},
		{"failed", OutcomeDeclined},
		{"abandoned", OutcomePending},
		{"ongoing", OutcomePending},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			g, _ := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transaction/verify/PAY-5", r.URL.Path)
				_, _ = w.Write([]byte(`{"status":true,"data":{"id":42,"status":"` + tc.status + `","reference":"PAY-5",
					"amount":9000000,"currency":"NGN","channel":"card","paid_at":"2024-05-01T10:00:00Z",
					"authorization":{"last4":"4081","card_type":"visa ","bank":"TEST BANK"}}}`))
			}, time.Second)

			out := g.VerifyTransaction(context.Background(), "PAY-5")
			assert.Equal(t, tc.want, out.Status)
			assert.Equal(t, "42", out.GatewayRef)
			assert.EqualValues(t, 9000000, out.Amount)
			assert.Equal(t, "visa", out.Method.CardType)
			assert.Equal(t, "4081", out.Method.Last4)
		})
	}
}

func TestCreateRefundSendsMinorUnits(t *testing.T) {
	var got map[string]any
	g, _ := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"Refund has been queued for processing","data":{"id":7,"status":"pending"}}`))
	}, time.Second)

	out := g.CreateRefund(context.Background(), "42", decimal.NewFromInt(30000), "NGN")
	assert.True(t, out.Succeeded())
	assert.Equal(t, "7", out.GatewayRef)
	assert.Equal(t, "42", got["transaction"])
	assert.EqualValues(t, 3000000, got["amount"])
}
