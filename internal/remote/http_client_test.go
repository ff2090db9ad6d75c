package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.RemoteConfig{
		BaseURL:  srv.URL,
		APIToken: "secret",
		Timeout:  time.Second,
	}, zaptest.NewLogger(t), nil, srv.Client())
}

func TestCreateMemberSendsHeadersAndDecodesEnvelope(t *testing.T) {
	var got clientDTO
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/clients", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Correlation-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"m1","name":"Ana","email":"ana@example.com","monthly_fee":100,"next_payment_date":"2025-01-31","updated_at":"2025-01-02T10:00:00Z"}}`))
	})

	member := &domain.Member{
		ID:          "m1",
		Name:        "Ana",
		Email:       "ana@example.com",
		MonthlyFee:  100,
		StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		NextDueDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	confirmed, err := client.CreateMember(context.Background(), member, "key-1")
	require.NoError(t, err)

	assert.Equal(t, "2025-01-01", got.JoinDate.Format(dateLayout))
	assert.Equal(t, "m1", confirmed.ID)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), confirmed.NextDueDate)
	assert.Equal(t, time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), confirmed.UpdatedAt)
	assert.Equal(t, domain.MemberStatusActive, confirmed.Status)
}

func TestRecordPaymentDecodesBareResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/record", r.URL.Path)
		var req recordPaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "m1", req.ClientID)
		assert.Equal(t, 250.0, req.AmountPaid)
		_, _ = w.Write([]byte(`{"amount_paid":250,"new_next_payment_date":"2025-04-01","invoice_sent":true}`))
	})

	receipt, err := client.RecordPayment(context.Background(), &domain.Payment{
		ID:          "p1",
		MemberID:    "m1",
		AmountPaid:  250,
		PaymentDate: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	}, "key-2")
	require.NoError(t, err)
	require.NotNil(t, receipt.NewNextDueDate)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), *receipt.NewNextDueDate)
	assert.True(t, receipt.InvoiceSent)
	assert.Equal(t, 250.0, receipt.AmountPaid)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
		code        string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, unavailable: true},
		{name: "bad gateway", status: http.StatusBadGateway, unavailable: true},
		{name: "throttled", status: http.StatusTooManyRequests, unavailable: true},
		{name: "validation", status: http.StatusUnprocessableEntity, body: `{"error":{"code":"invalid_email","message":"email is invalid"}}`, code: "invalid_email"},
		{name: "conflict", status: http.StatusConflict, body: `{"code":"already_exists","message":"exists"}`, code: "already_exists"},
		{name: "not found", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			err := client.DeleteMember(context.Background(), "m1", "key")
			require.Error(t, err)
			if tt.unavailable {
				assert.True(t, apperr.IsRemoteUnavailable(err))
				assert.False(t, apperr.IsRemoteRejected(err))
				return
			}
			rejected, ok := apperr.AsRemoteRejected(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, rejected.StatusCode)
			assert.Equal(t, tt.code, rejected.Code)
		})
	}
}

func TestTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client := NewHTTPClient(config.RemoteConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, zaptest.NewLogger(t), nil, srv.Client())
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsRemoteUnavailable(err))
}

func TestUnconfiguredClientIsUnavailable(t *testing.T) {
	client := NewHTTPClient(config.RemoteConfig{}, nil, nil, nil)
	_, err := client.ListMembers(context.Background())
	assert.True(t, apperr.IsRemoteUnavailable(err))
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 8; i++ {
		err := client.Ping(context.Background())
		require.Error(t, err)
		assert.True(t, apperr.IsRemoteUnavailable(err))
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestRejectionsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	for i := 0; i < 8; i++ {
		err := client.DeletePlan(context.Background(), "p1", "key")
		assert.True(t, apperr.IsRemoteRejected(err))
	}
	assert.Equal(t, int32(8), calls.Load())
}

func TestListPlans(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/membership-types", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"pl1","name":"Monthly","price":100,"duration_days":30,"is_active":true}]`))
	})

	plans, err := client.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, 30, plans[0].CycleDays)
	assert.True(t, plans[0].Active)
}

func TestDecodeBody(t *testing.T) {
	var ids []string
	require.NoError(t, decodeBody([]byte(`{"data":["a","b"]}`), &ids))
	assert.Equal(t, []string{"a", "b"}, ids)

	var dto clientDTO
	require.NoError(t, decodeBody([]byte(`{"id":"x","name":"data"}`), &dto))
	assert.Equal(t, "x", dto.ID)
}
