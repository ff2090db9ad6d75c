package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/smallbiznis/fitdesk/internal/observability/metrics"
	"github.com/smallbiznis/fitdesk/internal/observability/tracing"
	"github.com/smallbiznis/fitdesk/pkg/telemetry/correlation"
	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	pathClients         = "/clients"
	pathPayments        = "/payments/record"
	pathMembershipTypes = "/membership-types"

	maxResponseBytes = 8 << 20
)

var errNotConfigured = errors.New("remote service not configured")

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type HTTPClient struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) Client {
	return NewHTTPClient(p.Config.Remote, p.Log, p.Metrics, nil)
}

// NewHTTPClient builds the REST client. A nil httpClient uses a fresh
// client with the tracing transport.
func NewHTTPClient(cfg config.RemoteConfig, log *zap.Logger, m *metrics.Metrics, httpClient *http.Client) *HTTPClient {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("remote.client")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A rejection is the server working as intended.
		IsSuccessful: func(err error) bool {
			return err == nil || apperr.IsRemoteRejected(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("remote circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   strings.TrimSpace(cfg.APIToken),
		timeout: timeout,
		http:    tracing.WrapHTTPClient(httpClient),
		breaker: breaker,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
		metrics: m,
	}
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, pathClients+"?limit=1", "", nil, nil)
}

func (c *HTTPClient) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	var dtos []clientDTO
	if err := c.do(ctx, http.MethodGet, pathClients, "", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]*domain.Member, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

func (c *HTTPClient) CreateMember(ctx context.Context, member *domain.Member, idempotencyKey string) (*domain.Member, error) {
	var dto clientDTO
	if err := c.do(ctx, http.MethodPost, pathClients, idempotencyKey, toClientDTO(member), &dto); err != nil {
		return nil, err
	}
	return c.confirmedMember(member, dto), nil
}

func (c *HTTPClient) UpdateMember(ctx context.Context, member *domain.Member, idempotencyKey string) (*domain.Member, error) {
	var dto clientDTO
	path := pathClients + "/" + url.PathEscape(member.ID)
	if err := c.do(ctx, http.MethodPut, path, idempotencyKey, toClientDTO(member), &dto); err != nil {
		return nil, err
	}
	return c.confirmedMember(member, dto), nil
}

func (c *HTTPClient) DeleteMember(ctx context.Context, id, idempotencyKey string) error {
	return c.do(ctx, http.MethodDelete, pathClients+"/"+url.PathEscape(id), idempotencyKey, nil, nil)
}

func (c *HTTPClient) RecordPayment(ctx context.Context, payment *domain.Payment, idempotencyKey string) (*PaymentReceipt, error) {
	req := recordPaymentRequest{
		PaymentID:     payment.ID,
		ClientID:      payment.MemberID,
		AmountPaid:    payment.AmountPaid,
		PaymentDate:   NewDate(payment.PaymentDate),
		PaymentMethod: payment.Method,
		Notes:         payment.Note,
	}
	var resp recordPaymentResponse
	if err := c.do(ctx, http.MethodPost, pathPayments, idempotencyKey, req, &resp); err != nil {
		return nil, err
	}
	receipt := &PaymentReceipt{
		AmountPaid:  resp.AmountPaid,
		InvoiceSent: resp.InvoiceSent,
	}
	if resp.NewNextPaymentDate != nil && !resp.NewNextPaymentDate.IsZero() {
		next := resp.NewNextPaymentDate.Time
		receipt.NewNextDueDate = &next
	}
	return receipt, nil
}

func (c *HTTPClient) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	var dtos []membershipTypeDTO
	if err := c.do(ctx, http.MethodGet, pathMembershipTypes, "", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]*domain.Plan, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

func (c *HTTPClient) CreatePlan(ctx context.Context, plan *domain.Plan, idempotencyKey string) (*domain.Plan, error) {
	var dto membershipTypeDTO
	if err := c.do(ctx, http.MethodPost, pathMembershipTypes, idempotencyKey, toMembershipTypeDTO(plan), &dto); err != nil {
		return nil, err
	}
	return confirmedPlan(plan, dto), nil
}

func (c *HTTPClient) UpdatePlan(ctx context.Context, plan *domain.Plan, idempotencyKey string) (*domain.Plan, error) {
	var dto membershipTypeDTO
	path := pathMembershipTypes + "/" + url.PathEscape(plan.ID)
	if err := c.do(ctx, http.MethodPut, path, idempotencyKey, toMembershipTypeDTO(plan), &dto); err != nil {
		return nil, err
	}
	return confirmedPlan(plan, dto), nil
}

func (c *HTTPClient) DeletePlan(ctx context.Context, id, idempotencyKey string) error {
	return c.do(ctx, http.MethodDelete, pathMembershipTypes+"/"+url.PathEscape(id), idempotencyKey, nil, nil)
}

// confirmedMember prefers the server's copy but keeps the local one when the
// server answered with an empty body.
func (c *HTTPClient) confirmedMember(local *domain.Member, dto clientDTO) *domain.Member {
	if dto.ID == "" && dto.Email == "" {
		cp := *local
		return &cp
	}
	confirmed := dto.toDomain()
	if confirmed.ID == "" {
		confirmed.ID = local.ID
	}
	return confirmed
}

func confirmedPlan(local *domain.Plan, dto membershipTypeDTO) *domain.Plan {
	if dto.ID == "" && dto.Name == "" {
		cp := *local
		return &cp
	}
	confirmed := dto.toDomain()
	if confirmed.ID == "" {
		confirmed.ID = local.ID
	}
	confirmed.Slug = local.Slug
	return confirmed
}

func (c *HTTPClient) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	op := method + " " + endpointOf(path)
	if c.baseURL == "" {
		return &apperr.RemoteUnavailableError{Op: op, Err: errNotConfigured}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &apperr.RemoteUnavailableError{Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, idempotencyKey, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &apperr.RemoteUnavailableError{Op: op, Err: err}
	}
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, op, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	cid := correlation.InjectHeader(ctx, req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordRemoteCall(ctx, endpointOf(path), 0)
		c.log.Debug("remote call failed",
			zap.String("op", op),
			zap.String("correlation_id", cid),
			zap.Error(err),
		)
		return &apperr.RemoteUnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.metrics.RecordRemoteCall(ctx, endpointOf(path), resp.StatusCode)
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &apperr.RemoteUnavailableError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	c.log.Debug("remote call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.String("correlation_id", cid),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		_, msg := parseErrorBody(raw)
		return &apperr.RemoteUnavailableError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(orStatus(msg, resp.StatusCode))}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return &apperr.RemoteUnavailableError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode >= http.StatusBadRequest:
		code, msg := parseErrorBody(raw)
		return &apperr.RemoteRejectedError{Op: op, StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := decodeBody(raw, out); err != nil {
		return &apperr.RemoteUnavailableError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// decodeBody accepts bare payloads and payloads wrapped in {"data": ...}.
func decodeBody(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			if data, ok := envelope["data"]; ok {
				return json.Unmarshal(data, out)
			}
		}
	}
	return json.Unmarshal(trimmed, out)
}

func endpointOf(path string) string {
	path = strings.SplitN(path, "?", 2)[0]
	switch {
	case strings.HasPrefix(path, pathClients):
		return "clients"
	case strings.HasPrefix(path, pathPayments):
		return "payments"
	case strings.HasPrefix(path, pathMembershipTypes):
		return "membership_types"
	default:
		return "other"
	}
}

func orStatus(msg string, status int) string {
	if strings.TrimSpace(msg) != "" {
		return msg
	}
	return http.StatusText(status)
}
