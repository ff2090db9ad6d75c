package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	membershipservice "github.com/smallbiznis/fitdesk/internal/membership/service"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"github.com/smallbiznis/fitdesk/internal/reconciler"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"github.com/smallbiznis/fitdesk/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var today = time.Date(2025, 1, 20, 9, 30, 0, 0, time.UTC)

type env struct {
	api    http.Handler
	remote *gymRemote
	store  *localstore.Store
}

// newEnv wires the device stack the way the fx graph does, against an
// in-memory store and a fake gym service.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)
	gym := newGymRemote(t)

	var mu sync.Mutex
	n := 0
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%04d", n)
	}

	cfg := config.Config{
		DeviceID: "front-desk-1",
		Remote: config.RemoteConfig{
			BaseURL:  gym.srv.URL,
			APIToken: "token",
			Timeout:  2 * time.Second,
		},
	}
	store := localstore.NewMemory(newID)
	clk := clock.NewFakeClock(today)
	policy := config.NewStaticSyncConfigHolder(config.DefaultSyncConfig())
	engine := billingcycle.NewEngine(policy, clk)
	client := remote.NewHTTPClient(cfg.Remote, log, nil, gym.srv.Client())

	queue := outboxservice.NewQueue(outboxservice.QueueParams{Store: store, Clock: clk, Log: log})
	drainer := outboxservice.NewDrainer(outboxservice.DrainerParams{
		Queue: queue, Client: client, Policy: policy, Clock: clk, Log: log,
	})
	rec := reconciler.New(reconciler.Params{
		Store: store, Client: client, Queue: queue, Drainer: drainer, Engine: engine, Log: log,
	})
	members := membershipservice.New(membershipservice.Params{
		Config:     cfg,
		Store:      store,
		Queue:      queue,
		Drainer:    drainer,
		Reconciler: rec,
		Client:     client,
		Engine:     engine,
		Clock:      clk,
		Log:        log,
	})

	r := server.NewEngine(server.EngineConfig{DeviceID: cfg.DeviceID, Debug: true}, nil)
	server.NewServer(server.ServerParams{
		Gin:     r,
		Cfg:     cfg,
		Members: members,
		Drainer: drainer,
		Log:     log,
	})
	return &env{api: r, remote: gym, store: store}
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Queued bool            `json:"queued"`
}

func (e *env) call(t *testing.T, method, path string, body any, wantStatus int) envelope {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.api.ServeHTTP(rec, req)
	require.Equal(t, wantStatus, rec.Code, "%s %s: %s", method, path, rec.Body.String())

	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestJoinSetsFirstDueDate(t *testing.T) {
	e := newEnv(t)

	resp := e.call(t, http.MethodPost, "/api/members", map[string]any{
		"name":        "Ana",
		"email":       "ana@example.com",
		"monthly_fee": 100,
		"start_date":  "2025-01-01",
	}, http.StatusCreated)

	member := decode[membershipdomain.Member](t, resp.Data)
	assert.False(t, resp.Queued)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), member.NextDueDate.UTC())

	stored, ok := e.remote.client(member.ID)
	require.True(t, ok)
	assert.Equal(t, "2025-01-31", stored["next_payment_date"])
}

func TestPaymentAdvancesFromPreviousDue(t *testing.T) {
	e := newEnv(t)
	member := decode[membershipdomain.Member](t, e.call(t, http.MethodPost, "/api/members", map[string]any{
		"name":        "Ana",
		"email":       "ana@example.com",
		"monthly_fee": 100,
		"start_date":  "2025-01-01",
	}, http.StatusCreated).Data)

	preview := decode[membershipdomain.PaymentPreview](t, e.call(t, http.MethodPost, "/api/payments/preview", map[string]any{
		"member_id":   member.ID,
		"amount_paid": 250,
	}, http.StatusOK).Data)
	assert.Equal(t, 2, preview.CyclesCovered)

	resp := e.call(t, http.MethodPost, "/api/payments", map[string]any{
		"member_id":    member.ID,
		"amount_paid":  100,
		"payment_date": "2025-01-20",
	}, http.StatusCreated)

	outcome := decode[membershipdomain.PaymentOutcome](t, resp.Data)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), outcome.Member.NextDueDate.UTC())
	assert.Equal(t, 1, outcome.Payment.CyclesCovered)
}

func TestOfflineCreateDrainsWhenRemoteReturns(t *testing.T) {
	e := newEnv(t)
	e.remote.down.Store(true)

	resp := e.call(t, http.MethodPost, "/api/members", map[string]any{
		"name":        "Ben",
		"email":       "ben@example.com",
		"monthly_fee": 80,
		"start_date":  "2025-01-10",
	}, http.StatusAccepted)
	require.True(t, resp.Queued)
	member := decode[membershipdomain.Member](t, resp.Data)

	local, err := e.store.Members.Get(t.Context(), member.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ben", local.Name)

	pending := decode[[]outboxdomain.Entry](t, e.call(t, http.MethodGet, "/api/sync/pending", nil, http.StatusOK).Data)
	require.Len(t, pending, 1)
	assert.Equal(t, outboxdomain.StatusPending, pending[0].Status)
	key := pending[0].IdempotencyKey

	e.remote.down.Store(false)
	result := decode[outboxservice.DrainResult](t, e.call(t, http.MethodPost, "/api/sync/drain", nil, http.StatusOK).Data)
	assert.Equal(t, []string{pending[0].ID}, result.Completed)

	pending = decode[[]outboxdomain.Entry](t, e.call(t, http.MethodGet, "/api/sync/pending", nil, http.StatusOK).Data)
	assert.Empty(t, pending)
	_, ok := e.remote.client(member.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, e.remote.replays(key))
}

func TestRefreshKeepsPendingEdit(t *testing.T) {
	e := newEnv(t)
	member := decode[membershipdomain.Member](t, e.call(t, http.MethodPost, "/api/members", map[string]any{
		"name":        "Cara",
		"email":       "cara@example.com",
		"phone":       "555-0100",
		"monthly_fee": 90,
		"start_date":  "2025-01-05",
	}, http.StatusCreated).Data)

	e.remote.down.Store(true)
	e.call(t, http.MethodPut, "/api/members/"+member.ID, map[string]any{"phone": "555-0199"}, http.StatusAccepted)

	// Another terminal writes a newer copy while this one is offline.
	e.remote.down.Store(false)
	e.remote.edit(member.ID, map[string]any{"phone": "555-0777"}, time.Now().Add(time.Hour))

	summary := decode[membershipdomain.RefreshSummary](t, e.call(t, http.MethodPost, "/api/sync/refresh", nil, http.StatusOK).Data)
	assert.Equal(t, 1, summary.MembersKept)
	assert.Equal(t, 1, summary.Drained)

	local := decode[membershipdomain.Member](t, e.call(t, http.MethodGet, "/api/members/"+member.ID, nil, http.StatusOK).Data)
	assert.Equal(t, "555-0199", local.Phone)

	stored, ok := e.remote.client(member.ID)
	require.True(t, ok)
	assert.Equal(t, "555-0199", stored["phone"])
}

func TestRefreshAdoptsNewerRemoteCopy(t *testing.T) {
	e := newEnv(t)
	member := decode[membershipdomain.Member](t, e.call(t, http.MethodPost, "/api/members", map[string]any{
		"name":        "Dev",
		"email":       "dev@example.com",
		"monthly_fee": 60,
		"start_date":  "2025-01-05",
	}, http.StatusCreated).Data)

	e.remote.edit(member.ID, map[string]any{"phone": "555-0300"}, time.Now().Add(time.Hour))

	summary := decode[membershipdomain.RefreshSummary](t, e.call(t, http.MethodPost, "/api/sync/refresh", nil, http.StatusOK).Data)
	assert.Equal(t, 1, summary.MembersUpdated)

	local := decode[membershipdomain.Member](t, e.call(t, http.MethodGet, "/api/members/"+member.ID, nil, http.StatusOK).Data)
	assert.Equal(t, "555-0300", local.Phone)
}
