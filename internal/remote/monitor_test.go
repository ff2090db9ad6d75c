package remote

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestMonitorTransitions(t *testing.T) {
	var up atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	mon := newMonitor(client, config.NewStaticSyncConfigHolder(config.DefaultSyncConfig()), zaptest.NewLogger(t), nil)

	reconnected := make(chan struct{}, 1)
	mon.OnReconnect(func(context.Context) { reconnected <- struct{}{} })

	assert.False(t, mon.Probe(context.Background()))
	assert.False(t, mon.Online())

	up.Store(true)
	assert.True(t, mon.Probe(context.Background()))
	assert.True(t, mon.Online())

	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}

	// Staying online does not fire the callback again.
	mon.ReportSuccess(context.Background())
	select {
	case <-reconnected:
		t.Fatal("unexpected reconnect callback")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorReportFailure(t *testing.T) {
	mon := newMonitor(nil, nil, nil, nil)
	mon.ReportSuccess(context.Background())

	mon.ReportFailure(context.Background(), &apperr.RemoteRejectedError{StatusCode: 400})
	assert.True(t, mon.Online())

	mon.ReportFailure(context.Background(), &apperr.RemoteUnavailableError{Op: "GET /clients"})
	assert.False(t, mon.Online())
}
