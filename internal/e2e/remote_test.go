package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gymRemote is an in-memory stand-in for the gym service REST API.
type gymRemote struct {
	srv  *httptest.Server
	down atomic.Bool

	mu       sync.Mutex
	clients  map[string]map[string]any
	keys     map[string]int
	requests int
}

func newGymRemote(t *testing.T) *gymRemote {
	t.Helper()
	g := &gymRemote{
		clients: map[string]map[string]any{},
		keys:    map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /clients", g.listClients)
	mux.HandleFunc("POST /clients", g.putClient)
	mux.HandleFunc("PUT /clients/{id}", g.putClient)
	mux.HandleFunc("DELETE /clients/{id}", g.deleteClient)
	mux.HandleFunc("GET /membership-types", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	})
	mux.HandleFunc("POST /payments/record", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, map[string]any{"amount_paid": req["amount_paid"], "invoice_sent": false})
	})

	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.requests++
		g.mu.Unlock()
		if g.down.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "maintenance"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gymRemote) listClients(w http.ResponseWriter, _ *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]map[string]any, 0, len(g.clients))
	for _, c := range g.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(string) < out[j]["id"].(string) })
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (g *gymRemote) putClient(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "invalid_body"}})
		return
	}
	id, _ := body["id"].(string)
	if pathID := r.PathValue("id"); pathID != "" {
		id = pathID
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		g.keys[key]++
	}
	body["id"] = id
	body["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	g.clients[id] = body
	writeJSON(w, http.StatusOK, map[string]any{"data": body})
}

func (g *gymRemote) deleteClient(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// edit changes a stored client as if another terminal had written it.
func (g *gymRemote) edit(id string, fields map[string]any, updatedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[id]
	if !ok {
		return
	}
	for k, v := range fields {
		c[k] = v
	}
	c["updated_at"] = updatedAt.UTC().Format(time.RFC3339Nano)
}

func (g *gymRemote) client(id string) (map[string]any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[id]
	return c, ok
}

func (g *gymRemote) replays(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[key]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
