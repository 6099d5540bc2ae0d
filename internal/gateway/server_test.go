package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassonic/atlas/internal/config"
	"github.com/atlassonic/atlas/internal/dashboard"
	"github.com/atlassonic/atlas/internal/domain"
	"github.com/atlassonic/atlas/internal/fleet"
	"github.com/atlassonic/atlas/internal/generator"
	"github.com/atlassonic/atlas/internal/hubs"
	"github.com/atlassonic/atlas/internal/llm"
	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/metrics"
	"github.com/atlassonic/atlas/internal/orchestration"
	"github.com/atlassonic/atlas/internal/realtime"
	"github.com/atlassonic/atlas/internal/store"
)

const testToken = "test-token-123"

type harness struct {
	srv    *Server
	ts     *httptest.Server
	db     *store.DB
	broker *realtime.Broker
	llm    *llm.MockClient
}

type harnessOption func(*config.Config)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth = config.GatewayAuth{Mode: AuthToken, Token: testToken}
	cfg.Gateway.RateLimit = config.RateLimitConfig{}
	cfg.Realtime.DebounceMs = 10
	for _, o := range opts {
		o(&cfg)
	}

	log := logging.New(nil, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	broker := realtime.NewBroker(cfg.Realtime, log, m)
	t.Cleanup(broker.Close)

	fm := fleet.New(db, cfg.Fleet, fleet.WithLogger(log), fleet.WithPublisher(broker))
	svc := Services{
		DB: db,
		Orchestration: orchestration.NewService(db, cfg.Orchestration, cfg.Store.FetchLimit,
			orchestration.WithLogger(log), orchestration.WithPublisher(broker), orchestration.WithFleet(fm)),
		Fleet:      fm,
		Hubs:       hubs.New(db, broker, log),
		Dashboards: dashboard.New(db, dashboard.WithFleet(fm), dashboard.WithPublisher(broker)),
	}
	mock := &llm.MockClient{}
	srv := New(cfg, svc, log,
		WithBroker(broker),
		WithMetrics(m),
		WithGenerator(generator.New(mock, m, log)),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, ts: ts, db: db, broker: broker, llm: mock}
}

// do sends an authenticated JSON request and returns status and body.
func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Empty(t, health.Version, "public endpoint reports status only")
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Close())

	resp, err := http.Get(h.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(t, http.MethodGet, "/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "/nonexistent")
}

func TestRequireAuth(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/rest/v1/agents")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, h.ts.URL+"/rest/v1/agents", nil)
	req.Header.Set("apikey", testToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequireAuth_BlocksRepeatedFailures(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < authRateMaxFails; i++ {
		req, _ := http.NewRequest(http.MethodGet, h.ts.URL+"/rest/v1/agents", nil)
		req.Header.Set("apikey", "wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	status, _ := h.do(t, http.MethodGet, "/rest/v1/agents", nil)
	assert.Equal(t, http.StatusTooManyRequests, status, "even a valid token is refused while blocked")
}

func TestAuthNoneMode(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Gateway.Auth = config.GatewayAuth{Mode: AuthNone} })
	resp, err := http.Get(h.ts.URL + "/rest/v1/tasks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Gateway.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	})
	for i := 0; i < 2; i++ {
		status, _ := h.do(t, http.MethodGet, "/rest/v1/agents", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := h.do(t, http.MethodGet, "/rest/v1/agents", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Contains(t, string(body), "rate limit exceeded")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/rest/v1/agents", nil)

	resp, err := http.Get(h.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `atlas_http_requests_total{code="200",method="GET",route="/rest/v1/agents"}`)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.GatewayConfig
		want string
	}{
		{config.GatewayConfig{Port: 8080}, "127.0.0.1:8080"},
		{config.GatewayConfig{Port: 8080, Bind: "loopback"}, "127.0.0.1:8080"},
		{config.GatewayConfig{Port: 8080, Bind: "lan"}, "0.0.0.0:8080"},
		{config.GatewayConfig{Port: 9, Bind: "custom", CustomBindHost: "10.0.0.5"}, "10.0.0.5:9"},
		{config.GatewayConfig{Port: 9, Bind: "custom"}, "0.0.0.0:9"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, resolveBindAddr(tc.cfg))
	}
}

func TestMethods(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{
		"health",
		"orchestration.command",
		"orchestration.status",
		"realtime.subscribe",
		"realtime.unsubscribe",
	}, h.srv.Methods())
}

// WebSocket

func dialWS(t *testing.T, h *harness, params ConnectParams) (*websocket.Conn, Frame) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, EventChallenge, challenge.Event)

	req, err := NewRequest("c1", "connect", params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	return conn, hello
}

func connectParams() ConnectParams {
	return ConnectParams{
		MinProtocol: 1, MaxProtocol: 1,
		Client:   ClientInfo{ID: "test", Version: "1.0", Platform: "linux"},
		Auth:     &ConnectAuth{Token: testToken},
		TenantID: "acme",
	}
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeResponse && f.ID == id {
			return f
		}
	}
}

func TestWebSocketHandshake(t *testing.T) {
	h := newHarness(t)
	_, hello := dialWS(t, h, connectParams())

	require.NotNil(t, hello.OK)
	assert.True(t, *hello.OK)
	var payload HelloOK
	require.NoError(t, json.Unmarshal(hello.Payload, &payload))
	assert.Equal(t, ProtocolVersion, payload.Protocol)
	assert.Equal(t, "acme", payload.TenantID)
	assert.NotEmpty(t, payload.Server.ConnID)
	assert.Contains(t, payload.Features.Methods, "realtime.subscribe")
	assert.Equal(t, domain.Tables, payload.Features.Tables)
}

func TestWebSocketHandshake_DefaultTenant(t *testing.T) {
	h := newHarness(t)
	p := connectParams()
	p.TenantID = ""
	_, hello := dialWS(t, h, p)

	var payload HelloOK
	require.NoError(t, json.Unmarshal(hello.Payload, &payload))
	assert.Equal(t, "default", payload.TenantID)
}

func TestWebSocketHandshake_Rejected(t *testing.T) {
	h := newHarness(t)

	p := connectParams()
	p.Auth = &ConnectAuth{Token: "wrong"}
	_, hello := dialWS(t, h, p)
	require.NotNil(t, hello.OK)
	assert.False(t, *hello.OK)
	assert.Equal(t, "unauthorized", hello.Error.Code)

	p = connectParams()
	p.MaxProtocol = 0
	p.MinProtocol = 0
	_, hello = dialWS(t, h, p)
	assert.True(t, *hello.OK, "unset protocol range is accepted")
}

func TestWebSocketRPC(t *testing.T) {
	h := newHarness(t)
	conn, _ := dialWS(t, h, connectParams())

	res := call(t, conn, "r1", "health", nil)
	require.True(t, *res.OK)
	health := decode[HealthResponse](t, res.Payload)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)

	res = call(t, conn, "r2", "no.such.method", nil)
	assert.False(t, *res.OK)
	assert.Equal(t, "method_not_found", res.Error.Code)

	res = call(t, conn, "r3", "orchestration.status", nil)
	require.True(t, *res.OK, "%s", res.Payload)
	st := decode[orchestration.Status](t, res.Payload)
	assert.Zero(t, st.PendingTasks)

	res = call(t, conn, "r4", "orchestration.command", map[string]string{"text": "status"})
	require.True(t, *res.OK)
	assert.Contains(t, string(res.Payload), `"intent"`)

	res = call(t, conn, "r5", "orchestration.command", map[string]string{"text": "make me a sandwich"})
	assert.False(t, *res.OK)
	assert.Equal(t, "invalid_params", res.Error.Code)

	res = call(t, conn, "r6", "orchestration.command", map[string]string{})
	assert.False(t, *res.OK)
	assert.Contains(t, res.Error.Message, "text")
}

func TestWebSocketRealtimeChanges(t *testing.T) {
	h := newHarness(t)
	conn, _ := dialWS(t, h, connectParams())

	res := call(t, conn, "s1", "realtime.subscribe", SubscribeParams{Tables: []string{domain.TableAgents}})
	require.True(t, *res.OK, "%s", res.Payload)
	sub := decode[SubscribeResult](t, res.Payload)
	assert.Equal(t, []string{"acme:agents"}, sub.Topics)
	assert.Equal(t, 1, h.broker.Subscribers())

	// Another tenant's write is not delivered.
	status, _ := h.do(t, http.MethodPost, "/rest/v1/agents", map[string]any{"name": "other", "sector": "retail"}, "X-Tenant-ID", "other")
	require.Equal(t, http.StatusCreated, status)

	status, body := h.do(t, http.MethodPost, "/rest/v1/agents", map[string]any{"name": "scout", "sector": "finance"}, "X-Tenant-ID", "acme")
	require.Equal(t, http.StatusCreated, status)
	created := decode[domain.Agent](t, body)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Frame
	for {
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == FrameTypeEvent && ev.Event == EventChanges {
			break
		}
	}
	changes := decode[ChangesEvent](t, ev.Payload)
	assert.Equal(t, sub.SubscriptionID, changes.SubscriptionID)
	assert.Equal(t, domain.TableAgents, changes.Table)
	assert.Equal(t, []string{created.ID}, changes.RecordIDs)
	assert.Positive(t, ev.Seq)

	res = call(t, conn, "s2", "realtime.unsubscribe", UnsubscribeParams{SubscriptionID: sub.SubscriptionID})
	require.True(t, *res.OK)
	assert.JSONEq(t, `{"removed":true}`, string(res.Payload))
	assert.Equal(t, 0, h.broker.Subscribers())

	res = call(t, conn, "s3", "realtime.subscribe", SubscribeParams{Tables: []string{"secrets"}})
	assert.False(t, *res.OK)
	assert.Equal(t, "invalid_params", res.Error.Code)
}

func TestWebSocketClose_ReleasesSubscriptions(t *testing.T) {
	h := newHarness(t)
	conn, _ := dialWS(t, h, connectParams())
	res := call(t, conn, "s1", "realtime.subscribe", SubscribeParams{})
	require.True(t, *res.OK)
	require.Equal(t, 1, h.broker.Subscribers())

	conn.Close()
	assert.Eventually(t, func() bool { return h.broker.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.srv.clients.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartAndShutdown(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Gateway.Port = 0 })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
