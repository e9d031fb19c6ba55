package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/config"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/engine"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/flow"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/idempotency"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/orchestrator"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/services"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/storage"
)

var fixtureFlows = []string{
	`
metadata:
  name: ask
steps:
  - id: chat
    capability: chat
    on_failure: abort
    input:
      message: ${request.message}
`,
	`
metadata:
  name: query
steps:
  - id: chat
    capability: chat
    on_failure: abort
    input:
      message: ${request.message}
`,
	`
metadata:
  name: secure
require_auth: true
steps:
  - id: check
    capability: eligibility_check
    on_failure: abort
`,
	`
metadata:
  name: enrich
steps:
  - id: chat
    capability: chat
    on_failure: abort
  - id: translate
    capability: translation
    on_failure: degrade
    depends_on: [chat]
`,
	`
metadata:
  name: broken
steps:
  - id: simulate
    capability: simulation
    on_failure: abort
`,
	`
metadata:
  name: enroll
mutating: true
idempotency_fields: [phone]
steps:
  - id: register
    capability: register
    on_failure: abort
    input:
      phone: ${request.phone}
`,
	`
metadata:
  name: flaky
mutating: true
idempotency_fields: [source_url]
steps:
  - id: check
    capability: deadline_check
    on_failure: abort
`,
	`
metadata:
  name: enroll-slow
mutating: true
idempotency_fields: [phone]
steps:
  - id: create
    capability: identity_creation
    on_failure: abort
    input:
      phone: ${request.phone}
`,
}

// fixture stands up the full gateway against one fake engine backend
type fixture struct {
	t       *testing.T
	server  *Server
	backend *httptest.Server

	registerCalls int32
	deadlineCalls int32
	identityCalls int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"response": "namaste"},
		})
	})
	mux.HandleFunc("/eligibility", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"eligible": true})
	})
	mux.HandleFunc("/translate", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "translation model offline", http.StatusInternalServerError)
	})
	mux.HandleFunc("/simulate", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "simulator offline", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.registerCalls, 1)
		json.NewEncoder(w).Encode(map[string]any{"user_id": "u-1"})
	})
	mux.HandleFunc("/identity", func(w http.ResponseWriter, r *http.Request) {
		// Slow enough that a concurrent duplicate races the first request
		time.Sleep(250 * time.Millisecond)
		atomic.AddInt32(&f.identityCalls, 1)
		json.NewEncoder(w).Encode(map[string]any{"identity_id": "i-1"})
	})
	mux.HandleFunc("/deadline", func(w http.ResponseWriter, r *http.Request) {
		// The first request's three attempts all fail; the retry succeeds
		if atomic.AddInt32(&f.deadlineCalls, 1) <= 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"days_left": float64(12)})
	})
	f.backend = httptest.NewServer(mux)
	t.Cleanup(f.backend.Close)

	registry := engine.NewRegistry(3)
	require.NoError(t, registry.Register(engine.Engine{
		ID:      "E99",
		Name:    "fake",
		BaseURL: f.backend.URL,
		Capabilities: map[engine.Capability]string{
			engine.CapChat:             "/chat",
			engine.CapEligibilityCheck: "/eligibility",
			engine.CapTranslation:      "/translate",
			engine.CapSimulation:       "/simulate",
			engine.CapRegister:         "/register",
			engine.CapDeadlineCheck:    "/deadline",
			engine.CapIdentityCreation: "/identity",
		},
	}))

	flows := flow.NewStore()
	for _, doc := range fixtureFlows {
		def, err := flow.Parse([]byte(doc))
		require.NoError(t, err)
		require.NoError(t, flows.Register(def))
	}

	orch := orchestrator.New(flows, registry, engine.NewHTTPClient(2*time.Second), orchestrator.NewPool(8), orchestrator.Options{
		MaxAttempts:        3,
		RetryBackoff:       5 * time.Millisecond,
		DefaultStepTimeout: 2 * time.Second,
	})
	t.Cleanup(orch.Close)

	guard := idempotency.NewMemoryGuard(time.Hour)
	t.Cleanup(guard.Close)

	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.Initialize())

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenExpiration = 1
	cfg.Auth.RateLimitPerMinute = 100000
	cfg.Auth.RateLimitBurstPerSecond = 100000

	f.server = NewServer(
		cfg,
		flows,
		orch,
		registry,
		engine.NewProber(registry, "@every 30s", time.Second),
		services.NewAccountService(provider.GetAccountStore()),
		services.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration),
		guard,
		provider.GetExecutionStore(),
	)
	return f
}

func (f *fixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		encoded, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) decode(rec *httptest.ResponseRecorder) Response {
	f.t.Helper()
	var resp Response
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// createAccount registers an account and returns its ID and API token
func (f *fixture) createAccount(username string) (string, string) {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/accounts", map[string]any{
		"username": username,
		"password": "secret123",
		"phone":    "+919876543210",
	}, nil)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := f.decode(rec)
	return resp.Data["id"].(string), resp.Data["api_token"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAccountLifecycle(t *testing.T) {
	f := newFixture(t)

	t.Run("create", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/accounts", map[string]any{
			"username": "asha",
			"password": "secret123",
			"phone":    "+919876543210",
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := f.decode(rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "asha", resp.Data["username"])
		assert.NotEmpty(t, resp.Data["api_token"])
		assert.NotEmpty(t, resp.RequestID)
	})

	t.Run("duplicate username answers 409", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/accounts", map[string]any{
			"username": "asha",
			"password": "another",
		}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.False(t, f.decode(rec).Success)
	})

	t.Run("missing fields answer 422", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/accounts", map[string]any{"username": "x"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = f.do(http.MethodPost, "/api/v1/accounts", "{not json", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("login issues a usable JWT", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/login", map[string]any{
			"username": "asha",
			"password": "secret123",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := f.decode(rec)
		token := resp.Data["access_token"].(string)
		assert.Equal(t, "bearer", resp.Data["token_type"])

		rec = f.do(http.MethodGet, "/api/v1/accounts/me", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "asha", f.decode(rec).Data["username"])
	})

	t.Run("wrong password answers 401", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/login", map[string]any{
			"username": "asha",
			"password": "wrong",
		}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRunFlow(t *testing.T) {
	f := newFixture(t)

	t.Run("completed flow answers 200", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/flows/ask/run", map[string]any{
			"message": "pm kisan kya hai",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := f.decode(rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "COMPLETED", resp.Data["state"])
		assert.NotEmpty(t, resp.Data["execution_id"])
		assert.Empty(t, resp.Degraded)
	})

	t.Run("alias endpoint runs the same flow", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/query", map[string]any{
			"message": "pm kisan kya hai",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "query", f.decode(rec).Data["flow"])
	})

	t.Run("degraded flow answers 200 and names the capability", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/flows/enrich/run", map[string]any{}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := f.decode(rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "DEGRADED", resp.Data["state"])
		assert.Equal(t, []string{"translation"}, resp.Degraded)
	})

	t.Run("unreachable engine on abort step answers 503", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/flows/broken/run", map[string]any{}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		resp := f.decode(rec)
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Errors)
	})

	t.Run("invalid body answers 422", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/flows/ask/run", "{not json", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("auth-required flow rejects anonymous callers", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/flows/secure/run", map[string]any{}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("auth-required flow accepts an API token", func(t *testing.T) {
		_, token := f.createAccount("farmer1")

		rec := f.do(http.MethodPost, "/api/v1/flows/secure/run", map[string]any{}, map[string]string{
			"Authorization": "Bearer " + token,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "COMPLETED", f.decode(rec).Data["state"])
	})
}

func TestBuiltinFlowAliasRoutes(t *testing.T) {
	flows := flow.NewStore()
	require.NoError(t, flows.RegisterBuiltins())

	registry := engine.NewRegistry(3)
	orch := orchestrator.New(flows, registry, engine.NewHTTPClient(time.Second), orchestrator.NewPool(4), orchestrator.Options{
		MaxAttempts:        1,
		RetryBackoff:       time.Millisecond,
		DefaultStepTimeout: time.Second,
	})
	t.Cleanup(orch.Close)

	guard := idempotency.NewMemoryGuard(time.Hour)
	t.Cleanup(guard.Close)

	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.Initialize())

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.RateLimitPerMinute = 100000
	cfg.Auth.RateLimitBurstPerSecond = 100000

	s := NewServer(
		cfg,
		flows,
		orch,
		registry,
		engine.NewProber(registry, "@every 30s", time.Second),
		services.NewAccountService(provider.GetAccountStore()),
		services.NewJWTService(cfg.Auth.JWTSecret, 1),
		guard,
		provider.GetExecutionStore(),
	)

	// Every public alias must route to its flow; no engines are registered,
	// so any answer other than 404/405 proves the route is bound
	for alias, name := range flowAliases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1"+alias, bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(rec, req)

		assert.NotEqual(t, http.StatusNotFound, rec.Code, "alias %s should reach flow %s", alias, name)
		assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code, "alias %s should reach flow %s", alias, name)
	}
}

func TestMutatingFlowIdempotency(t *testing.T) {
	f := newFixture(t)
	payload := map[string]any{"phone": "+919876543210", "name": "Asha"}

	rec := f.do(http.MethodPost, "/api/v1/flows/enroll/run", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := f.decode(rec)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.registerCalls))

	t.Run("duplicate answers 409 echoing the stored result", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/flows/enroll/run", payload, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "true", rec.Header().Get("Idempotency-Replayed"))

		echoed := f.decode(rec)
		assert.Equal(t, first.Data["execution_id"], echoed.Data["execution_id"])

		// The flow did not run again
		assert.EqualValues(t, 1, atomic.LoadInt32(&f.registerCalls))
	})

	t.Run("different phone is a fresh request", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/flows/enroll/run", map[string]any{
			"phone": "+911111111111",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Idempotency-Replayed"))
		assert.EqualValues(t, 2, atomic.LoadInt32(&f.registerCalls))
	})

	t.Run("explicit header key wins over derived key", func(t *testing.T) {
		headers := map[string]string{"Idempotency-Key": "client-key-1"}

		rec := f.do(http.MethodPost, "/api/v1/flows/enroll/run", map[string]any{
			"phone": "+912222222222",
		}, headers)
		require.Equal(t, http.StatusOK, rec.Code)

		// Same key, different body: still a duplicate
		rec = f.do(http.MethodPost, "/api/v1/flows/enroll/run", map[string]any{
			"phone": "+913333333333",
		}, headers)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "true", rec.Header().Get("Idempotency-Replayed"))
		assert.EqualValues(t, 3, atomic.LoadInt32(&f.registerCalls))
	})
}

func TestMutatingFlowConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	payload := map[string]any{"phone": "+914444444444"}

	recs := make(chan *httptest.ResponseRecorder, 2)
	for i := 0; i < 2; i++ {
		go func() {
			recs <- f.do(http.MethodPost, "/api/v1/flows/enroll-slow/run", payload, nil)
		}()
	}

	var winner, loser *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		rec := <-recs
		if rec.Code == http.StatusOK {
			winner = rec
		} else {
			loser = rec
		}
	}

	require.NotNil(t, winner, "one request must run the flow")
	require.NotNil(t, loser, "the other must observe the duplicate")

	// The loser waits for the winner and echoes its result as a conflict
	assert.Equal(t, http.StatusConflict, loser.Code, loser.Body.String())
	assert.Equal(t, "true", loser.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, f.decode(winner).Data["execution_id"], f.decode(loser).Data["execution_id"])

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.identityCalls))
}

func TestMutatingFlowReleasesKeyOn5xx(t *testing.T) {
	f := newFixture(t)
	payload := map[string]any{"source_url": "https://example.gov/pm-kisan"}

	rec := f.do(http.MethodPost, "/api/v1/flows/flaky/run", payload, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The failure released the key, so the retry runs the flow again and
	// succeeds this time
	rec = f.do(http.MethodPost, "/api/v1/flows/flaky/run", payload, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, "COMPLETED", f.decode(rec).Data["state"])
}

func TestListFlows(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/flows", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := f.decode(rec)
	flows := resp.Data["flows"].([]any)
	names := make([]string, 0, len(flows))
	for _, item := range flows {
		names = append(names, item.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "ask")
	assert.Contains(t, names, "enroll")
	assert.Contains(t, names, "secure")
}

func TestEngineEndpoints(t *testing.T) {
	f := newFixture(t)
	_, token := f.createAccount("admin1")
	auth := map[string]string{"Authorization": "Bearer " + token}

	t.Run("requires authentication", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/engines/status", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("status reports registered engines", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/engines/status", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := f.decode(rec)
		engines := resp.Data["engines"].([]any)
		require.NotEmpty(t, engines)
	})

	t.Run("health probes every engine live", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/engines/health", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("proxy forwards to the engine", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/engines/E99/chat", map[string]any{
			"message": "hello",
		}, auth)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "namaste")
	})

	t.Run("proxy to unknown engine answers 404", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/engines/E42/chat", map[string]any{}, auth)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestExecutionEndpoints(t *testing.T) {
	f := newFixture(t)
	_, token := f.createAccount("viewer1")
	auth := map[string]string{"Authorization": "Bearer " + token}

	// Run an auth-required flow so the execution is tied to the account
	rec := f.do(http.MethodPost, "/api/v1/flows/secure/run", map[string]any{}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	executionID := f.decode(rec).Data["execution_id"].(string)

	t.Run("get by ID", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/executions/"+executionID, nil, auth)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := f.decode(rec)
		execution := resp.Data["execution"].(map[string]any)
		assert.Equal(t, executionID, execution["id"])
		assert.Equal(t, "COMPLETED", execution["state"])
	})

	t.Run("unknown ID answers 404", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/executions/nope", nil, auth)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list by account", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/executions", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := f.decode(rec)
		executions := resp.Data["executions"].([]any)
		require.NotEmpty(t, executions)
	})
}

func TestExecutionStream(t *testing.T) {
	f := newFixture(t)
	_, token := f.createAccount("streamer1")

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + ts.URL[len("http"):] + "/api/v1/executions/stream"
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	rec := f.do(http.MethodPost, "/api/v1/flows/ask/run", map[string]any{
		"message": "hello",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event orchestrator.StepEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "ask", event.FlowName)
	assert.Equal(t, "chat", event.Result.StepID)
}

func TestRequestIDPropagation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/health", nil, map[string]string{
		"X-Request-ID": "req-abc",
	})
	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodGet, "/api/v1/health", nil, nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
