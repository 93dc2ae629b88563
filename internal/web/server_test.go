package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/journal"
	"github.com/betbot/goroulette/internal/model"
	"github.com/betbot/goroulette/internal/risk"
	"github.com/betbot/goroulette/internal/simulator"
	_ "github.com/betbot/goroulette/internal/strategies/all"
)

type emptySource struct{}

func (emptySource) SnapshotAll() []domain.SpinOutcome { return nil }

func newTestServer(t *testing.T) (*Server, *risk.Guard) {
	t.Helper()

	sim, err := simulator.New(decimal.RequireFromString("100"), decimal.RequireFromString("0.01"))
	require.NoError(t, err)

	j, err := journal.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	guard := risk.NewGuard(risk.Config{}, decimal.RequireFromString("100"))
	mgr := model.NewManager(model.DefaultHyperparams(), emptySource{}, nil)

	srv := NewServer(Deps{
		SessionID: "test-session",
		Strategy:  "top3",
		Simulator: sim,
		Model:     mgr,
		Journal:   j,
		Guard:     guard,
		LastPrediction: func() *domain.PredictionResult {
			return nil
		},
		Connected: func() bool { return true },
	})
	return srv, guard
}

func doRequest(t *testing.T, handler http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var body map[string]any
	if len(w.Body.Bytes()) > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &body)
	}
	return w, body
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w, _ := doRequest(t, srv.Router(), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSessionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w, body := doRequest(t, srv.Router(), http.MethodGet, "/api/session")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "test-session", body["session_id"])
	require.Equal(t, "top3", body["strategy"])
	require.Equal(t, "100", body["balance"])
	require.Equal(t, "active", body["status"])
	require.Equal(t, true, body["connected"])
	require.Equal(t, false, body["betting_paused"])
}

func TestModelEndpointUntrained(t *testing.T) {
	srv, _ := newTestServer(t)
	w, body := doRequest(t, srv.Router(), http.MethodGet, "/api/model")

	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, body["version"])
	require.Equal(t, false, body["training"])
}

func TestStrategiesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	w, body := doRequest(t, srv.Router(), http.MethodGet, "/api/strategies")

	require.Equal(t, http.StatusOK, w.Code)
	list, ok := body["strategies"].([]any)
	require.True(t, ok, "strategies 应是数组")
	require.GreaterOrEqual(t, len(list), 4, "内置策略应全部注册")
}

func TestPredictionNotReady(t *testing.T) {
	srv, _ := newTestServer(t)
	w, _ := doRequest(t, srv.Router(), http.MethodGet, "/api/prediction")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecentBetsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	w, body := doRequest(t, srv.Router(), http.MethodGet, "/api/bets/recent")

	require.Equal(t, http.StatusOK, w.Code)
	_, hasKey := body["bets"]
	require.True(t, hasKey)
}

func TestTrainTriggerRateLimited(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	// 令牌桶容量 2：前两次放行，第三次 429
	w1, _ := doRequest(t, router, http.MethodPost, "/api/train")
	require.Equal(t, http.StatusAccepted, w1.Code)
	w2, _ := doRequest(t, router, http.MethodPost, "/api/train")
	require.Equal(t, http.StatusAccepted, w2.Code)

	w3, _ := doRequest(t, router, http.MethodPost, "/api/train")
	require.Equal(t, http.StatusTooManyRequests, w3.Code)
	require.NotEmpty(t, w3.Header().Get("Retry-After"))
}

func TestBettingPauseResume(t *testing.T) {
	srv, guard := newTestServer(t)
	router := srv.Router()

	w, body := doRequest(t, router, http.MethodPost, "/api/betting/pause")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["betting_paused"])
	require.True(t, guard.IsPaused())

	w, body = doRequest(t, router, http.MethodPost, "/api/betting/resume")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, body["betting_paused"])
	require.False(t, guard.IsPaused())
}
