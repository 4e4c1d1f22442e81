package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	personaModel "github.com/zhouzirui/memchat/internal/model/persona"
	"github.com/zhouzirui/memchat/internal/observability"
	"github.com/zhouzirui/memchat/internal/service/ai"
	"github.com/zhouzirui/memchat/internal/service/ai/aitest"
	"github.com/zhouzirui/memchat/internal/service/bridge"
)

func newTestRouter(t *testing.T, withBridge bool) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	deps := Deps{
		Personas: personaModel.NewMemoryStore(personaModel.Seed()),
		Metrics:  observability.NewStreamingMetrics(reg),
		Gatherer: reg,
	}
	if withBridge {
		svc, err := ai.NewService(aitest.New("Hi", " there"), true)
		require.NoError(t, err)
		deps.Bridge = bridge.New(svc, bridge.Options{})
	}
	return NewRouter(deps)
}

func TestRouterServesChat(t *testing.T) {
	r := newTestRouter(t, true)

	body := `{"persona":"You are Helpful.","input":"Hi","pastMessages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "Hi there", resp.Body.String())
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterWithoutBridge(t *testing.T) {
	r := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader([]byte(`{}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, true)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok","ai":true}`, resp.Body.String())

	chat := httptest.NewRecorder()
	r.ServeHTTP(chat, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"persona":"p","input":"x"}`)))
	require.Equal(t, http.StatusOK, chat.Code)

	metrics := httptest.NewRecorder()
	r.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), "memchat_streaming_tokens_total")
}

func TestRouterListsPersonas(t *testing.T) {
	r := newTestRouter(t, false)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/personas", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), personaModel.DefaultID)
}
