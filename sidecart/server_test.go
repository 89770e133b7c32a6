package sidecart

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct {
	err error
}

func (f fakePinger) TestConnection(context.Context) error { return f.err }

// get fetches path and returns the status code and body.
func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

// Test Router healthz
func TestRouter_Healthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(fakePinger{}, NewMetrics(), zap.NewNop()))
	defer srv.Close()

	status, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, status)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "healthy", payload["status"])
}

// Test Router healthz unavailable
func TestRouter_HealthzUnavailable(t *testing.T) {
	srv := httptest.NewServer(NewRouter(fakePinger{err: errors.New("connection refused")}, NewMetrics(), zap.NewNop()))
	defer srv.Close()

	status, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "unhealthy", payload["status"])
	assert.Equal(t, "connection refused", payload["error"])
}

// Test Router ping and metrics
func TestRouter_PingAndMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.observe("count:users", nil)
	srv := httptest.NewServer(NewRouter(fakePinger{}, metrics, zap.NewNop()))
	defer srv.Close()

	status, _ := get(t, srv, "/ping")
	assert.Equal(t, http.StatusOK, status)

	status, body := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `sidecart_demo_queries_total{query="count",status="ok"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

// Test Serve stops on cancel
func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

// Test Serve listen failure
func TestServe_ListenFailure(t *testing.T) {
	err := serve(context.Background(), "127.0.0.1:-1", http.NotFoundHandler(), zap.NewNop())
	assert.Error(t, err)
}
