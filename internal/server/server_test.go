package server_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compassvpn/user-metrics/internal/metrics"
	"github.com/compassvpn/user-metrics/internal/server"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func _newServer(agg *metrics.Aggregator, self *metrics.SelfMetrics) *server.Server {
	cfg := &server.Config{
		ListenAddr: "127.0.0.1:0",
		Logger:     discard,
		Source:     agg,
	}
	if self != nil {
		cfg.Gatherer = self.Registry
	}
	return server.New(cfg)
}

func _get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServeHTTP_AnyPathAnyMethod(t *testing.T) {
	agg := metrics.NewAggregator("vmvm")
	agg.Publish(metrics.Snapshot{UniqueClients: 2, TotalConnections: 3, BlockedCount: 1})
	srv := _newServer(agg, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/metrics"},
		{http.MethodGet, "/"},
		{http.MethodGet, "/anything/else?x=1"},
		{http.MethodPost, "/metrics"},
		{http.MethodPut, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := _get(t, srv, tt.method, tt.path)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, metrics.ContentType, rec.Header().Get("Content-Type"))
			body := rec.Body.String()
			assert.Contains(t, body, `xray_unique_users{donor="vmvm"} 2`)
			assert.Contains(t, body, `xray_blocked_percentage{donor="vmvm"} 33.33`)
		})
	}
	assert.Equal(t, int64(len(tests)), srv.RequestsTotal())
}

func TestServeHTTP_BeforeFirstCycle(t *testing.T) {
	srv := _newServer(metrics.NewAggregator("vmvm"), nil)

	rec := _get(t, srv, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `xray_total_connections{donor="vmvm"} 0`)
	assert.Contains(t, rec.Body.String(), `xray_blocked_percentage{donor="vmvm"} 0.00`)
}

func TestServeHTTP_DefaultBodyIsOnlyGauges(t *testing.T) {
	srv := _newServer(metrics.NewAggregator("vmvm"), nil)

	body := _get(t, srv, http.MethodGet, "/").Body.String()
	assert.Equal(t, 12, strings.Count(body, "\n"), "four gauges, three lines each")
	assert.NotContains(t, body, "usermetrics_")
}

func TestServeHTTP_SelfMetrics(t *testing.T) {
	self := metrics.NewSelfMetrics()
	self.Cycles.WithLabelValues("success").Inc()
	srv := _newServer(metrics.NewAggregator("vmvm"), self)

	body := _get(t, srv, http.MethodGet, "/").Body.String()
	assert.True(t, strings.HasPrefix(body, "# HELP xray_unique_users"), "snapshot comes first")
	assert.Contains(t, body, `usermetrics_cycles_total{result="success"} 1`)
}

func TestListenServeShutdown(t *testing.T) {
	agg := metrics.NewAggregator("vmvm")
	srv := _newServer(agg, nil)

	ln, err := srv.Listen()
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/whatever")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "xray_unique_users")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errc)
	// Second shutdown is a no-op.
	require.NoError(t, srv.Shutdown(ctx))
}

func TestListen_PortInUse(t *testing.T) {
	first := _newServer(metrics.NewAggregator(""), nil)
	ln, err := first.Listen()
	require.NoError(t, err)
	defer ln.Close() //nolint:errcheck // test cleanup

	second := server.New(&server.Config{
		ListenAddr: ln.Addr().String(),
		Logger:     discard,
		Source:     metrics.NewAggregator(""),
	})
	_, err = second.Listen()
	assert.Error(t, err)
}
