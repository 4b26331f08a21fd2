package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/predict"
)

type fakeStatuses map[int]governor.Status

func (f fakeStatuses) Statuses() []governor.Status {
	out := make([]governor.Status, 0, len(f))
	for cpu := 0; cpu < 8; cpu++ {
		if st, ok := f[cpu]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (f fakeStatuses) Status(cpu int) (governor.Status, bool) {
	st, ok := f[cpu]
	return st, ok
}

func newTestServer(t *testing.T) *httptest.Server {
	src := fakeStatuses{
		0: {CPU: 0, State: "active", LastFreq: 2_000_000, Patterns: []predict.Pattern{{ID: 1, Weight: 90}}},
		2: {CPU: 2, State: "stopped", LastFreq: 800_000},
	}
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "predictd_test_gauge", Help: "test"})
	g.Set(3)
	reg.MustRegister(g)

	srv := httptest.NewServer(NewServer(src, reg, "1.2.3", testr.New(t)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type coresEnvelope struct {
	Type string            `json:"type"`
	Data []governor.Status `json:"data"`
}

type coreEnvelope struct {
	Type string          `json:"type"`
	Data governor.Status `json:"data"`
}

func TestServer_Cores(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/cores")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var env coresEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "cores", env.Type)
	require.Len(t, env.Data, 2)
	assert.Equal(t, 0, env.Data[0].CPU)
	assert.Equal(t, uint32(90), env.Data[0].Patterns[0].Weight)
	assert.Equal(t, "stopped", env.Data[1].State)
}

func TestServer_Core(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/cores/2")
	require.NoError(t, err)
	var env coreEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	assert.Equal(t, "core", env.Type)
	assert.Equal(t, uint32(800_000), env.Data.LastFreq)

	for path, code := range map[string]int{
		"/api/cores/5":   http.StatusNotFound,
		"/api/cores/abc": http.StatusBadRequest,
		"/api/cores/-1":  http.StatusBadRequest,
		"/nope":          http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, code, resp.StatusCode, path)
	}

	resp, err = http.Post(srv.URL+"/api/cores", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "predictd_test_gauge 3")
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(fakeStatuses{}, nil, "dev", testr.New(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/api/version")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
