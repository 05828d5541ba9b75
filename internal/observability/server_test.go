// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, s *Server) {
	t.Helper()
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
}

func fetch(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // test against local server
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_MetricsIncludeRegistrars(t *testing.T) {
	loads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_module_loads_total",
		Help: "test counter",
	}, []string{"module"})
	register := func(reg prometheus.Registerer) { reg.MustRegister(loads) }

	server := NewServer("127.0.0.1:0", func() bool { return true }, []Registrar{register})
	startServer(t, server)

	loads.WithLabelValues("org.meetbundle.bridge").Inc()
	loads.WithLabelValues("org.meetbundle.bridge").Inc()

	code, body := fetch(t, "http://"+server.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `test_module_loads_total{module="org.meetbundle.bridge"} 2`)
}

func TestServer_Liveness(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	startServer(t, server)

	code, body := fetch(t, "http://"+server.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name     string
		checker  ReadinessChecker
		wantCode int
		wantBody string
	}{
		{name: "activated", checker: func() bool { return true }, wantCode: http.StatusOK, wantBody: "ok"},
		{name: "not activated", checker: func() bool { return false }, wantCode: http.StatusServiceUnavailable, wantBody: "not ready"},
		{name: "nil checker", checker: nil, wantCode: http.StatusOK, wantBody: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("127.0.0.1:0", tt.checker, nil)
			startServer(t, server)

			code, body := fetch(t, "http://"+server.Addr()+"/healthz/readiness")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(body))
		})
	}
}

func TestServer_ModuleStatus(t *testing.T) {
	type entry struct {
		Name string `json:"name"`
	}
	server := NewServer("127.0.0.1:0", nil, nil, WithStatusReporter(func() any {
		return []entry{{Name: "org.meetbundle.focus"}}
	}))
	startServer(t, server)

	code, body := fetch(t, "http://"+server.Addr()+"/debug/modules")
	require.Equal(t, http.StatusOK, code)

	var got []entry
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, []entry{{Name: "org.meetbundle.focus"}}, got)
}

func TestServer_ModuleStatusAbsentWithoutReporter(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	startServer(t, server)

	code, _ := fetch(t, "http://"+server.Addr()+"/debug/modules")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	startServer(t, server)

	_, err := server.Start()
	require.Error(t, err)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	require.NoError(t, server.Stop(context.Background()))
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	require.NotNil(t, server.listener)
	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		require.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for serve error")
	}
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			require.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error channel to close")
	}
}
