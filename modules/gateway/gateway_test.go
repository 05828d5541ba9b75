// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package gateway_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbundle/meetbundle/internal/host"
	"github.com/meetbundle/meetbundle/modules/gateway"
	"github.com/meetbundle/meetbundle/pkg/module"
)

func newGateway(t *testing.T, props map[string]any) (*gateway.Module, http.Handler, *koanf.Koanf) {
	t.Helper()
	k := koanf.New(".")
	for key, v := range props {
		require.NoError(t, k.Set(key, v))
	}
	d := host.NewDispatcher("meet", "", host.WithProperties(func() module.Properties { return k }))
	mod, err := gateway.New()
	require.NoError(t, err)
	m := mod.(*gateway.Module)
	require.NoError(t, m.Initialize(context.Background(), module.Env{Host: d}))

	h, err := m.NewHandler(gateway.HandlerCalls, d.DispatchConfig())
	require.NoError(t, err)
	return m, h, k
}

func do(t *testing.T, h http.Handler, method string) (int, int) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, "/gateway/calls", nil))
	if rec.Code == http.StatusMethodNotAllowed {
		return rec.Code, -1
	}
	var body struct {
		Active int `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Active
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
		want  gateway.Settings
	}{
		{name: "defaults", want: gateway.Settings{MaxCalls: gateway.DefaultMaxCalls}},
		{
			name:  "configured",
			props: map[string]any{"gateway.enabled": true, "gateway.trunk": "sip:trunk", "gateway.max_calls": 4},
			want:  gateway.Settings{Enabled: true, Trunk: "sip:trunk", MaxCalls: 4},
		},
		{
			name:  "invalid limit falls back",
			props: map[string]any{"gateway.max_calls": "lots"},
			want:  gateway.Settings{MaxCalls: gateway.DefaultMaxCalls},
		},
		{
			name:  "negative limit falls back",
			props: map[string]any{"gateway.max_calls": -1},
			want:  gateway.Settings{MaxCalls: gateway.DefaultMaxCalls},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := koanf.New(".")
			for key, v := range tt.props {
				require.NoError(t, k.Set(key, v))
			}
			assert.Equal(t, tt.want, gateway.Derive(k, slog.Default()))
		})
	}
}

func TestGateway_Admission(t *testing.T) {
	_, h, _ := newGateway(t, map[string]any{
		"gateway.enabled":   true,
		"gateway.trunk":     "sip:trunk",
		"gateway.max_calls": 2,
	})

	steps := []struct {
		method string
		code   int
		active int
	}{
		{http.MethodGet, http.StatusOK, 0},
		{http.MethodDelete, http.StatusConflict, 0},
		{http.MethodPost, http.StatusCreated, 1},
		{http.MethodPost, http.StatusCreated, 2},
		{http.MethodPost, http.StatusTooManyRequests, 2},
		{http.MethodDelete, http.StatusOK, 1},
		{http.MethodGet, http.StatusOK, 1},
		{http.MethodPut, http.StatusMethodNotAllowed, -1},
	}
	for _, s := range steps {
		code, active := do(t, h, s.method)
		assert.Equal(t, s.code, code, s.method)
		assert.Equal(t, s.active, active, s.method)
	}
}

func TestGateway_Refusal(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
	}{
		{name: "disabled", props: map[string]any{"gateway.trunk": "sip:trunk"}},
		{name: "no trunk", props: map[string]any{"gateway.enabled": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h, _ := newGateway(t, tt.props)
			code, active := do(t, h, http.MethodPost)
			assert.Equal(t, http.StatusServiceUnavailable, code)
			assert.Zero(t, active)
		})
	}
}

func TestGateway_ReloadKeepsAdmittedCalls(t *testing.T) {
	m, h, k := newGateway(t, map[string]any{
		"gateway.enabled":   true,
		"gateway.trunk":     "sip:trunk",
		"gateway.max_calls": 3,
	})
	for range 3 {
		code, _ := do(t, h, http.MethodPost)
		require.Equal(t, http.StatusCreated, code)
	}

	require.NoError(t, k.Set("gateway.max_calls", 1))
	require.NoError(t, m.ReloadConfiguration(context.Background()))

	code, active := do(t, h, http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, 3, active)

	require.NoError(t, m.Destroy(context.Background()))
	_, active = do(t, h, http.MethodGet)
	assert.Zero(t, active, "destroy drops admitted calls")
}

func TestGateway_Handlers(t *testing.T) {
	m, _, _ := newGateway(t, nil)

	_, err := m.NewHandler(gateway.HandlerHealth, module.DispatchConfig{})
	require.ErrorIs(t, err, module.ErrUnknownHandler, "health is served by the host")

	assert.Equal(t, module.Endpoints{
		"/gateway/calls":  gateway.HandlerCalls,
		"/gateway/health": gateway.HandlerHealth,
	}, m.Endpoints())
}

func TestGateway_ReloadBeforeInitialize(t *testing.T) {
	mod, err := gateway.New()
	require.NoError(t, err)
	require.NoError(t, mod.ReloadConfiguration(context.Background()))
	require.NoError(t, mod.Destroy(context.Background()))
}
