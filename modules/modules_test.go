// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package modules_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/meetbundle/meetbundle/internal/host"
	catalogpkg "github.com/meetbundle/meetbundle/internal/module"
	"github.com/meetbundle/meetbundle/modules"
	"github.com/meetbundle/meetbundle/modules/bridge"
	"github.com/meetbundle/meetbundle/modules/focus"
	"github.com/meetbundle/meetbundle/modules/gateway"
	"github.com/meetbundle/meetbundle/pkg/errutil"
	"github.com/meetbundle/meetbundle/pkg/module"
)

func TestRegister(t *testing.T) {
	c := catalogpkg.NewCatalog(nil)
	require.NoError(t, modules.Register(c))

	assert.ElementsMatch(t, []string{bridge.Name, focus.Name, gateway.Name}, c.Names())
	for _, id := range []string{modules.HandlerHealth, modules.HandlerUnit} {
		_, ok := c.Handler(id)
		assert.True(t, ok, id)
	}

	err := modules.Register(c)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, catalogpkg.CodeDuplicateEntry)
}

func TestSharedHandlers(t *testing.T) {
	c := catalogpkg.NewCatalog(nil)
	require.NoError(t, modules.Register(c))
	cfg := module.DispatchConfig{Unit: "meet", BaseDir: "/srv/meet"}

	tests := []struct {
		id   string
		want string
	}{
		{modules.HandlerHealth, `{"status":"ok","unit":"meet"}`},
		{modules.HandlerUnit, `{"unit":"meet","base_dir":"/srv/meet"}`},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			f, ok := c.Handler(tt.id)
			require.True(t, ok)
			h, err := f(cfg)
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

// TestBundledThroughManager loads every bundled module from the catalog and
// drives them through the dispatcher.
func TestBundledThroughManager(t *testing.T) {
	defer goleak.VerifyNone(t)

	k := koanf.New(".")
	require.NoError(t, k.Set(gateway.PropEnabled, true))
	require.NoError(t, k.Set(gateway.PropTrunk, "sip:trunk"))
	require.NoError(t, k.Set(focus.PropPollInterval, "5ms"))

	c := catalogpkg.NewCatalog(nil)
	require.NoError(t, modules.Register(c))
	d := host.NewDispatcher("meet", t.TempDir(), host.WithProperties(func() module.Properties { return k }))
	m := catalogpkg.NewManager()
	require.NoError(t, m.Start(c, d, d.BaseDir()))

	ctx := context.Background()
	// Focus first: it must wait for the bridge without blocking the load.
	for _, name := range []string{focus.Name, bridge.Name, gateway.Name} {
		require.NoError(t, m.LoadModule(ctx, name, t.TempDir()), name)
	}

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()
	client := srv.Client()

	get := func(path string) (int, map[string]any) {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		if resp.StatusCode != http.StatusNotFound {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		}
		return resp.StatusCode, body
	}

	require.Eventually(t, func() bool {
		resp, err := client.Get(srv.URL + "/meet/focus/status")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	code, body := get("/meet/gateway/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "meet", body["unit"])

	code, body = get("/meet/bridge/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["nat"])

	resp, err := client.Post(srv.URL+"/meet/gateway/calls", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, m.UnloadModule(ctx, bridge.Name))
	assert.False(t, d.Components().Available(bridge.Component))
	code, _ = get("/meet/bridge/status")
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, m.Stop(ctx))
	assert.Empty(t, d.Routes())
	assert.False(t, d.Components().Available(focus.Component))
}
