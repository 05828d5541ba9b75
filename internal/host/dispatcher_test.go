// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package host_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbundle/meetbundle/internal/host"
	"github.com/meetbundle/meetbundle/pkg/errutil"
	"github.com/meetbundle/meetbundle/pkg/module"
)

func owner(name string) module.Owner {
	return module.Owner{Module: name, Cycle: ulid.Make()}
}

func text(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func get(t *testing.T, h http.Handler, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestDispatcher_RegisterAndServe(t *testing.T) {
	d := host.NewDispatcher("meet", "/srv")
	bridge := owner("bridge")

	require.NoError(t, d.RegisterEndpoint(bridge, "/bridge/status", text("ok")))

	code, body := get(t, d.Handler(), "/meet/bridge/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get(t, d.Handler(), "/meet/bridge/other")
	assert.Equal(t, http.StatusNotFound, code)

	routes := d.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "/bridge/status", routes[0].Path)
	assert.Equal(t, bridge, routes[0].Owner)
	assert.Equal(t, "/meet/bridge/status", d.Mount("/bridge/status"))
}

func TestDispatcher_PrefixRoutes(t *testing.T) {
	d := host.NewDispatcher("meet", "")
	gw := owner("gateway")
	require.NoError(t, d.RegisterEndpoint(gw, "/gateway/", text("root")))
	require.NoError(t, d.RegisterEndpoint(gw, "/gateway/calls/", text("calls")))
	require.NoError(t, d.RegisterEndpoint(gw, "/gateway/calls/count", text("count")))

	_, body := get(t, d, "/gateway/calls/123")
	assert.Equal(t, "calls", body)
	_, body = get(t, d, "/gateway/calls/count")
	assert.Equal(t, "count", body)
	_, body = get(t, d, "/gateway/other/x")
	assert.Equal(t, "root", body)
	code, _ := get(t, d, "/bridge")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDispatcher_Conflict(t *testing.T) {
	d := host.NewDispatcher("meet", "")
	a, b := owner("a"), owner("b")

	require.NoError(t, d.RegisterEndpoint(a, "/shared", text("a")))
	err := d.RegisterEndpoint(b, "/shared", text("b"))
	errutil.AssertErrorCode(t, err, host.CodeEndpointConflict)

	_, body := get(t, d, "/shared")
	assert.Equal(t, "a", body, "first registration is kept")
}

func TestDispatcher_InvalidPaths(t *testing.T) {
	d := host.NewDispatcher("meet", "")
	for _, p := range []string{"", "relative", "/a/../b", "/a//b", "/a/./b"} {
		errutil.AssertErrorCode(t, d.RegisterEndpoint(owner("a"), p, text("x")), host.CodeEndpointInvalid)
	}
	errutil.AssertErrorCode(t, d.RegisterEndpoint(owner("a"), "/nil", nil), host.CodeEndpointInvalid)
	assert.Empty(t, d.Routes())
}

func TestDispatcher_GrantsDeny(t *testing.T) {
	grants := host.NewGrants()
	require.NoError(t, grants.Set("bridge", []string{"/bridge/*"}))
	d := host.NewDispatcher("meet", "", host.WithGrants(grants))

	require.NoError(t, d.RegisterEndpoint(owner("bridge"), "/bridge/status", text("ok")))
	err := d.RegisterEndpoint(owner("bridge"), "/gateway/calls", text("no"))
	errutil.AssertErrorCode(t, err, host.CodeEndpointDenied)
	require.NoError(t, d.RegisterEndpoint(owner("gateway"), "/gateway/calls", text("ok")),
		"modules without grants are unrestricted")
}

func TestDispatcher_UnregisterOwnerChecked(t *testing.T) {
	d := host.NewDispatcher("meet", "")
	first := owner("bridge")
	second := owner("bridge")
	require.NoError(t, d.RegisterEndpoint(first, "/bridge/status", text("ok")))

	err := d.UnregisterEndpoint(second, "/bridge/status")
	errutil.AssertErrorCode(t, err, host.CodeEndpointNotOwned)
	assert.Len(t, d.Routes(), 1, "a different load cycle cannot remove the endpoint")

	require.NoError(t, d.UnregisterEndpoint(first, "/bridge/status"))
	assert.Empty(t, d.Routes())

	require.NoError(t, d.UnregisterEndpoint(first, "/bridge/status"), "absent path is a no-op")
}

func TestDispatcher_HandlerPanicReturns500(t *testing.T) {
	d := host.NewDispatcher("meet", "")
	require.NoError(t, d.RegisterEndpoint(owner("bad"), "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	})))

	code, _ := get(t, d, "/boom")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestDispatcher_InvalidStatusReturns500(t *testing.T) {
	d := host.NewDispatcher("meet", "")
	require.NoError(t, d.RegisterEndpoint(owner("bad"), "/odd", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(0)
	})))

	code, body := get(t, d, "/odd")
	assert.Equal(t, http.StatusInternalServerError, code, "a rejected status does not count as written")
	assert.Contains(t, body, http.StatusText(http.StatusInternalServerError))
}

func TestDispatcher_PropertiesAndConfig(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, k.Set("bridge.nat.public", "203.0.113.7"))
	d := host.NewDispatcher("meet", "/srv", host.WithProperties(func() module.Properties { return k }))

	cfg := d.DispatchConfig()
	assert.Equal(t, "meet", cfg.Unit)
	assert.Equal(t, "/srv", cfg.BaseDir)
	assert.Equal(t, "203.0.113.7", cfg.Properties.String("bridge.nat.public"))
	assert.Equal(t, "/srv", d.BaseDir())
	assert.True(t, d.Properties().Exists("bridge.nat.public"))

	empty := host.NewDispatcher("meet", "")
	assert.False(t, empty.Properties().Exists("anything"))
}

func TestComponents(t *testing.T) {
	d := host.NewDispatcher("meet", "")
	c := d.Components()

	assert.False(t, c.Available("bridge"))
	c.Announce("bridge")
	c.Announce("gateway")
	assert.True(t, c.Available("bridge"))
	assert.Equal(t, []string{"bridge", "gateway"}, c.(*host.Components).Names())

	c.Withdraw("bridge")
	assert.False(t, c.Available("bridge"))
}
