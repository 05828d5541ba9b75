// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

//go:build integration

package module_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/meetbundle/meetbundle/internal/config"
	"github.com/meetbundle/meetbundle/internal/host"
	catalogpkg "github.com/meetbundle/meetbundle/internal/module"
	"github.com/meetbundle/meetbundle/internal/module/lua"
	"github.com/meetbundle/meetbundle/modules"
	"github.com/meetbundle/meetbundle/modules/bridge"
	"github.com/meetbundle/meetbundle/modules/focus"
	"github.com/meetbundle/meetbundle/pkg/module"
)

const greeterManifest = `modules:
  - name: org.example.greeter
    kind: lua
    entry: greeter.lua
    version: 1.0.0
`

const greeterScript = `
local words = meetbundle.include("words.lua")

endpoints = {
	["/greeter/"] = "greet",
	["/greeter/health"] = "health",
}

greeting = nil

handlers = {
	greet = function(req)
		return greeting .. " " .. string.sub(req.path, #"/greeter/" + 1)
	end,
}

function initialize()
	greeting = meetbundle.property("greeter.word") or words.default
end

function reload()
	greeting = meetbundle.property("greeter.word") or words.default
end
`

const failingManifest = `modules:
  - name: org.example.broken
    kind: lua
    entry: broken.lua
`

const failingScript = `
endpoints = { ["/broken"] = "health" }
function initialize() error("cannot start") end
`

var _ = Describe("Module host", func() {
	var (
		ctx        context.Context
		baseDir    string
		props      *koanf.Koanf
		manager    *catalogpkg.Manager
		dispatcher *host.Dispatcher
		plugin     *host.Plugin
		server     *httptest.Server
	)

	get := func(path string) (int, string) {
		GinkgoHelper()
		resp, err := server.Client().Get(server.URL + "/meet" + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, string(body)
	}

	BeforeEach(func() {
		ctx = context.Background()
		baseDir = GinkgoT().TempDir()
		logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))

		writeArchive(filepath.Join(baseDir, "greeter", "greeter.jar"), map[string]string{
			"module.yaml": greeterManifest,
			"greeter.lua": greeterScript,
			"words.lua":   `return { default = "hello" }`,
		})
		writeArchive(filepath.Join(baseDir, "broken", "broken.zip"), map[string]string{
			"module.yaml": failingManifest,
			"broken.lua":  failingScript,
		})
		// Sorts after greeter.jar, so it never shadows the module's own resources.
		writeArchive(filepath.Join(baseDir, "greeter", "plugin-greeter.jar"), map[string]string{
			"words.lua": `return { default = "shadowed" }`,
		})

		props = koanf.New(".")
		catalog := catalogpkg.NewCatalog(nil)
		Expect(modules.Register(catalog)).To(Succeed())
		Expect(catalog.RegisterRuntime(lua.Kind, lua.NewRuntime())).To(Succeed())

		manager = catalogpkg.NewManager(catalogpkg.WithLogger(logger))
		dispatcher = host.NewDispatcher("meet", baseDir,
			host.WithProperties(func() module.Properties { return props }),
			host.WithDispatcherLogger(logger),
		)
		plugin = host.NewPlugin(manager, catalog, dispatcher, []config.ModuleSpec{
			{Name: bridge.Name, Path: "bridge"},
			{Name: "org.example.greeter", Path: "greeter", Endpoints: []string{"/greeter/"}},
			{Name: "org.example.broken", Path: "broken"},
			{Name: focus.Name, Path: "focus", SeniorOnly: true},
		}, host.WithPluginLogger(logger))

		server = httptest.NewServer(dispatcher.Handler())
		Expect(plugin.Initialize(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(plugin.Destroy(ctx)).To(Succeed())
		server.Close()
	})

	It("serves compiled-in and scripted modules under the unit", func() {
		code, body := get("/bridge/status")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"unit":"meet"`))

		code, body = get("/greeter/world")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(Equal("hello world"))
	})

	It("enforces endpoint grants", func() {
		code, _ := get("/greeter/health")
		Expect(code).To(Equal(http.StatusOK), "prefix registration answers the denied exact path")

		routes := dispatcher.Routes()
		paths := make([]string, 0, len(routes))
		for _, r := range routes {
			paths = append(paths, r.Path)
		}
		Expect(paths).To(ContainElement("/greeter/"))
		Expect(paths).NotTo(ContainElement("/greeter/health"))
	})

	It("keeps a module whose initialize failed registered without endpoints", func() {
		Expect(manager.Loaded("org.example.broken")).To(BeTrue())
		code, _ := get("/broken")
		Expect(code).To(Equal(http.StatusNotFound))

		var found bool
		for _, st := range manager.Modules() {
			if st.Name == "org.example.broken" {
				found = true
				Expect(st.Initialized).To(BeFalse())
				Expect(st.InitError).To(ContainSubstring("cannot start"))
			}
		}
		Expect(found).To(BeTrue())
	})

	It("scans module directories in production mode", func() {
		for _, st := range manager.Modules() {
			if st.Name == "org.example.greeter" {
				Expect(st.SearchPath).To(Equal([]string{
					filepath.Join(baseDir, "greeter", "greeter.jar"),
					filepath.Join(baseDir, "greeter", "plugin-greeter.jar"),
				}))
			}
		}
		_, body := get("/greeter/world")
		Expect(body).To(Equal("hello world"), "resources resolve from the first archive on the search path")
	})

	It("reloads configuration when a property changes", func() {
		Expect(props.Set("greeter.word", "hi")).To(Succeed())
		plugin.PropertyChanged(ctx, "greeter.word")

		_, body := get("/greeter/there")
		Expect(body).To(Equal("hi there"))
	})

	It("moves senior-only modules with the cluster role", func() {
		Eventually(func() int {
			code, _ := get("/focus/status")
			return code
		}).WithTimeout(5 * time.Second).Should(Equal(http.StatusOK))

		plugin.JoinedCluster(ctx)
		Expect(manager.Loaded(focus.Name)).To(BeFalse())
		code, _ := get("/focus/status")
		Expect(code).To(Equal(http.StatusNotFound))

		plugin.MarkedAsSeniorMember(ctx)
		Expect(manager.Loaded(focus.Name)).To(BeTrue())

		plugin.LeftCluster(ctx)
		Expect(manager.Loaded(focus.Name)).To(BeTrue())
	})

	It("unregisters every endpoint on destroy", func() {
		Expect(dispatcher.Routes()).NotTo(BeEmpty())
		Expect(plugin.Destroy(ctx)).To(Succeed())
		Expect(dispatcher.Routes()).To(BeEmpty())
		Expect(dispatcher.Components().Available(bridge.Component)).To(BeFalse())
		Expect(manager.Modules()).To(BeEmpty())
		Expect(plugin.Initialize(ctx)).To(Succeed(), "the plugin can be activated again")
	})
})
