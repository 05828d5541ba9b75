// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

//go:build integration

// Package module_test exercises the host plugin, module manager, loaders and
// endpoint dispatcher together over real HTTP.
package module_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func TestModuleHost(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Module Host Integration Suite")
}

// writeArchive creates a zip archive at path holding files.
func writeArchive(path string, files map[string]string) {
	GinkgoHelper()
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		Expect(err).NotTo(HaveOccurred())
		_, err = w.Write([]byte(content))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(zw.Close()).To(Succeed())
	Expect(f.Close()).To(Succeed())
}
