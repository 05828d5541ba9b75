// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package main implements an out-of-process echo module.
//
// Build it next to an archive whose module.yaml declares it:
//
//	go build -o modules/echo ./plugins/echo
//
//	# module.yaml inside modules/echo.jar
//	modules:
//	  - name: org.meetbundle.echo
//	    kind: process
//	    entry: echo
//	    version: 1.0.0
package main

import (
	"log/slog"
	"os"

	"github.com/meetbundle/meetbundle/pkg/modulesdk"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	modulesdk.Serve(&modulesdk.ServeConfig{
		Module: &Echo{},
		Logger: logger.With("module", "echo"),
	})
}
