// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command resumeflow runs the resume optimization control plane and talks to
// running instances of it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	root := newRootCmd(opts)
	if err := root.ExecuteContext(ctx); err != nil {
		describeError(err, opts.server).Print(os.Stderr, opts.json)
		stop()
		os.Exit(1)
	}
}
