// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the mdsaad terminal client.
//
// mdsaad answers AI chat prompts, weather lookups and currency/unit
// conversions from one command, talking to multiple upstream providers
// with priority failover, client-side rate limiting, circuit breaking
// and response caching. It works out of the box with no API keys by
// routing through a shared relay, and switches to direct provider
// calls for any provider the user has configured a key for.
//
// This file only wires the process: build the command tree, hook OS
// signals into the context so Ctrl+C cancels in-flight requests, and
// translate the final error into a documented exit code.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mdsaad/internal/cli"
)

func main() {
	// 1. Tie SIGINT/SIGTERM to context cancellation. Every blocking call
	// downstream takes this context, so a Ctrl+C mid-request unwinds the
	// dispatcher instead of killing the process with work in flight.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Build and run the command tree. Execute renders any failure to
	// stderr itself and closes the core (final history flush included),
	// so all that is left here is the exit code.
	app := cli.New()
	err := app.Execute(ctx)

	// 3. Map the error taxonomy onto exit codes: 0 ok, 2 bad input,
	// 3 no provider could serve, 4 rate limited, 130 interrupted, 1 rest.
	os.Exit(cli.ExitCode(err))
}
