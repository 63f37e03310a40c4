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

// Package cli is the cobra command tree over the request fabric. Results
// print to stdout; logs, attribution lines and errors go to stderr so
// output stays pipeable.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mdsaad/internal/config"
	"mdsaad/internal/core"
	"mdsaad/internal/dispatch"
	"mdsaad/internal/update"
)

// Version is the running CLI version, stamped into User-Agent headers
// and compared against GitHub releases by the update probe.
const Version = "2.1.0"

// App owns the command tree and the Core it runs against.
type App struct {
	root   *cobra.Command
	out    io.Writer
	errOut io.Writer

	loadConfig func() (*config.Config, error)
	buildCore  func(core.Options) (*core.Core, error)

	core     *core.Core
	notifier *update.Notifier

	debug       bool
	verbose     bool
	metricsAddr string
}

// New builds the production app: config from disk, core over it,
// results on stdout.
func New() *App {
	return newApp(os.Stdout, os.Stderr, config.Load, core.New)
}

func newApp(out, errOut io.Writer, loadConfig func() (*config.Config, error), buildCore func(core.Options) (*core.Core, error)) *App {
	a := &App{out: out, errOut: errOut, loadConfig: loadConfig, buildCore: buildCore}
	a.root = a.buildRoot()
	return a
}

func (a *App) buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:     "mdsaad",
		Short:   "AI chat, weather and conversions from one terminal command",
		Long:    "mdsaad talks to multiple AI, weather and exchange-rate providers\nwith automatic failover, rate limiting and caching. Works without any\nAPI keys through a shared relay; bring your own keys for direct access.",
		Version: Version,
		// Errors are rendered by Execute with the taxonomy-aware styling;
		// usage spam on runtime failures helps nobody.
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.BoolVar(&a.debug, "debug", false, "enable debug logging")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "print provider attribution and failover detail")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "expose Prometheus /metrics on this address (e.g. :9090)")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &dispatch.CallError{Kind: dispatch.KindInvalidInput, Message: err.Error(), Err: err}
	})
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.AddCommand(
		a.newChatCmd(),
		a.newWeatherCmd(),
		a.newConvertCmd(),
		a.newProvidersCmd(),
		a.newModelsCmd(),
		a.newHistoryCmd(),
		a.newClearCmd(),
		a.newQuotaCmd(),
	)
	return root
}

// setup runs before every subcommand: load config, apply flag
// overrides, assemble the core and fire the update probe.
func (a *App) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Debug = true
	}
	c, err := a.buildCore(core.Options{
		Config:      cfg,
		Version:     Version,
		MetricsAddr: a.metricsAddr,
	})
	if err != nil {
		return err
	}
	a.core = c
	if !cfg.SkipUpdateCheck {
		a.notifier = update.Start(cmd.Context(), update.Options{Version: Version, Log: c.Log})
	}
	return nil
}

// Execute runs the tree, prints any failure in the agreed shape and
// tears the core down. The returned error feeds ExitCode.
func (a *App) Execute(ctx context.Context) error {
	err := a.root.ExecuteContext(ctx)
	if err != nil && dispatch.KindOf(err) == 0 && strings.HasPrefix(err.Error(), "unknown command") {
		err = &dispatch.CallError{Kind: dispatch.KindInvalidInput, Message: err.Error(), Err: err}
	}
	if err != nil {
		a.renderError(err)
	}
	if a.core != nil {
		if rel := a.notifier.Poll(); rel != nil {
			fmt.Fprintln(a.errOut, styleNotice.Render(
				fmt.Sprintf("mdsaad %s is available (you have %s): %s", rel.Version, Version, rel.URL)))
		}
		if cerr := a.core.Close(); cerr != nil {
			a.core.Log.WithError(cerr).Debug("shutdown: close failed")
		}
	}
	return err
}

// ExitCode maps an error to the documented process exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	switch dispatch.KindOf(err) {
	case dispatch.KindInvalidInput:
		return 2
	case dispatch.KindNoProviders, dispatch.KindUpstreamUnavailable:
		return 3
	case dispatch.KindRateLimited:
		return 4
	case dispatch.KindCancelled:
		return 130
	default:
		return 1
	}
}

// exactArgs mirrors cobra.ExactArgs with invalid-input classification so
// argument mistakes exit 2, not 1.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &dispatch.CallError{
				Kind:    dispatch.KindInvalidInput,
				Message: fmt.Sprintf("%s expects %d argument(s), got %d", cmd.Name(), n, len(args)),
			}
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return &dispatch.CallError{
				Kind:    dispatch.KindInvalidInput,
				Message: fmt.Sprintf("%s expects at least %d argument(s), got %d", cmd.Name(), n, len(args)),
			}
		}
		return nil
	}
}

// enumValue is a flag value restricted to a fixed word list, so an invalid
// choice fails at parse time with the allowed words in the message.
type enumValue struct {
	allowed []string
	value   *string
}

var _ pflag.Value = (*enumValue)(nil)

func newEnumValue(value *string, def string, allowed ...string) *enumValue {
	*value = def
	return &enumValue{allowed: allowed, value: value}
}

func (e *enumValue) String() string { return *e.value }

func (e *enumValue) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range e.allowed {
		if v == a {
			*e.value = v
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(e.allowed, ", "))
}

func (e *enumValue) Type() string { return "string" }
