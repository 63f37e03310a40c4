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

package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mdsaad/internal/breaker"
	"mdsaad/internal/provider"
	"mdsaad/internal/telemetry"
)

func (a *App) newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List providers, their credentials and circuit state",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			circuits := make(map[string]breaker.CircuitStat)
			for _, st := range a.core.Breaker.Snapshot() {
				circuits[st.Provider] = st
			}

			rows := make([][]string, 0)
			for _, p := range a.core.Registry.All() {
				caps := make([]string, 0, len(p.Capabilities))
				for _, c := range p.Capabilities {
					caps = append(caps, string(c))
				}
				cred := "ok"
				switch {
				case p.Keyless:
					cred = "not needed"
				case !p.Configured():
					cred = "set " + p.EnvKey
				}
				circuit := "CLOSED"
				if st, ok := circuits[p.ID]; ok {
					circuit = st.State.String()
					if st.ReopenIn > 0 {
						circuit += " (" + st.ReopenIn.Round(time.Second).String() + ")"
					}
				}
				rows = append(rows, []string{
					p.ID,
					strconv.Itoa(p.Priority),
					strings.Join(caps, ", "),
					cred,
					yesNo(p.Enabled),
					circuit,
				})
			}
			fmt.Fprintln(a.out, renderTable(
				[]string{"provider", "priority", "capabilities", "credential", "enabled", "circuit"}, rows))
			return nil
		},
	}
}

func (a *App) newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List chat models and the providers that serve them",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0)
			for _, p := range a.core.Registry.All() {
				if !p.Supports(provider.CapChat) {
					continue
				}
				if p.DefaultModel != "" {
					rows = append(rows, []string{p.DefaultModel, p.ID, "default"})
				}
				aliases := make([]string, 0, len(p.ModelAliases))
				for alias := range p.ModelAliases {
					aliases = append(aliases, alias)
				}
				sort.Strings(aliases)
				for _, alias := range aliases {
					rows = append(rows, []string{alias, p.ID, "alias for " + p.ModelAliases[alias]})
				}
			}
			fmt.Fprintln(a.out, renderTable([]string{"model", "provider", "notes"}, rows))
			return nil
		},
	}
}

func (a *App) newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past operations from this and recent sessions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := a.core.History.All()
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "history is empty")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Time.Format("2006-01-02 15:04"),
					e.Kind,
					e.Summary,
					e.Provider,
				})
			}
			fmt.Fprintln(a.out, renderTable([]string{"when", "kind", "summary", "provider"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the newest N entries")
	return cmd
}

func (a *App) newClearCmd() *cobra.Command {
	var clearCache bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear conversation history (and optionally the cache)",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.core.History.Clear()
			fmt.Fprintln(a.out, "history cleared")
			if clearCache {
				n := a.core.Cache.ClearAll()
				fmt.Fprintf(a.out, "cache cleared (%d entries)\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearCache, "cache", false, "also clear every cache namespace")
	return cmd
}

func (a *App) newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show rate windows, circuits, relay budgets and cache usage",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.printQuota()
			return nil
		},
	}
}

func (a *App) printQuota() {
	if windows := a.core.Limiter.Snapshot(); len(windows) > 0 {
		rows := make([][]string, 0, len(windows))
		for _, w := range windows {
			blocked := ""
			if w.BlockedFor > 0 {
				blocked = w.BlockedFor.Round(time.Second).String()
			}
			rows = append(rows, []string{
				w.Provider,
				w.Endpoint,
				fmt.Sprintf("%d/%d per %s", w.Used, w.Limit, w.Window),
				blocked,
			})
		}
		fmt.Fprintln(a.out, styleHeader.Render("rate windows"))
		fmt.Fprintln(a.out, renderTable([]string{"provider", "endpoint", "used", "blocked"}, rows))
	}

	if circuits := a.core.Breaker.Snapshot(); len(circuits) > 0 {
		rows := make([][]string, 0, len(circuits))
		for _, c := range circuits {
			reopen := ""
			if c.ReopenIn > 0 {
				reopen = c.ReopenIn.Round(time.Second).String()
			}
			rows = append(rows, []string{c.Provider, c.State.String(), strconv.Itoa(c.Failures), reopen})
		}
		fmt.Fprintln(a.out, styleHeader.Render("circuits"))
		fmt.Fprintln(a.out, renderTable([]string{"provider", "state", "failures", "reopen in"}, rows))
	}

	if a.core.Proxy != nil {
		rows := make([][]string, 0, 3)
		for _, b := range a.core.Proxy.Budgets() {
			rows = append(rows, []string{b.Group, fmt.Sprintf("%d/%d per hour", b.Remaining, b.PerHour)})
		}
		fmt.Fprintln(a.out, styleHeader.Render("relay budgets"))
		fmt.Fprintln(a.out, renderTable([]string{"group", "remaining"}, rows))
	}

	stats := a.core.Cache.Stats()
	fmt.Fprintln(a.out, styleHeader.Render(
		fmt.Sprintf("cache: %d entries, %s of %s", stats.Entries, fmtBytes(stats.Bytes), fmtBytes(stats.MaxBytes))))
	if len(stats.Namespaces) > 0 {
		rows := make([][]string, 0, len(stats.Namespaces))
		for _, ns := range stats.Namespaces {
			rows = append(rows, []string{
				ns.Namespace,
				strconv.Itoa(ns.Entries),
				fmtBytes(ns.Bytes),
				fmt.Sprintf("%d/%d", ns.Hits, ns.Hits+ns.Misses),
			})
		}
		fmt.Fprintln(a.out, renderTable([]string{"namespace", "entries", "bytes", "hits"}, rows))
	}

	c := telemetry.Snapshot()
	fmt.Fprintln(a.out, styleDim.Render(fmt.Sprintf(
		"session: %d requests (%d ok, %d failed), %d failovers, %d rate denials",
		c.RequestsStarted, c.RequestsSucceeded, c.RequestsFailed, c.FailoverAttempts, c.RateDenials)))
}

// fmtBytes renders byte counts in the closest binary unit.
func fmtBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
