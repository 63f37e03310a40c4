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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"mdsaad/internal/dispatch"
)

// Styles degrade to plain text automatically when the terminal reports
// no color support or NO_COLOR is set; lipgloss handles the detection.
var (
	styleErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleNotice = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeader = lipgloss.NewStyle().Bold(true)
	styleStale  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Italic(true)
)

// renderError prints the one-line red failure, then the per-provider
// reason table when verbose asked for it.
func (a *App) renderError(err error) {
	var ce *dispatch.CallError
	if !errors.As(err, &ce) {
		fmt.Fprintln(a.errOut, styleErr.Render("✗ "+err.Error()))
		return
	}

	line := "✗ " + ce.Kind.String()
	if ce.Message != "" {
		line += ": " + ce.Message
	} else if ce.Err != nil {
		line += ": " + ce.Err.Error()
	}
	if hint := remediation(ce); hint != "" {
		line += " (" + hint + ")"
	}
	fmt.Fprintln(a.errOut, styleErr.Render(line))

	if a.verbose && len(ce.Reasons) > 0 {
		rows := make([][]string, 0, len(ce.Reasons))
		for _, r := range ce.Reasons {
			rows = append(rows, []string{r.Provider, r.Reason, r.Detail})
		}
		fmt.Fprintln(a.errOut, renderTable([]string{"provider", "reason", "detail"}, rows))
	}
}

// remediation is the one-sentence hint attached to each failure kind.
func remediation(ce *dispatch.CallError) string {
	switch ce.Kind {
	case dispatch.KindInvalidInput:
		return "run with --help for usage"
	case dispatch.KindNoProviders:
		return "set a provider key (for example export OPENROUTER_API_KEY=...) or leave the relay enabled"
	case dispatch.KindRateLimited:
		if ce.RetryAfter > 0 {
			return fmt.Sprintf("retry in %s", ce.RetryAfter.Round(time.Second))
		}
		return "retry shortly"
	case dispatch.KindClient:
		return "the provider rejected the request; review the message above"
	case dispatch.KindUpstreamUnavailable:
		return "every provider failed; retry shortly or rerun with --verbose for the attempt trail"
	case dispatch.KindDeadlineExceeded:
		return "the operation timed out; retry"
	default:
		return ""
	}
}

// attribution prints the dim key=value trailer verbose mode adds under
// results. Empty values are skipped.
func (a *App) attribution(pairs ...string) {
	if !a.verbose || len(pairs) < 2 {
		return
	}
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(pairs[i+1])
	}
	if b.Len() > 0 {
		fmt.Fprintln(a.errOut, styleDim.Render(b.String()))
	}
}

// renderTable draws rows under bold headers with a rounded dim border.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleDim).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}

// yesNo renders booleans the way the tables expect them.
func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
