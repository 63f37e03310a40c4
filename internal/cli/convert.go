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
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mdsaad/internal/dispatch"
	"mdsaad/internal/ops"
)

func (a *App) newConvertCmd() *cobra.Command {
	var (
		o         ops.ConvertOptions
		showRates bool
		batchFile string
	)
	cmd := &cobra.Command{
		Use:   "convert <amount> <from> <to>",
		Short: "Convert units and currencies",
		Long:  "Unit conversions run offline; currency conversions fetch cached\nexchange-rate tables. --rates lists your favorite currencies against a\nbase; --batch converts a whole file of \"amount from to\" lines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case batchFile != "":
				return a.runBatch(cmd, batchFile, o)
			case showRates:
				base := "USD"
				if len(args) > 0 {
					base = args[0]
				}
				res, err := a.core.Convert.Rates(cmd.Context(), base, nil, o)
				if err != nil {
					return err
				}
				a.printRates(res)
				return nil
			default:
				if len(args) != 3 {
					return &dispatch.CallError{
						Kind:    dispatch.KindInvalidInput,
						Message: "convert expects <amount> <from> <to>",
					}
				}
				amount, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return &dispatch.CallError{
						Kind:    dispatch.KindInvalidInput,
						Message: fmt.Sprintf("%q is not a number", args[0]),
					}
				}
				conv, err := a.core.Convert.Run(cmd.Context(), amount, args[1], args[2], o)
				if err != nil {
					return err
				}
				a.printConversion(conv)
				return nil
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.Date, "historical", "", "use the rate table of this date (YYYY-MM-DD, currencies only)")
	f.BoolVar(&showRates, "rates", false, "list favorite currencies against a base (default USD)")
	f.StringVar(&batchFile, "batch", "", "convert every \"amount from to\" line of this file")
	return cmd
}

func (a *App) printConversion(c *ops.Conversion) {
	fmt.Fprintf(a.out, "%s %s = %s %s\n", fmtNum(c.Amount), c.From, fmtNum(c.Value), c.To)
	if c.Kind == "currency" {
		note := "rate " + fmtNum(c.Rate)
		if c.Date != "" {
			note += " as of " + c.Date
		}
		fmt.Fprintln(a.out, styleDim.Render(note))
	}
	a.attribution(
		"provider", c.Provider,
		"via", c.Via,
		"cached", yesNo(c.FromCache),
	)
}

func (a *App) printRates(res *ops.RatesResult) {
	fmt.Fprintln(a.out, styleHeader.Render(fmt.Sprintf("%s rates (%s)", res.Base, res.Date)))
	rows := make([][]string, 0, len(res.Rows))
	for _, r := range res.Rows {
		rows = append(rows, []string{r.Target, fmtNum(r.Rate), r.Date})
	}
	fmt.Fprintln(a.out, renderTable([]string{"currency", "rate", "date"}, rows))
}

// runBatch streams a conversions file. Bad lines print in place and the
// run keeps going; only a fabric-wide failure aborts.
func (a *App) runBatch(cmd *cobra.Command, path string, o ops.ConvertOptions) error {
	file, err := os.Open(path)
	if err != nil {
		return &dispatch.CallError{
			Kind:    dispatch.KindInvalidInput,
			Message: fmt.Sprintf("cannot open batch file: %v", err),
			Err:     err,
		}
	}
	defer file.Close()

	lines, err := a.core.Convert.Batch(cmd.Context(), file, o)
	for _, line := range lines {
		if line.Err != nil {
			fmt.Fprintln(a.out, styleErr.Render(fmt.Sprintf("line %d: %s: %v", line.Line, line.Input, line.Err)))
			continue
		}
		c := line.Result
		fmt.Fprintf(a.out, "line %d: %s %s = %s %s\n", line.Line, fmtNum(c.Amount), c.From, fmtNum(c.Value), c.To)
	}
	return err
}

// fmtNum trims a float to at most six decimals without trailing zeros.
func fmtNum(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}
