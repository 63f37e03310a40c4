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

package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mdsaad/internal/dispatch"
	"mdsaad/internal/history"
	"mdsaad/internal/provider"
	"mdsaad/internal/proxy"
)

const (
	currencyNamespace = "currency"
	currencyTTL       = 30 * time.Minute
	latestDate        = "latest"
)

// Conversion kinds.
const (
	KindUnit        = "unit"
	KindTemperature = "temperature"
	KindCurrency    = "currency"
)

// ConvertService classifies inputs into measurement units and currencies
// and converts them: units through pure in-process tables, currencies
// through the fabric with a 30-minute cache per (base, target, date).
type ConvertService struct {
	d Deps
}

func NewConvert(d Deps) *ConvertService { return &ConvertService{d: d} }

// ConvertOptions tune one conversion.
type ConvertOptions struct {
	// Date requests a historical rate table (YYYY-MM-DD). Only valid for
	// currency conversions.
	Date string
}

// Conversion is the result of one convert operation.
type Conversion struct {
	Amount    float64 `json:"amount"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Value     float64 `json:"value"`
	Rate      float64 `json:"rate,omitempty"` // unset for temperature (affine, no single factor)
	Kind      string  `json:"kind"`
	Date      string  `json:"date,omitempty"` // currency: effective table date
	Provider  string  `json:"provider,omitempty"`
	Via       string  `json:"via,omitempty"`
	FromCache bool    `json:"from_cache,omitempty"`
}

// Run converts amount from one unit or currency into another.
func (s *ConvertService) Run(ctx context.Context, amount float64, from, to string, o ConvertOptions) (*Conversion, error) {
	fromUnit, fromIsUnit, fromCur, fromIsCur := classify(from)
	toUnit, toIsUnit, toCur, toIsCur := classify(to)

	switch {
	case fromIsUnit && toIsUnit:
		if o.Date != "" {
			return nil, invalidInput("--historical applies to currency conversions only")
		}
		value, err := convertUnit(amount, fromUnit, toUnit)
		if err != nil {
			return nil, err
		}
		conv := &Conversion{
			Amount: amount,
			From:   fromUnit.Code,
			To:     toUnit.Code,
			Value:  value,
			Kind:   KindUnit,
		}
		if fromUnit.Family == familyTemperature {
			conv.Kind = KindTemperature
		} else {
			conv.Rate = unitFamilies[fromUnit.Family][fromUnit.Code] / unitFamilies[toUnit.Family][toUnit.Code]
		}
		s.remember(conv)
		return conv, nil

	case fromIsCur && toIsCur:
		return s.currency(ctx, amount, fromCur, toCur, o)

	case !fromIsUnit && !fromIsCur:
		return nil, invalidInput("unknown unit or currency %q", from)
	case !toIsUnit && !toIsCur:
		return nil, invalidInput("unknown unit or currency %q", to)
	default:
		return nil, invalidInput("cannot convert %q to %q: one is a unit, the other a currency", from, to)
	}
}

func (s *ConvertService) currency(ctx context.Context, amount float64, base, target string, o ConvertOptions) (*Conversion, error) {
	date := latestDate
	cap := provider.CapExchangeRate
	if o.Date != "" {
		if _, err := time.Parse("2006-01-02", o.Date); err != nil {
			return nil, invalidInput("historical date %q is not YYYY-MM-DD", o.Date)
		}
		date = o.Date
		cap = provider.CapExchangeHistory
	}

	if base == target {
		conv := &Conversion{Amount: amount, From: base, To: target, Value: amount, Rate: 1, Kind: KindCurrency, Date: date}
		s.remember(conv)
		return conv, nil
	}

	env, fromCache, err := s.rate(ctx, cap, base, target, date)
	if err != nil {
		return nil, err
	}
	conv := &Conversion{
		Amount:    amount,
		From:      base,
		To:        target,
		Value:     amount * env.Rate,
		Rate:      env.Rate,
		Kind:      KindCurrency,
		Date:      env.Date,
		Provider:  env.Provider,
		Via:       env.Via,
		FromCache: fromCache,
	}
	s.remember(conv)
	return conv, nil
}

// cachedRate is the per-(base,target,date) cache payload.
type cachedRate struct {
	Rate     float64 `json:"rate"`
	Date     string  `json:"date"`
	Provider string  `json:"provider"`
	Via      string  `json:"via"`
}

func (s *ConvertService) rate(ctx context.Context, cap provider.Capability, base, target, date string) (cachedRate, bool, error) {
	fetch := func(ctx context.Context) ([]byte, error) {
		table, servedBy, via, err := s.table(ctx, cap, base, date)
		if err != nil {
			return nil, err
		}
		r, ok := table.Rates[target]
		if !ok {
			return nil, invalidInput("no %s rate in the %s table", target, base)
		}
		effective := table.Date
		if effective == "" {
			effective = date
		}
		return json.Marshal(cachedRate{Rate: r, Date: effective, Provider: servedBy, Via: via})
	}

	raw, fromCache, err := s.d.Cache.Through(ctx, currencyNamespace, []string{base, target, date}, currencyTTL, fetch)
	if err != nil {
		return cachedRate{}, false, err
	}
	var env cachedRate
	if err := json.Unmarshal(raw, &env); err != nil {
		return cachedRate{}, false, fmt.Errorf("ops: corrupt cached rate: %w", err)
	}
	return env, fromCache, nil
}

// table fetches one base's rate table, relay first.
func (s *ConvertService) table(ctx context.Context, cap provider.Capability, base, date string) (*provider.RateTable, string, string, error) {
	q := provider.RateQuery{Base: base}
	if date != latestDate {
		q.Date = date
	}

	if s.d.proxyFirst() {
		res, err := s.d.Proxy.Call(ctx, cap, q)
		if err == nil {
			if table, ok := res.Payload.(*provider.RateTable); ok {
				return table, "proxy", ViaProxy, nil
			}
			return nil, "", "", fmt.Errorf("ops: unexpected relay rate payload %T", res.Payload)
		}
		if !errors.Is(err, proxy.ErrExhausted) {
			return nil, "", "", translateProxyErr(err)
		}
		s.d.log().WithError(err).Debug("relay exhausted, dispatching direct")
	}

	reply, err := s.d.Dispatch.Call(ctx, cap, q, dispatch.CallOptions{})
	if err != nil {
		return nil, "", "", err
	}
	table, ok := reply.Payload.(*provider.RateTable)
	if !ok {
		return nil, "", "", fmt.Errorf("ops: unexpected rate payload %T", reply.Payload)
	}
	return table, reply.Provider, ViaDirect, nil
}

func (s *ConvertService) remember(conv *Conversion) {
	if s.d.History == nil {
		return
	}
	s.d.History.Append(history.Entry{
		Kind:     "convert",
		Query:    fmt.Sprintf("%s %s %s", formatAmount(conv.Amount), conv.From, conv.To),
		Result:   fmt.Sprintf("%s %s", formatAmount(conv.Value), conv.To),
		Provider: conv.Provider,
		Via:      conv.Via,
	})
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RateRow is one target currency in a rates listing.
type RateRow struct {
	Target    string  `json:"target"`
	Rate      float64 `json:"rate"`
	Date      string  `json:"date"`
	FromCache bool    `json:"from_cache,omitempty"`
}

// RatesResult is the favorites table for one base currency.
type RatesResult struct {
	Base string    `json:"base"`
	Date string    `json:"date"`
	Rows []RateRow `json:"rows"`
}

// Rates lists the base against targets; empty targets fall back to the
// configured favorites. Lookups run sequentially and share the per-pair
// cache with Run, so a later convert of a listed pair is free.
func (s *ConvertService) Rates(ctx context.Context, base string, targets []string, o ConvertOptions) (*RatesResult, error) {
	_, _, baseCur, ok := classify(base)
	if !ok {
		return nil, invalidInput("unknown currency %q", base)
	}
	cap := provider.CapExchangeRate
	date := latestDate
	if o.Date != "" {
		if _, err := time.Parse("2006-01-02", o.Date); err != nil {
			return nil, invalidInput("historical date %q is not YYYY-MM-DD", o.Date)
		}
		date = o.Date
		cap = provider.CapExchangeHistory
	}

	if len(targets) == 0 && s.d.Config != nil {
		targets = s.d.Config.ConvertFavorites
	}
	if len(targets) == 0 {
		return nil, invalidInput("no target currencies: pass them or set convert.favorites")
	}

	out := &RatesResult{Base: baseCur, Date: date}
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, translateProxyErr(err)
		}
		_, _, cur, ok := classify(t)
		if !ok {
			return nil, invalidInput("unknown currency %q", t)
		}
		if cur == baseCur {
			continue
		}
		env, fromCache, err := s.rate(ctx, cap, baseCur, cur, date)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, RateRow{Target: cur, Rate: env.Rate, Date: env.Date, FromCache: fromCache})
		out.Date = env.Date
	}
	return out, nil
}

// BatchLine is one line's outcome from a batch file. Err is per-line;
// a bad line never aborts the remainder.
type BatchLine struct {
	Line   int         `json:"line"`
	Input  string      `json:"input"`
	Result *Conversion `json:"result,omitempty"`
	Err    error       `json:"-"`
}

// Batch converts a file of "amount from to" lines. Blank lines and
// #-comments are skipped.
func (s *ConvertService) Batch(ctx context.Context, r io.Reader, o ConvertOptions) ([]BatchLine, error) {
	var out []BatchLine
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return out, translateProxyErr(err)
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		res := BatchLine{Line: lineNo, Input: line}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			res.Err = invalidInput("want: <amount> <from> <to>")
			out = append(out, res)
			continue
		}
		amount, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			res.Err = invalidInput("bad amount %q", fields[0])
			out = append(out, res)
			continue
		}
		conv, err := s.Run(ctx, amount, fields[1], fields[2], o)
		if err != nil {
			// Caller faults stay on their line; anything else (rate limit,
			// cancellation, upstream loss) aborts the batch.
			if dispatch.KindOf(err) == dispatch.KindInvalidInput {
				res.Err = err
				out = append(out, res)
				continue
			}
			return out, err
		}
		res.Result = conv
		out = append(out, res)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("ops: reading batch input: %w", err)
	}
	return out, nil
}
