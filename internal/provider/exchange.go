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

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Two keyless rate sources: open.er-api.com serves latest tables only,
// api.frankfurter.app serves latest and historical (ECB reference rates).
// Splitting history into its own capability keeps the failover candidate
// list honest; a dated query never burns an attempt on a source that
// cannot answer it.

func normalizeBase(q RateQuery) (string, error) {
	base := strings.ToUpper(strings.TrimSpace(q.Base))
	if len(base) != 3 {
		return "", fmt.Errorf("provider: %q is not a currency code", q.Base)
	}
	for _, r := range base {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("provider: %q is not a currency code", q.Base)
		}
	}
	return base, nil
}

func buildOpenERAPI(p Provider, q RateQuery) (Request, error) {
	base, err := normalizeBase(q)
	if err != nil {
		return Request{}, err
	}
	if q.Date != "" {
		return Request{}, ErrUnsupported
	}
	return Request{
		Method:   http.MethodGet,
		URL:      p.BaseURL + "/latest/" + base,
		Endpoint: "/latest",
	}, nil
}

type openERAPIResponse struct {
	Result         string             `json:"result"`
	ErrorType      string             `json:"error-type"`
	BaseCode       string             `json:"base_code"`
	LastUpdateUnix int64              `json:"time_last_update_unix"`
	Rates          map[string]float64 `json:"rates"`
}

func parseOpenERAPI(raw []byte) (interface{}, error) {
	var resp openERAPIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode rate response: %w", err)
	}
	if resp.Result != "success" {
		return nil, fmt.Errorf("provider: upstream error: %s", resp.ErrorType)
	}
	if len(resp.Rates) == 0 {
		return nil, errors.New("provider: rate response has no rates")
	}
	date := ""
	if resp.LastUpdateUnix > 0 {
		date = time.Unix(resp.LastUpdateUnix, 0).UTC().Format("2006-01-02")
	}
	return &RateTable{Base: resp.BaseCode, Date: date, Rates: resp.Rates}, nil
}

func buildFrankfurter(p Provider, q RateQuery) (Request, error) {
	base, err := normalizeBase(q)
	if err != nil {
		return Request{}, err
	}
	path := "/latest"
	if q.Date != "" {
		if _, err := time.Parse("2006-01-02", q.Date); err != nil {
			return Request{}, fmt.Errorf("provider: bad rate date %q: want YYYY-MM-DD", q.Date)
		}
		path = "/" + q.Date
	}
	v := url.Values{}
	v.Set("from", base)
	return Request{
		Method:   http.MethodGet,
		URL:      p.BaseURL + path + "?" + v.Encode(),
		Endpoint: "/rates",
	}, nil
}

type frankfurterResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

func parseFrankfurter(raw []byte) (interface{}, error) {
	var resp frankfurterResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode rate response: %w", err)
	}
	if resp.Base == "" || len(resp.Rates) == 0 {
		return nil, errors.New("provider: rate response has no rates")
	}
	// The base trades 1:1 with itself; open.er-api includes it, Frankfurter
	// does not, and consumers index the table by target code.
	resp.Rates[resp.Base] = 1
	return &RateTable{Base: resp.Base, Date: resp.Date, Rates: resp.Rates}, nil
}
