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
	"strings"
)

// AdapterID selects the wire dialect a provider speaks.
type AdapterID string

const (
	AdapterOpenAIChat     AdapterID = "openai_chat"
	AdapterGoogleChat     AdapterID = "google_chat"
	AdapterWeatherAPI     AdapterID = "weatherapi"
	AdapterOpenWeatherMap AdapterID = "openweathermap"
	AdapterOpenERAPI      AdapterID = "open_er_api"
	AdapterFrankfurter    AdapterID = "frankfurter"
	AdapterOpenMeteoGeo   AdapterID = "open_meteo_geo"
	AdapterIPAPI          AdapterID = "ipapi"
)

// ErrUnsupported marks an adapter/capability pairing that does not exist,
// e.g. asking a chat adapter for weather.
var ErrUnsupported = errors.New("provider: adapter does not serve capability")

// Request is a formatted upstream call, ready for the HTTP layer. URL is
// complete (query string included); Endpoint is the stable path used as
// the per-provider rate-limit key so query parameters never fragment the
// accounting window.
type Request struct {
	Method   string
	URL      string
	Endpoint string
	Body     []byte // JSON; nil for GET
}

// FormatRequest builds the wire request for a capability from its neutral
// payload. It is a pure function of the provider snapshot and the payload.
func FormatRequest(p Provider, cap Capability, payload interface{}) (Request, error) {
	switch p.AdapterID {
	case AdapterOpenAIChat:
		if cap != CapChat {
			return Request{}, ErrUnsupported
		}
		req, err := asChat(payload)
		if err != nil {
			return Request{}, err
		}
		return buildOpenAIChat(p, req)

	case AdapterGoogleChat:
		if cap != CapChat {
			return Request{}, ErrUnsupported
		}
		req, err := asChat(payload)
		if err != nil {
			return Request{}, err
		}
		return buildGoogleChat(p, req)

	case AdapterWeatherAPI:
		q, err := asWeather(payload)
		if err != nil {
			return Request{}, err
		}
		return buildWeatherAPI(p, cap, q)

	case AdapterOpenWeatherMap:
		switch cap {
		case CapWeatherCurrent, CapWeatherForecast:
			q, err := asWeather(payload)
			if err != nil {
				return Request{}, err
			}
			return buildOWMWeather(p, cap, q)
		case CapGeocoding:
			q, err := asGeo(payload)
			if err != nil {
				return Request{}, err
			}
			return buildOWMGeocode(p, q)
		}
		return Request{}, ErrUnsupported

	case AdapterOpenERAPI:
		if cap != CapExchangeRate {
			return Request{}, ErrUnsupported
		}
		q, err := asRate(payload)
		if err != nil {
			return Request{}, err
		}
		return buildOpenERAPI(p, q)

	case AdapterFrankfurter:
		if cap != CapExchangeRate && cap != CapExchangeHistory {
			return Request{}, ErrUnsupported
		}
		q, err := asRate(payload)
		if err != nil {
			return Request{}, err
		}
		return buildFrankfurter(p, q)

	case AdapterOpenMeteoGeo:
		if cap != CapGeocoding {
			return Request{}, ErrUnsupported
		}
		q, err := asGeo(payload)
		if err != nil {
			return Request{}, err
		}
		return buildOpenMeteoGeocode(p, q)

	case AdapterIPAPI:
		if cap != CapGeolocate {
			return Request{}, ErrUnsupported
		}
		return buildIPAPILocate(p)
	}
	return Request{}, fmt.Errorf("provider: unknown adapter %q", p.AdapterID)
}

// ParseResponse normalizes a 2xx upstream body into the capability's
// neutral shape: NormalizedReply for chat, *Report for weather, *RateTable
// for exchange rates and *Place for geocoding and geolocation. The original
// payload rides along because weather normalization depends on the
// requested unit system, which the body alone cannot reveal. A body that
// cannot be normalized is an error; the dispatcher treats that provider
// attempt as failed and moves on.
func ParseResponse(p Provider, cap Capability, payload interface{}, raw []byte) (interface{}, error) {
	switch p.AdapterID {
	case AdapterOpenAIChat:
		return parseOpenAIChat(raw)
	case AdapterGoogleChat:
		return parseGoogleChat(raw)
	case AdapterWeatherAPI:
		q, err := asWeather(payload)
		if err != nil {
			return nil, err
		}
		return parseWeatherAPI(cap, q, raw)
	case AdapterOpenWeatherMap:
		if cap == CapGeocoding {
			return parseOWMGeocode(raw)
		}
		q, err := asWeather(payload)
		if err != nil {
			return nil, err
		}
		return parseOWMWeather(cap, q, raw)
	case AdapterOpenERAPI:
		return parseOpenERAPI(raw)
	case AdapterFrankfurter:
		return parseFrankfurter(raw)
	case AdapterOpenMeteoGeo:
		return parseOpenMeteoGeocode(raw)
	case AdapterIPAPI:
		return parseIPAPILocate(raw)
	}
	return nil, fmt.Errorf("provider: unknown adapter %q", p.AdapterID)
}

// ParseProxyPayload decodes a proxy response into the capability's neutral
// shape, with just enough validation to catch a proxy that answered 200
// with the wrong body. The proxy client treats a shape error the same as
// an unreachable endpoint.
func ParseProxyPayload(cap Capability, raw []byte) (interface{}, error) {
	switch cap {
	case CapChat:
		var r NormalizedReply
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("provider: proxy chat payload: %w", err)
		}
		if strings.TrimSpace(r.Content) == "" {
			return nil, errors.New("provider: proxy chat payload has no content")
		}
		return r, nil

	case CapWeatherCurrent, CapWeatherForecast:
		var rep Report
		if err := json.Unmarshal(raw, &rep); err != nil {
			return nil, fmt.Errorf("provider: proxy weather payload: %w", err)
		}
		if rep.Location.Name == "" && rep.Location.Lat == 0 && rep.Location.Lon == 0 {
			return nil, errors.New("provider: proxy weather payload has no location")
		}
		return &rep, nil

	case CapExchangeRate, CapExchangeHistory:
		var t RateTable
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("provider: proxy rate payload: %w", err)
		}
		if t.Base == "" || len(t.Rates) == 0 {
			return nil, errors.New("provider: proxy rate payload is empty")
		}
		return &t, nil

	case CapGeocoding, CapGeolocate:
		var pl Place
		if err := json.Unmarshal(raw, &pl); err != nil {
			return nil, fmt.Errorf("provider: proxy place payload: %w", err)
		}
		if pl.Name == "" {
			return nil, errors.New("provider: proxy place payload has no name")
		}
		return &pl, nil
	}
	return nil, fmt.Errorf("provider: no proxy shape for capability %q", cap)
}

func asChat(payload interface{}) (ChatRequest, error) {
	req, ok := payload.(ChatRequest)
	if !ok {
		return ChatRequest{}, fmt.Errorf("provider: chat payload must be ChatRequest, got %T", payload)
	}
	return req, nil
}

func asWeather(payload interface{}) (WeatherQuery, error) {
	q, ok := payload.(WeatherQuery)
	if !ok {
		return WeatherQuery{}, fmt.Errorf("provider: weather payload must be WeatherQuery, got %T", payload)
	}
	return q, nil
}

func asRate(payload interface{}) (RateQuery, error) {
	q, ok := payload.(RateQuery)
	if !ok {
		return RateQuery{}, fmt.Errorf("provider: rate payload must be RateQuery, got %T", payload)
	}
	return q, nil
}

func asGeo(payload interface{}) (GeoQuery, error) {
	q, ok := payload.(GeoQuery)
	if !ok {
		return GeoQuery{}, fmt.Errorf("provider: geo payload must be GeoQuery, got %T", payload)
	}
	return q, nil
}
