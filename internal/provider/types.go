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
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPrompt is returned by chat adapters when the request carries no
// non-blank user content.
var ErrEmptyPrompt = errors.New("provider: chat prompt is empty")

// Message is one turn of a chat conversation in provider-neutral form.
// Role is one of system, user or assistant.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-neutral chat payload. Model may be an alias;
// adapters resolve it through the provider's alias table.
type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// validate rejects requests with no usable user prompt. Adapters call this
// before formatting so a blank prompt never reaches the wire.
func (r ChatRequest) validate() error {
	for _, m := range r.Messages {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return nil
		}
	}
	return ErrEmptyPrompt
}

// Usage carries token accounting when the upstream reports it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NormalizedReply is the capability-neutral chat result every chat adapter
// and the proxy produce.
type NormalizedReply struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Chunks exposes the reply as a lazy chunk sequence. None of the current
// adapters stream at the wire level, so the sequence holds exactly one
// chunk; callers range over it either way and stay agnostic.
func (r NormalizedReply) Chunks() <-chan string {
	ch := make(chan string, 1)
	ch <- r.Content
	close(ch)
	return ch
}

// WeatherQuery describes a weather lookup. Either Location carries free
// text ("city" or "city,region") or HasCoords is set with Lat/Lon.
type WeatherQuery struct {
	Location   string  `json:"location,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lon        float64 `json:"lon,omitempty"`
	HasCoords  bool    `json:"has_coords,omitempty"`
	Units      string  `json:"units"` // metric | imperial
	Lang       string  `json:"lang,omitempty"`
	Days       int     `json:"days,omitempty"`
	AirQuality bool    `json:"air_quality,omitempty"`
	Alerts     bool    `json:"alerts,omitempty"`
}

// queryText renders the location the way weather upstreams expect it.
func (q WeatherQuery) queryText() string {
	if q.HasCoords {
		return fmt.Sprintf("%.4f,%.4f", q.Lat, q.Lon)
	}
	return q.Location
}

func (q WeatherQuery) imperial() bool { return q.Units == "imperial" }

// Location identifies the resolved place of a weather report.
type Location struct {
	Name    string  `json:"name"`
	Region  string  `json:"region,omitempty"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Wind speed and gust are km/h in metric reports, mph in imperial ones.
type Wind struct {
	Speed        float64 `json:"speed"`
	DirectionDeg int     `json:"direction_deg"`
	Gust         float64 `json:"gust,omitempty"`
}

// AirQuality mirrors the 1 (good) to 6 (hazardous) index scale with the
// headline pollutant concentrations in micrograms per cubic meter.
type AirQuality struct {
	Index int     `json:"index"`
	PM25  float64 `json:"pm2_5,omitempty"`
	PM10  float64 `json:"pm10,omitempty"`
	O3    float64 `json:"o3,omitempty"`
	NO2   float64 `json:"no2,omitempty"`
}

// Current holds present conditions. All values are in the report's unit
// system: adapters convert at the edge so consumers never do.
type Current struct {
	Temperature   float64     `json:"temperature"`
	FeelsLike     float64     `json:"feels_like"`
	HumidityPct   int         `json:"humidity_pct"`
	Pressure      float64     `json:"pressure"` // hPa in both systems
	Wind          Wind        `json:"wind"`
	Condition     string      `json:"condition"`
	ConditionCode int         `json:"condition_code"`
	Icon          string      `json:"icon,omitempty"`
	Visibility    float64     `json:"visibility"` // km or miles
	UVIndex       float64     `json:"uv_index,omitempty"`
	CloudsPct     int         `json:"clouds_pct"`
	Rain          float64     `json:"rain,omitempty"` // mm or in
	Snow          float64     `json:"snow,omitempty"`
	AirQuality    *AirQuality `json:"air_quality,omitempty"`
	Sunrise       string      `json:"sunrise,omitempty"` // local HH:MM
	Sunset        string      `json:"sunset,omitempty"`
}

// Alert is one active weather warning. Only adapters whose upstream
// publishes warnings populate these, and only when the query asked.
type Alert struct {
	Event       string `json:"event"`
	Headline    string `json:"headline,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Areas       string `json:"areas,omitempty"`
	Effective   string `json:"effective,omitempty"`
	Expires     string `json:"expires,omitempty"`
	Description string `json:"description,omitempty"`
}

// DayTemp is a forecast day's temperature envelope.
type DayTemp struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ForecastDay is one aggregated day of forecast.
type ForecastDay struct {
	Date          string  `json:"date"` // YYYY-MM-DD local
	Temp          DayTemp `json:"temp"`
	Condition     string  `json:"condition"`
	ConditionCode int     `json:"condition_code"`
	Icon          string  `json:"icon,omitempty"`
	PrecipChance  int     `json:"precip_chance_pct"`
	WindMax       float64 `json:"wind_max,omitempty"`
}

// Report is the normalized weather shape shared by every weather adapter,
// the proxy and the cache. It must survive a JSON round trip unchanged;
// that is what lets cached reports be served as if fresh.
type Report struct {
	Location Location      `json:"location"`
	Current  Current       `json:"current"`
	Forecast []ForecastDay `json:"forecast,omitempty"`
	Alerts   []Alert       `json:"alerts,omitempty"`
	Units    string        `json:"units"`
}

// RateQuery asks for an exchange-rate table. Date selects a historical
// day (YYYY-MM-DD); empty means latest.
type RateQuery struct {
	Base string `json:"base"`
	Date string `json:"date,omitempty"`
}

// RateTable is a base currency's full rate table on a given date.
type RateTable struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// GeoQuery resolves free-text place names (geocoding). For the geolocate
// capability Query stays empty; the upstream infers the caller's location.
type GeoQuery struct {
	Query string `json:"query,omitempty"`
	Lang  string `json:"lang,omitempty"`
}

// Place is a resolved location from geocoding or IP geolocation.
type Place struct {
	Name    string  `json:"name"`
	Region  string  `json:"region,omitempty"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}
