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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mdsaad/internal/dispatch"
	"mdsaad/internal/history"
	"mdsaad/internal/provider"
	"mdsaad/internal/proxy"
)

const (
	weatherNamespace = "weather"
	generalNamespace = "general"

	currentTTL  = 30 * time.Minute
	forecastTTL = time.Hour
	geoTTL      = time.Hour

	defaultForecastDays = 3
	maxForecastDays     = 10
)

// WeatherService answers current-conditions and forecast queries with a
// read-through cache and a stale fallback when every upstream is down.
type WeatherService struct {
	d Deps
}

func NewWeather(d Deps) *WeatherService { return &WeatherService{d: d} }

// WeatherOptions tune one lookup.
type WeatherOptions struct {
	Forecast   bool
	Days       int
	Units      string // metric (default) or imperial
	Lang       string
	AirQuality bool
	Alerts     bool
}

// WeatherResult carries the normalized report plus where it came from.
type WeatherResult struct {
	Report    *provider.Report
	Provider  string
	Via       string
	FromCache bool
	Stale     bool          // served from an expired entry after upstream failure
	Age       time.Duration // entry age when FromCache or Stale
}

// cachedWeather is the cache payload: the report plus attribution, so a
// hit can still say who produced it.
type cachedWeather struct {
	Report   *provider.Report `json:"report"`
	Provider string           `json:"provider"`
	Via      string           `json:"via"`
}

// Run looks up weather for location. Empty location auto-detects via the
// caller's public IP.
func (s *WeatherService) Run(ctx context.Context, location string, o WeatherOptions) (*WeatherResult, error) {
	units := strings.ToLower(strings.TrimSpace(o.Units))
	switch units {
	case "":
		units = "metric"
	case "metric", "imperial":
	default:
		return nil, invalidInput("units must be metric or imperial, not %q", o.Units)
	}
	lang := strings.ToLower(strings.TrimSpace(o.Lang))
	if lang == "" {
		lang = "en"
	}

	cap := provider.CapWeatherCurrent
	ttl := currentTTL
	daysLabel := "current"
	days := 0
	if o.Forecast {
		cap = provider.CapWeatherForecast
		ttl = forecastTTL
		days = o.Days
		if days <= 0 {
			days = defaultForecastDays
		}
		if days > maxForecastDays {
			days = maxForecastDays
		}
		daysLabel = strconv.Itoa(days)
	}

	query, locKey, err := s.resolveLocation(ctx, location)
	if err != nil {
		return nil, err
	}
	query.Units = units
	query.Lang = lang
	query.Days = days
	query.AirQuality = o.AirQuality
	query.Alerts = o.Alerts

	// The extras label keeps enriched payloads (air quality, alerts) from
	// being served to a plain lookup and vice versa.
	parts := []string{s.family(cap), locKey, units, lang, daysLabel, extrasLabel(o)}
	if raw, ok := s.d.Cache.Get(weatherNamespace, parts); ok {
		var env cachedWeather
		if err := json.Unmarshal(raw, &env); err == nil {
			return &WeatherResult{
				Report:    env.Report,
				Provider:  env.Provider,
				Via:       env.Via,
				FromCache: true,
			}, nil
		}
		// A payload written by this process that no longer decodes is a
		// defect upstream of here; treat as a miss.
		s.d.Cache.Invalidate(weatherNamespace, parts)
	}

	report, servedBy, via, err := s.fetch(ctx, cap, query)
	if err != nil {
		if res, ok := s.staleFallback(parts, err); ok {
			return res, nil
		}
		return nil, err
	}

	if raw, merr := json.Marshal(cachedWeather{Report: report, Provider: servedBy, Via: via}); merr == nil {
		s.d.Cache.Set(weatherNamespace, parts, raw, ttl)
	}
	s.remember(report, query, servedBy, via, o.Forecast)
	return &WeatherResult{Report: report, Provider: servedBy, Via: via}, nil
}

// fetch tries the relay, then direct providers.
func (s *WeatherService) fetch(ctx context.Context, cap provider.Capability, q provider.WeatherQuery) (*provider.Report, string, string, error) {
	if s.d.proxyFirst() {
		res, err := s.d.Proxy.Call(ctx, cap, q)
		if err == nil {
			if rep, ok := res.Payload.(*provider.Report); ok {
				return rep, "proxy", ViaProxy, nil
			}
			return nil, "", "", fmt.Errorf("ops: unexpected relay weather payload %T", res.Payload)
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
	rep, ok := reply.Payload.(*provider.Report)
	if !ok {
		return nil, "", "", fmt.Errorf("ops: unexpected weather payload %T", reply.Payload)
	}
	return rep, reply.Provider, ViaDirect, nil
}

// staleFallback serves an expired cache entry when the failure is the
// upstream's fault, not the caller's. Bad input or a terminal client
// error must surface, stale data would only hide it.
func (s *WeatherService) staleFallback(parts []string, cause error) (*WeatherResult, bool) {
	switch dispatch.KindOf(cause) {
	case dispatch.KindUpstreamUnavailable, dispatch.KindRateLimited, dispatch.KindDeadlineExceeded:
	default:
		return nil, false
	}
	raw, created, ok := s.d.Cache.GetStale(weatherNamespace, parts)
	if !ok {
		return nil, false
	}
	var env cachedWeather
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	age := s.d.clock().WallNow().Sub(created)
	s.d.log().WithError(cause).WithField("age", age.Round(time.Minute)).
		Warn("serving stale weather after upstream failure")
	return &WeatherResult{
		Report:   env.Report,
		Provider: env.Provider,
		Via:      env.Via,
		Stale:    true,
		Age:      age,
	}, true
}

// resolveLocation turns the user's location argument into a WeatherQuery
// and a stable cache-key component. Empty input geolocates the caller.
func (s *WeatherService) resolveLocation(ctx context.Context, location string) (provider.WeatherQuery, string, error) {
	loc := strings.Join(strings.Fields(location), " ")
	if loc == "" {
		place, err := s.locate(ctx)
		if err != nil {
			return provider.WeatherQuery{}, "", err
		}
		return provider.WeatherQuery{
			Location:  place.Name,
			Lat:       place.Lat,
			Lon:       place.Lon,
			HasCoords: true,
		}, fmt.Sprintf("%.4f,%.4f", place.Lat, place.Lon), nil
	}

	if lat, lon, ok := parseCoords(loc); ok {
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return provider.WeatherQuery{}, "", invalidInput("coordinates %q out of range", loc)
		}
		return provider.WeatherQuery{
			Location:  loc,
			Lat:       lat,
			Lon:       lon,
			HasCoords: true,
		}, fmt.Sprintf("%.4f,%.4f", lat, lon), nil
	}

	return provider.WeatherQuery{Location: loc}, strings.ToLower(loc), nil
}

// locate resolves the caller's own position from their public IP. This
// always goes direct: a relayed lookup would geolocate the relay.
func (s *WeatherService) locate(ctx context.Context) (*provider.Place, error) {
	parts := []string{"geolocate", "self"}
	if raw, ok := s.d.Cache.Get(generalNamespace, parts); ok {
		var place provider.Place
		if err := json.Unmarshal(raw, &place); err == nil {
			return &place, nil
		}
	}

	reply, err := s.d.Dispatch.Call(ctx, provider.CapGeolocate, provider.GeoQuery{}, dispatch.CallOptions{})
	if err != nil {
		return nil, err
	}
	place, ok := reply.Payload.(*provider.Place)
	if !ok {
		return nil, fmt.Errorf("ops: unexpected geolocate payload %T", reply.Payload)
	}
	if raw, merr := json.Marshal(place); merr == nil {
		s.d.Cache.Set(generalNamespace, parts, raw, geoTTL)
	}
	return place, nil
}

// family names the cache-key component that distinguishes who shaped the
// report: the relay, or the adapter family of the first direct candidate.
// Reports from different families are equivalent but not identical, so
// they must not share entries.
func (s *WeatherService) family(cap provider.Capability) string {
	if s.d.proxyFirst() {
		return "proxy"
	}
	for _, p := range s.d.Registry.ListByCapability(cap) {
		if p.Enabled && p.Configured() {
			return string(p.AdapterID)
		}
	}
	return "none"
}

func (s *WeatherService) remember(rep *provider.Report, q provider.WeatherQuery, servedBy, via string, forecast bool) {
	if s.d.History == nil {
		return
	}
	kind := "weather"
	result := fmt.Sprintf("%.1f°%s, %s", rep.Current.Temperature, tempSuffix(rep.Units), rep.Current.Condition)
	if forecast && len(rep.Forecast) > 0 {
		result = fmt.Sprintf("%d-day forecast from %s", len(rep.Forecast), rep.Forecast[0].Date)
	}
	s.d.History.Append(history.Entry{
		Kind:     kind,
		Query:    q.Location,
		Result:   result,
		Provider: servedBy,
		Via:      via,
	})
}

func tempSuffix(units string) string {
	if units == "imperial" {
		return "F"
	}
	return "C"
}

// extrasLabel is the cache-key part for payload-enriching options.
func extrasLabel(o WeatherOptions) string {
	switch {
	case o.AirQuality && o.Alerts:
		return "aqi+alerts"
	case o.AirQuality:
		return "aqi"
	case o.Alerts:
		return "alerts"
	default:
		return "base"
	}
}

// parseCoords accepts "lat,lon" decimal pairs.
func parseCoords(s string) (lat, lon float64, ok bool) {
	i := strings.IndexByte(s, ',')
	if i < 0 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
