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
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// OpenWeatherMap's free tier exposes current conditions at /data/2.5/weather
// and a five-day, three-hour-step forecast at /data/2.5/forecast. The
// forecast endpoint carries no "current" block, so the first three-hour
// slot stands in for current conditions on forecast lookups; daily values
// are aggregated from the slots in the city's local time.

const owmMaxForecastDays = 5

func buildOWMWeather(p Provider, cap Capability, q WeatherQuery) (Request, error) {
	if q.queryText() == "" {
		return Request{}, errors.New("provider: weather query has no location")
	}
	v := url.Values{}
	if q.HasCoords {
		v.Set("lat", strconv.FormatFloat(q.Lat, 'f', 4, 64))
		v.Set("lon", strconv.FormatFloat(q.Lon, 'f', 4, 64))
	} else {
		v.Set("q", q.Location)
	}
	v.Set("appid", p.Credential)
	v.Set("units", unitsLabel(q.imperial()))
	if q.Lang != "" && q.Lang != "en" {
		v.Set("lang", q.Lang)
	}

	var path string
	switch cap {
	case CapWeatherCurrent:
		path = "/data/2.5/weather"
	case CapWeatherForecast:
		path = "/data/2.5/forecast"
	default:
		return Request{}, ErrUnsupported
	}
	return Request{
		Method:   http.MethodGet,
		URL:      p.BaseURL + path + "?" + v.Encode(),
		Endpoint: path,
	}, nil
}

type owmCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owmCurrentResponse struct {
	Coord   struct{ Lat, Lon float64 } `json:"coord"`
	Weather []owmCondition             `json:"weather"`
	Main    struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Pressure  float64 `json:"pressure"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Visibility int `json:"visibility"` // meters
	Wind       struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
		Gust  float64 `json:"gust"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Rain struct {
		OneH float64 `json:"1h"`
	} `json:"rain"`
	Snow struct {
		OneH float64 `json:"1h"`
	} `json:"snow"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Timezone int    `json:"timezone"` // shift from UTC, seconds
	Name     string `json:"name"`
}

type owmForecastResponse struct {
	List []struct {
		DT   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			TempMin   float64 `json:"temp_min"`
			TempMax   float64 `json:"temp_max"`
			FeelsLike float64 `json:"feels_like"`
			Pressure  float64 `json:"pressure"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Weather []owmCondition `json:"weather"`
		Clouds  struct {
			All int `json:"all"`
		} `json:"clouds"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   int     `json:"deg"`
			Gust  float64 `json:"gust"`
		} `json:"wind"`
		Visibility int     `json:"visibility"`
		POP        float64 `json:"pop"` // 0..1
		Rain       struct {
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
		Snow struct {
			ThreeH float64 `json:"3h"`
		} `json:"snow"`
	} `json:"list"`
	City struct {
		Name  string `json:"name"`
		Coord struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"coord"`
		Country  string `json:"country"`
		Timezone int    `json:"timezone"`
		Sunrise  int64  `json:"sunrise"`
		Sunset   int64  `json:"sunset"`
	} `json:"city"`
}

func parseOWMWeather(cap Capability, q WeatherQuery, raw []byte) (interface{}, error) {
	switch cap {
	case CapWeatherCurrent:
		return parseOWMCurrent(q, raw)
	case CapWeatherForecast:
		return parseOWMForecast(q, raw)
	}
	return nil, ErrUnsupported
}

func parseOWMCurrent(q WeatherQuery, raw []byte) (interface{}, error) {
	var resp owmCurrentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode weather response: %w", err)
	}
	if resp.Name == "" && resp.Coord.Lat == 0 && resp.Coord.Lon == 0 {
		return nil, errors.New("provider: weather response has no location")
	}
	imperial := q.imperial()
	cond := firstCondition(resp.Weather)

	return &Report{
		Location: Location{
			Name:    resp.Name,
			Country: resp.Sys.Country,
			Lat:     resp.Coord.Lat,
			Lon:     resp.Coord.Lon,
		},
		Current: Current{
			Temperature: resp.Main.Temp,
			FeelsLike:   resp.Main.FeelsLike,
			HumidityPct: resp.Main.Humidity,
			Pressure:    resp.Main.Pressure,
			Wind: Wind{
				Speed:        owmWindSpeed(resp.Wind.Speed, imperial),
				DirectionDeg: resp.Wind.Deg,
				Gust:         owmWindSpeed(resp.Wind.Gust, imperial),
			},
			Condition:     cond.Description,
			ConditionCode: cond.ID,
			Icon:          cond.Icon,
			Visibility:    owmVisibility(resp.Visibility, imperial),
			CloudsPct:     resp.Clouds.All,
			Rain:          owmPrecip(resp.Rain.OneH, imperial),
			Snow:          owmPrecip(resp.Snow.OneH, imperial),
			Sunrise:       owmClock(resp.Sys.Sunrise, resp.Timezone),
			Sunset:        owmClock(resp.Sys.Sunset, resp.Timezone),
		},
		Units: unitsLabel(imperial),
	}, nil
}

func parseOWMForecast(q WeatherQuery, raw []byte) (interface{}, error) {
	var resp owmForecastResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode forecast response: %w", err)
	}
	if len(resp.List) == 0 {
		return nil, errors.New("provider: forecast response has no slots")
	}
	imperial := q.imperial()
	tz := resp.City.Timezone

	days := q.Days
	if days <= 0 {
		days = weatherAPIDefaultDays
	}
	if days > owmMaxForecastDays {
		days = owmMaxForecastDays
	}

	// Fold three-hour slots into local-date buckets, keeping slot order.
	type bucket struct {
		day      ForecastDay
		middayAt int // hour distance from noon of the chosen condition
	}
	var order []string
	buckets := make(map[string]*bucket)
	for _, slot := range resp.List {
		local := time.Unix(slot.DT, 0).UTC().Add(time.Duration(tz) * time.Second)
		date := local.Format("2006-01-02")
		b, ok := buckets[date]
		if !ok {
			if len(order) == days {
				break
			}
			order = append(order, date)
			b = &bucket{middayAt: 24}
			b.day = ForecastDay{
				Date: date,
				Temp: DayTemp{Min: slot.Main.TempMin, Max: slot.Main.TempMax},
			}
			buckets[date] = b
		}
		b.day.Temp.Min = math.Min(b.day.Temp.Min, slot.Main.TempMin)
		b.day.Temp.Max = math.Max(b.day.Temp.Max, slot.Main.TempMax)
		if pct := int(math.Round(slot.POP * 100)); pct > b.day.PrecipChance {
			b.day.PrecipChance = pct
		}
		if ws := owmWindSpeed(slot.Wind.Speed, imperial); ws > b.day.WindMax {
			b.day.WindMax = ws
		}
		if dist := absInt(local.Hour() - 12); dist < b.middayAt {
			b.middayAt = dist
			cond := firstCondition(slot.Weather)
			b.day.Condition = cond.Description
			b.day.ConditionCode = cond.ID
			b.day.Icon = cond.Icon
		}
	}

	first := resp.List[0]
	cond := firstCondition(first.Weather)
	report := &Report{
		Location: Location{
			Name:    resp.City.Name,
			Country: resp.City.Country,
			Lat:     resp.City.Coord.Lat,
			Lon:     resp.City.Coord.Lon,
		},
		Current: Current{
			Temperature: first.Main.Temp,
			FeelsLike:   first.Main.FeelsLike,
			HumidityPct: first.Main.Humidity,
			Pressure:    first.Main.Pressure,
			Wind: Wind{
				Speed:        owmWindSpeed(first.Wind.Speed, imperial),
				DirectionDeg: first.Wind.Deg,
				Gust:         owmWindSpeed(first.Wind.Gust, imperial),
			},
			Condition:     cond.Description,
			ConditionCode: cond.ID,
			Icon:          cond.Icon,
			Visibility:    owmVisibility(first.Visibility, imperial),
			CloudsPct:     first.Clouds.All,
			Rain:          owmPrecip(first.Rain.ThreeH, imperial),
			Snow:          owmPrecip(first.Snow.ThreeH, imperial),
			Sunrise:       owmClock(resp.City.Sunrise, tz),
			Sunset:        owmClock(resp.City.Sunset, tz),
		},
		Units: unitsLabel(imperial),
	}
	for _, date := range order {
		report.Forecast = append(report.Forecast, buckets[date].day)
	}
	return report, nil
}

func buildOWMGeocode(p Provider, q GeoQuery) (Request, error) {
	if q.Query == "" {
		return Request{}, errors.New("provider: geocode query is empty")
	}
	v := url.Values{}
	v.Set("q", q.Query)
	v.Set("limit", "1")
	v.Set("appid", p.Credential)
	return Request{
		Method:   http.MethodGet,
		URL:      p.BaseURL + "/geo/1.0/direct?" + v.Encode(),
		Endpoint: "/geo/1.0/direct",
	}, nil
}

func parseOWMGeocode(raw []byte) (interface{}, error) {
	var places []struct {
		Name    string  `json:"name"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		Country string  `json:"country"`
		State   string  `json:"state"`
	}
	if err := json.Unmarshal(raw, &places); err != nil {
		return nil, fmt.Errorf("provider: decode geocode response: %w", err)
	}
	if len(places) == 0 {
		return nil, errors.New("provider: geocode matched no places")
	}
	pl := places[0]
	return &Place{
		Name:    pl.Name,
		Region:  pl.State,
		Country: pl.Country,
		Lat:     pl.Lat,
		Lon:     pl.Lon,
	}, nil
}

// owmWindSpeed converts OWM wind to the report convention: m/s become
// km/h in metric reports; imperial responses are already mph.
func owmWindSpeed(v float64, imperial bool) float64 {
	if imperial {
		return round1(v)
	}
	return round1(v * 3.6)
}

func owmVisibility(meters int, imperial bool) float64 {
	if imperial {
		return round1(float64(meters) / 1609.344)
	}
	return round1(float64(meters) / 1000)
}

// owmPrecip converts precipitation; OWM reports mm regardless of units.
func owmPrecip(mm float64, imperial bool) float64 {
	if imperial {
		return round2(mm / 25.4)
	}
	return mm
}

func owmClock(unix int64, tzSeconds int) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).UTC().Add(time.Duration(tzSeconds) * time.Second).Format("15:04")
}

func firstCondition(list []owmCondition) owmCondition {
	if len(list) == 0 {
		return owmCondition{}
	}
	return list[0]
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
