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
	"strconv"
	"time"
)

// WeatherAPI.com serves current conditions and forecast from the same
// /forecast.json endpoint; a current-only lookup is a one-day forecast,
// which is also the only way to get sunrise/sunset on the free tier.

const (
	weatherAPIDefaultDays = 3
	weatherAPIMaxDays     = 10
)

func buildWeatherAPI(p Provider, cap Capability, q WeatherQuery) (Request, error) {
	days := 1
	if cap == CapWeatherForecast {
		days = q.Days
		if days <= 0 {
			days = weatherAPIDefaultDays
		}
		if days > weatherAPIMaxDays {
			days = weatherAPIMaxDays
		}
	} else if cap != CapWeatherCurrent {
		return Request{}, ErrUnsupported
	}
	if q.queryText() == "" {
		return Request{}, errors.New("provider: weather query has no location")
	}

	v := url.Values{}
	v.Set("key", p.Credential)
	v.Set("q", q.queryText())
	v.Set("days", strconv.Itoa(days))
	if q.Lang != "" && q.Lang != "en" {
		v.Set("lang", q.Lang)
	}
	if q.AirQuality {
		v.Set("aqi", "yes")
	}
	if q.Alerts {
		v.Set("alerts", "yes")
	}
	return Request{
		Method:   http.MethodGet,
		URL:      p.BaseURL + "/forecast.json?" + v.Encode(),
		Endpoint: "/forecast.json",
	}, nil
}

type weatherAPIResponse struct {
	Location struct {
		Name    string  `json:"name"`
		Region  string  `json:"region"`
		Country string  `json:"country"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	} `json:"location"`
	Current struct {
		TempC      float64 `json:"temp_c"`
		TempF      float64 `json:"temp_f"`
		FeelsC     float64 `json:"feelslike_c"`
		FeelsF     float64 `json:"feelslike_f"`
		Humidity   int     `json:"humidity"`
		PressureMB float64 `json:"pressure_mb"`
		WindKPH    float64 `json:"wind_kph"`
		WindMPH    float64 `json:"wind_mph"`
		WindDegree int     `json:"wind_degree"`
		GustKPH    float64 `json:"gust_kph"`
		GustMPH    float64 `json:"gust_mph"`
		VisKM      float64 `json:"vis_km"`
		VisMiles   float64 `json:"vis_miles"`
		UV         float64 `json:"uv"`
		Cloud      int     `json:"cloud"`
		PrecipMM   float64 `json:"precip_mm"`
		PrecipIN   float64 `json:"precip_in"`
		Condition  struct {
			Text string `json:"text"`
			Icon string `json:"icon"`
			Code int    `json:"code"`
		} `json:"condition"`
		AirQuality *struct {
			PM25     float64 `json:"pm2_5"`
			PM10     float64 `json:"pm10"`
			O3       float64 `json:"o3"`
			NO2      float64 `json:"no2"`
			EPAIndex int     `json:"us-epa-index"`
		} `json:"air_quality"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxC         float64 `json:"maxtemp_c"`
				MaxF         float64 `json:"maxtemp_f"`
				MinC         float64 `json:"mintemp_c"`
				MinF         float64 `json:"mintemp_f"`
				MaxWindKPH   float64 `json:"maxwind_kph"`
				MaxWindMPH   float64 `json:"maxwind_mph"`
				ChanceOfRain int     `json:"daily_chance_of_rain"`
				ChanceOfSnow int     `json:"daily_chance_of_snow"`
				Condition    struct {
					Text string `json:"text"`
					Icon string `json:"icon"`
					Code int    `json:"code"`
				} `json:"condition"`
			} `json:"day"`
			Astro struct {
				Sunrise string `json:"sunrise"` // "07:33 AM"
				Sunset  string `json:"sunset"`
			} `json:"astro"`
		} `json:"forecastday"`
	} `json:"forecast"`
	Alerts struct {
		Alert []struct {
			Event     string `json:"event"`
			Headline  string `json:"headline"`
			Severity  string `json:"severity"`
			Areas     string `json:"areas"`
			Effective string `json:"effective"`
			Expires   string `json:"expires"`
			Desc      string `json:"desc"`
		} `json:"alert"`
	} `json:"alerts"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseWeatherAPI(cap Capability, q WeatherQuery, raw []byte) (interface{}, error) {
	var resp weatherAPIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode weather response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("provider: upstream error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Location.Name == "" {
		return nil, errors.New("provider: weather response has no location")
	}

	imperial := q.imperial()
	cur := resp.Current
	report := &Report{
		Location: Location{
			Name:    resp.Location.Name,
			Region:  resp.Location.Region,
			Country: resp.Location.Country,
			Lat:     resp.Location.Lat,
			Lon:     resp.Location.Lon,
		},
		Current: Current{
			Temperature: pick(imperial, cur.TempF, cur.TempC),
			FeelsLike:   pick(imperial, cur.FeelsF, cur.FeelsC),
			HumidityPct: cur.Humidity,
			Pressure:    cur.PressureMB,
			Wind: Wind{
				Speed:        pick(imperial, cur.WindMPH, cur.WindKPH),
				DirectionDeg: cur.WindDegree,
				Gust:         pick(imperial, cur.GustMPH, cur.GustKPH),
			},
			Condition:     cur.Condition.Text,
			ConditionCode: cur.Condition.Code,
			Icon:          cur.Condition.Icon,
			Visibility:    pick(imperial, cur.VisMiles, cur.VisKM),
			UVIndex:       cur.UV,
			CloudsPct:     cur.Cloud,
			Rain:          pick(imperial, cur.PrecipIN, cur.PrecipMM),
		},
		Units: unitsLabel(imperial),
	}
	if cur.AirQuality != nil {
		report.Current.AirQuality = &AirQuality{
			Index: cur.AirQuality.EPAIndex,
			PM25:  cur.AirQuality.PM25,
			PM10:  cur.AirQuality.PM10,
			O3:    cur.AirQuality.O3,
			NO2:   cur.AirQuality.NO2,
		}
	}
	if len(resp.Forecast.ForecastDay) > 0 {
		astro := resp.Forecast.ForecastDay[0].Astro
		report.Current.Sunrise = to24h(astro.Sunrise)
		report.Current.Sunset = to24h(astro.Sunset)
	}
	if q.Alerts {
		for _, al := range resp.Alerts.Alert {
			report.Alerts = append(report.Alerts, Alert{
				Event:       al.Event,
				Headline:    al.Headline,
				Severity:    al.Severity,
				Areas:       al.Areas,
				Effective:   al.Effective,
				Expires:     al.Expires,
				Description: al.Desc,
			})
		}
	}

	if cap == CapWeatherForecast {
		for _, fd := range resp.Forecast.ForecastDay {
			chance := fd.Day.ChanceOfRain
			if fd.Day.ChanceOfSnow > chance {
				chance = fd.Day.ChanceOfSnow
			}
			report.Forecast = append(report.Forecast, ForecastDay{
				Date: fd.Date,
				Temp: DayTemp{
					Min: pick(imperial, fd.Day.MinF, fd.Day.MinC),
					Max: pick(imperial, fd.Day.MaxF, fd.Day.MaxC),
				},
				Condition:     fd.Day.Condition.Text,
				ConditionCode: fd.Day.Condition.Code,
				Icon:          fd.Day.Condition.Icon,
				PrecipChance:  chance,
				WindMax:       pick(imperial, fd.Day.MaxWindMPH, fd.Day.MaxWindKPH),
			})
		}
	}
	return report, nil
}

func pick(imperial bool, imp, met float64) float64 {
	if imperial {
		return imp
	}
	return met
}

func unitsLabel(imperial bool) string {
	if imperial {
		return "imperial"
	}
	return "metric"
}

// to24h converts WeatherAPI's "07:33 AM" astro times to HH:MM. Anything
// unparseable passes through untouched.
func to24h(s string) string {
	t, err := time.Parse("03:04 PM", s)
	if err != nil {
		return s
	}
	return t.Format("15:04")
}
