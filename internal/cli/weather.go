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
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mdsaad/internal/ops"
)

func (a *App) newWeatherCmd() *cobra.Command {
	var o ops.WeatherOptions
	cmd := &cobra.Command{
		Use:   "weather [location]",
		Short: "Current conditions or forecast for a place",
		Long:  "Looks up weather for a city name, \"city,region\" or \"lat,lon\" pair.\nWith no location the caller's public IP decides. Results are cached;\nwhen every upstream is down a recent stale answer is served instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.core.Weather.Run(cmd.Context(), strings.Join(args, " "), o)
			if err != nil {
				return err
			}
			a.printWeather(res)
			age := ""
			if res.Age > 0 {
				age = res.Age.Truncate(time.Second).String()
			}
			a.attribution(
				"provider", res.Provider,
				"via", res.Via,
				"cached", yesNo(res.FromCache),
				"age", age,
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&o.Forecast, "forecast", "f", false, "multi-day forecast instead of current conditions")
	f.IntVarP(&o.Days, "days", "d", 3, "forecast days (max 10)")
	f.VarP(newEnumValue(&o.Units, "metric", "metric", "imperial"), "units", "u", "unit system: metric or imperial")
	f.StringVarP(&o.Lang, "lang", "l", "", "condition text language code")
	f.BoolVar(&o.Alerts, "alerts", false, "include active weather warnings")
	f.BoolVar(&o.AirQuality, "aqi", false, "include air quality data")
	return cmd
}

func (a *App) printWeather(res *ops.WeatherResult) {
	rep := res.Report
	imperial := rep.Units == "imperial"
	temp, speed, dist, precip := "°C", "km/h", "km", "mm"
	if imperial {
		temp, speed, dist, precip = "°F", "mph", "mi", "in"
	}

	loc := rep.Location.Name
	if rep.Location.Region != "" {
		loc += ", " + rep.Location.Region
	}
	if rep.Location.Country != "" {
		loc += ", " + rep.Location.Country
	}
	fmt.Fprintln(a.out, styleHeader.Render(loc))

	if res.Stale {
		fmt.Fprintln(a.out, styleStale.Render(
			fmt.Sprintf("stale data from %s ago; every upstream is unreachable", res.Age.Truncate(time.Second))))
	}

	cur := rep.Current
	fmt.Fprintf(a.out, "%s, %.1f%s (feels like %.1f%s)\n", cur.Condition, cur.Temperature, temp, cur.FeelsLike, temp)

	details := []string{
		fmt.Sprintf("humidity %d%%", cur.HumidityPct),
		fmt.Sprintf("wind %.0f %s %s", cur.Wind.Speed, speed, compass(cur.Wind.DirectionDeg)),
		fmt.Sprintf("pressure %.0f hPa", cur.Pressure),
		fmt.Sprintf("visibility %.0f %s", cur.Visibility, dist),
	}
	if cur.Rain > 0 {
		details = append(details, fmt.Sprintf("rain %.1f %s", cur.Rain, precip))
	}
	if cur.UVIndex > 0 {
		details = append(details, fmt.Sprintf("uv %.0f", cur.UVIndex))
	}
	if cur.Sunrise != "" && cur.Sunset != "" {
		details = append(details, "sunrise "+cur.Sunrise, "sunset "+cur.Sunset)
	}
	fmt.Fprintln(a.out, styleDim.Render(strings.Join(details, "  ")))

	if aq := cur.AirQuality; aq != nil {
		fmt.Fprintf(a.out, "air quality: %s (PM2.5 %.1f, PM10 %.1f)\n", aqiLabel(aq.Index), aq.PM25, aq.PM10)
	}

	if len(rep.Forecast) > 0 {
		rows := make([][]string, 0, len(rep.Forecast))
		for _, day := range rep.Forecast {
			rows = append(rows, []string{
				day.Date,
				day.Condition,
				fmt.Sprintf("%.0f%s", day.Temp.Min, temp),
				fmt.Sprintf("%.0f%s", day.Temp.Max, temp),
				strconv.Itoa(day.PrecipChance) + "%",
				fmt.Sprintf("%.0f %s", day.WindMax, speed),
			})
		}
		fmt.Fprintln(a.out, renderTable([]string{"date", "condition", "min", "max", "precip", "wind"}, rows))
	}

	for _, al := range rep.Alerts {
		line := al.Event
		if al.Severity != "" {
			line += " (" + al.Severity + ")"
		}
		if al.Expires != "" {
			line += " until " + al.Expires
		}
		fmt.Fprintln(a.out, styleErr.Render("⚠ "+line))
		if al.Headline != "" {
			fmt.Fprintln(a.out, "  "+al.Headline)
		}
	}
}

// compass names the sixteen-point direction for a wind bearing.
func compass(deg int) string {
	points := []string{
		"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
		"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
	}
	idx := int((float64(deg)/22.5)+0.5) % 16
	if idx < 0 {
		idx += 16
	}
	return points[idx]
}

// aqiLabel maps the normalized 1..6 air-quality index to words.
func aqiLabel(idx int) string {
	switch idx {
	case 1:
		return "good"
	case 2:
		return "moderate"
	case 3:
		return "unhealthy for sensitive groups"
	case 4:
		return "unhealthy"
	case 5:
		return "very unhealthy"
	case 6:
		return "hazardous"
	default:
		return "index " + strconv.Itoa(idx)
	}
}
