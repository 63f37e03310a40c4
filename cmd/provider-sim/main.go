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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// faultGate decides, per request, whether to answer honestly or inject a
// failure. All knobs are adjustable at runtime through /control so a soak
// can flip an upstream from healthy to limping without a restart.
type faultGate struct {
	mu         sync.Mutex
	rng        *rand.Rand
	reqs       uint64
	failRate   float64
	limitEvery int
	latency    time.Duration
	jitter     time.Duration
}

// decide returns how long to stall and which status to inject. A zero
// status means answer normally.
func (g *faultGate) decide() (time.Duration, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs++
	delay := g.latency
	if g.jitter > 0 {
		delay += time.Duration(g.rng.Int63n(int64(g.jitter)))
	}
	if g.limitEvery > 0 && g.reqs%uint64(g.limitEvery) == 0 {
		return delay, http.StatusTooManyRequests
	}
	if g.failRate > 0 && g.rng.Float64() < g.failRate {
		return delay, http.StatusInternalServerError
	}
	return delay, 0
}

func (g *faultGate) snapshot() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]interface{}{
		"requests":    g.reqs,
		"fail_rate":   g.failRate,
		"limit_every": g.limitEvery,
		"latency":     g.latency.String(),
		"jitter":      g.jitter.String(),
	}
}

type sim struct {
	gate     *faultGate
	requests *prometheus.CounterVec
	faults   *prometheus.CounterVec
}

// wrap applies the fault gate and metrics around a dialect handler. The
// handler only builds the happy-path payload.
func (s *sim) wrap(dialect string, fn func(r *http.Request) (int, interface{})) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		delay, fault := s.gate.decide()
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		if fault != 0 {
			s.faults.WithLabelValues(dialect, strconv.Itoa(fault)).Inc()
			s.requests.WithLabelValues(dialect, strconv.Itoa(fault)).Inc()
			writeFault(w, dialect, fault)
			return
		}
		status, body := fn(r)
		s.requests.WithLabelValues(dialect, strconv.Itoa(status)).Inc()
		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFault emits an injected failure in the dialect's own error shape,
// so clients exercise the same parse paths the real upstreams trigger.
func writeFault(w http.ResponseWriter, dialect string, status int) {
	msg := "simulated upstream failure"
	if status == http.StatusTooManyRequests {
		msg = "simulated rate limit"
		w.Header().Set("Retry-After", "2")
	}
	var body interface{}
	switch dialect {
	case "openai", "gemini":
		body = map[string]interface{}{"error": map[string]interface{}{"message": msg}}
	case "weatherapi":
		body = map[string]interface{}{"error": map[string]interface{}{"code": 9999, "message": msg}}
	case "owm":
		body = map[string]interface{}{"cod": status, "message": msg}
	case "erapi":
		body = map[string]interface{}{"result": "error", "error-type": msg}
	case "ipapi":
		body = map[string]interface{}{"error": true, "reason": msg}
	default:
		body = map[string]interface{}{"message": msg}
	}
	writeJSON(w, status, body)
}

// seedFor hashes its parts into a stable [0,1) float so the same query
// always gets the same weather, rates and coordinates.
func seedFor(parts ...string) float64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return float64(h.Sum64()%10000) / 10000
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// --- chat dialects ---

func simReply(model, prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		prompt = "(empty prompt)"
	}
	return fmt.Sprintf("[%s] Simulated completion for: %s", model, prompt)
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func lastUserContent(msgs []chatMsg) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func (s *sim) openAIChat(r *http.Request) (int, interface{}) {
	if r.Method != http.MethodPost {
		return http.StatusMethodNotAllowed, map[string]interface{}{"error": map[string]string{"message": "POST only"}}
	}
	var body struct {
		Model    string    `json:"model"`
		Messages []chatMsg `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return http.StatusBadRequest, map[string]interface{}{"error": map[string]string{"message": "malformed body: " + err.Error()}}
	}
	reply := simReply(body.Model, lastUserContent(body.Messages))
	promptTokens := 0
	for _, m := range body.Messages {
		promptTokens += len(m.Content)/4 + 1
	}
	completionTokens := len(reply)/4 + 1
	return http.StatusOK, map[string]interface{}{
		"model": body.Model,
		"choices": []map[string]interface{}{{
			"message":       map[string]string{"role": "assistant", "content": reply},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

func (s *sim) geminiChat(r *http.Request) (int, interface{}) {
	if r.Method != http.MethodPost {
		return http.StatusMethodNotAllowed, map[string]interface{}{"error": map[string]string{"message": "POST only"}}
	}
	model := strings.TrimPrefix(r.URL.Path, "/gemini/v1beta/models/")
	model = strings.TrimSuffix(model, ":generateContent")
	var body struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return http.StatusBadRequest, map[string]interface{}{"error": map[string]string{"message": "malformed body: " + err.Error()}}
	}
	prompt := ""
	for i := len(body.Contents) - 1; i >= 0; i-- {
		if body.Contents[i].Role != "model" && len(body.Contents[i].Parts) > 0 {
			prompt = body.Contents[i].Parts[0].Text
			break
		}
	}
	reply := simReply(model, prompt)
	return http.StatusOK, map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content":      map[string]interface{}{"parts": []map[string]string{{"text": reply}}},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]int{
			"promptTokenCount":     len(prompt)/4 + 1,
			"candidatesTokenCount": len(reply)/4 + 1,
			"totalTokenCount":      (len(prompt) + len(reply)) / 4,
		},
		"modelVersion": model,
	}
}

// --- weather dialects ---

var simConditions = []struct {
	Code int
	Text string
	Icon string
}{
	{1000, "Sunny", "113"},
	{1003, "Partly cloudy", "116"},
	{1063, "Patchy rain possible", "176"},
	{1183, "Light rain", "296"},
	{1219, "Moderate snow", "332"},
}

// locName invents a stable display name. Coordinate queries come from the
// geolocate path and get a grid label instead of a city.
func locName(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return "Simville"
	}
	first := strings.TrimSpace(strings.SplitN(q, ",", 2)[0])
	if first == "" {
		return "Simville"
	}
	if _, err := strconv.ParseFloat(first, 64); err == nil {
		return "Grid " + q
	}
	return first
}

func (s *sim) weatherAPIForecast(r *http.Request) (int, interface{}) {
	q := r.URL.Query()
	loc := q.Get("q")
	days, _ := strconv.Atoi(q.Get("days"))
	if days < 1 {
		days = 1
	}
	if days > 10 {
		days = 10
	}
	seed := seedFor("weather", loc)
	tempC := round1(4 + seed*24)
	tempF := round1(tempC*9/5 + 32)
	windKPH := round1(6 + seed*30)
	cond := simConditions[int(seed*1000)%len(simConditions)]

	current := map[string]interface{}{
		"temp_c":      tempC,
		"temp_f":      tempF,
		"feelslike_c": round1(tempC - 1.5),
		"feelslike_f": round1(tempF - 2.7),
		"humidity":    int(35 + seed*50),
		"pressure_mb": round1(995 + seed*30),
		"wind_kph":    windKPH,
		"wind_mph":    round1(windKPH / 1.609),
		"wind_degree": int(seed * 360),
		"gust_kph":    round1(windKPH * 1.4),
		"gust_mph":    round1(windKPH * 1.4 / 1.609),
		"vis_km":      10.0,
		"vis_miles":   6.2,
		"uv":          round1(seed * 8),
		"cloud":       int(seed * 100),
		"precip_mm":   round1(seed * 2),
		"precip_in":   round1(seed*2/25.4*10) / 10,
		"condition":   map[string]interface{}{"text": cond.Text, "icon": "//sim/" + cond.Icon + ".png", "code": cond.Code},
	}
	if q.Get("aqi") == "yes" {
		current["air_quality"] = map[string]interface{}{
			"pm2_5":        round1(seed * 40),
			"pm10":         round1(seed * 60),
			"o3":           round1(seed * 90),
			"no2":          round1(seed * 30),
			"us-epa-index": 1 + int(seed*3),
		}
	}

	forecastDays := make([]map[string]interface{}, 0, days)
	base := time.Now().UTC()
	for i := 0; i < days; i++ {
		date := base.AddDate(0, 0, i).Format("2006-01-02")
		dseed := seedFor("day", loc, date)
		dcond := simConditions[int(dseed*1000)%len(simConditions)]
		forecastDays = append(forecastDays, map[string]interface{}{
			"date": date,
			"day": map[string]interface{}{
				"maxtemp_c":            round1(tempC + dseed*4),
				"maxtemp_f":            round1((tempC+dseed*4)*9/5 + 32),
				"mintemp_c":            round1(tempC - 3 - dseed*4),
				"mintemp_f":            round1((tempC-3-dseed*4)*9/5 + 32),
				"maxwind_kph":          round1(windKPH * (1 + dseed/2)),
				"maxwind_mph":          round1(windKPH * (1 + dseed/2) / 1.609),
				"daily_chance_of_rain": int(dseed * 100),
				"daily_chance_of_snow": 0,
				"condition":            map[string]interface{}{"text": dcond.Text, "icon": "//sim/" + dcond.Icon + ".png", "code": dcond.Code},
			},
			"astro": map[string]string{"sunrise": "06:42 AM", "sunset": "07:18 PM"},
		})
	}

	resp := map[string]interface{}{
		"location": map[string]interface{}{
			"name":    locName(loc),
			"region":  "Sim Region",
			"country": "Simland",
			"lat":     round4(-60 + seedFor("lat", loc)*120),
			"lon":     round4(-180 + seedFor("lon", loc)*360),
		},
		"current":  current,
		"forecast": map[string]interface{}{"forecastday": forecastDays},
	}
	if q.Get("alerts") == "yes" && seed > 0.7 {
		resp["alerts"] = map[string]interface{}{
			"alert": []map[string]string{{
				"event":    "Wind Advisory",
				"headline": "Simulated wind advisory in effect",
				"severity": "Moderate",
				"areas":    locName(loc),
				"desc":     "Gusty winds expected. This alert is synthetic.",
			}},
		}
	}
	return http.StatusOK, resp
}

func (s *sim) owmCurrent(r *http.Request) (int, interface{}) {
	q := r.URL.Query()
	loc := q.Get("q")
	if loc == "" {
		loc = q.Get("lat") + "," + q.Get("lon")
	}
	imperial := q.Get("units") == "imperial"
	seed := seedFor("weather", loc)
	temp := 4 + seed*24 // metric
	if imperial {
		temp = temp*9/5 + 32
	}
	wind := 2 + seed*8 // m/s metric, mph imperial
	now := time.Now().UTC()
	return http.StatusOK, map[string]interface{}{
		"name":  locName(loc),
		"coord": map[string]float64{"lat": round4(-60 + seedFor("lat", loc)*120), "lon": round4(-180 + seedFor("lon", loc)*360)},
		"weather": []map[string]interface{}{{
			"id": 800 + int(seed*4), "main": "Clouds", "description": "scattered clouds", "icon": "03d",
		}},
		"main": map[string]interface{}{
			"temp":       round1(temp),
			"feels_like": round1(temp - 1.2),
			"pressure":   round1(995 + seed*30),
			"humidity":   int(35 + seed*50),
		},
		"visibility": 10000,
		"wind":       map[string]interface{}{"speed": round1(wind), "deg": int(seed * 360), "gust": round1(wind * 1.5)},
		"clouds":     map[string]int{"all": int(seed * 100)},
		"sys": map[string]interface{}{
			"country": "SL",
			"sunrise": now.Truncate(24 * time.Hour).Add(6*time.Hour + 42*time.Minute).Unix(),
			"sunset":  now.Truncate(24 * time.Hour).Add(19*time.Hour + 18*time.Minute).Unix(),
		},
		"timezone": 0,
	}
}

func (s *sim) owmForecast(r *http.Request) (int, interface{}) {
	q := r.URL.Query()
	loc := q.Get("q")
	if loc == "" {
		loc = q.Get("lat") + "," + q.Get("lon")
	}
	imperial := q.Get("units") == "imperial"
	seed := seedFor("weather", loc)
	now := time.Now().UTC().Truncate(3 * time.Hour)

	// Five days of three-hour slots, the free-tier shape.
	slots := make([]map[string]interface{}, 0, 40)
	for i := 0; i < 40; i++ {
		at := now.Add(time.Duration(i) * 3 * time.Hour)
		sseed := seedFor("slot", loc, at.Format("2006-01-02T15"))
		temp := 4 + seed*24 + math.Sin(float64(i%8)/8*2*math.Pi)*4
		if imperial {
			temp = temp*9/5 + 32
		}
		slots = append(slots, map[string]interface{}{
			"dt": at.Unix(),
			"main": map[string]interface{}{
				"temp":       round1(temp),
				"temp_min":   round1(temp - 1),
				"temp_max":   round1(temp + 1),
				"feels_like": round1(temp - 1.2),
				"pressure":   round1(995 + seed*30),
				"humidity":   int(35 + sseed*50),
			},
			"weather": []map[string]interface{}{{
				"id": 800 + int(sseed*4), "main": "Clouds", "description": "scattered clouds", "icon": "03d",
			}},
			"clouds":     map[string]int{"all": int(sseed * 100)},
			"wind":       map[string]interface{}{"speed": round1(2 + sseed*8), "deg": int(sseed * 360)},
			"visibility": 10000,
			"pop":        math.Round(sseed*100) / 100,
		})
	}
	return http.StatusOK, map[string]interface{}{
		"list": slots,
		"city": map[string]interface{}{
			"name":     locName(loc),
			"coord":    map[string]float64{"lat": round4(-60 + seedFor("lat", loc)*120), "lon": round4(-180 + seedFor("lon", loc)*360)},
			"country":  "SL",
			"timezone": 0,
			"sunrise":  now.Truncate(24 * time.Hour).Add(6*time.Hour + 42*time.Minute).Unix(),
			"sunset":   now.Truncate(24 * time.Hour).Add(19*time.Hour + 18*time.Minute).Unix(),
		},
	}
}

func (s *sim) owmGeocode(r *http.Request) (int, interface{}) {
	name := r.URL.Query().Get("q")
	if name == "" {
		return http.StatusOK, []interface{}{}
	}
	return http.StatusOK, []map[string]interface{}{{
		"name":    locName(name),
		"lat":     round4(-60 + seedFor("lat", name)*120),
		"lon":     round4(-180 + seedFor("lon", name)*360),
		"country": "SL",
		"state":   "Sim Region",
	}}
}

// --- exchange-rate dialects ---

// usdPer holds synthetic USD prices; cross rates derive from the ratio so
// any base yields a consistent table.
var usdPer = map[string]float64{
	"USD": 1, "EUR": 0.92, "GBP": 0.79, "JPY": 149.5, "INR": 83.2,
	"CAD": 1.36, "AUD": 1.52, "CHF": 0.88, "CNY": 7.24, "PKR": 278.4,
	"BRL": 4.97, "MXN": 17.1, "KRW": 1330, "SEK": 10.45, "NZD": 1.64,
}

func rateTable(base, date string, includeBase bool) (map[string]float64, bool) {
	baseUSD, ok := usdPer[base]
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(usdPer))
	for code, v := range usdPer {
		if code == base {
			if includeBase {
				out[code] = 1
			}
			continue
		}
		// A small per-date wobble keeps historical queries distinguishable.
		wobble := 1 + (seedFor("fx", date, code)-0.5)*0.01
		out[code] = round4(v / baseUSD * wobble)
	}
	return out, true
}

func (s *sim) erAPILatest(r *http.Request) (int, interface{}) {
	base := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/erapi/v6/latest/"))
	date := time.Now().UTC().Format("2006-01-02")
	rates, ok := rateTable(base, date, true)
	if !ok {
		return http.StatusNotFound, map[string]interface{}{"result": "error", "error-type": "unsupported-code"}
	}
	return http.StatusOK, map[string]interface{}{
		"result":                "success",
		"base_code":             base,
		"time_last_update_unix": time.Now().UTC().Unix(),
		"rates":                 rates,
	}
}

func (s *sim) frankfurter(r *http.Request) (int, interface{}) {
	date := strings.TrimPrefix(r.URL.Path, "/frank/")
	if date == "latest" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return http.StatusNotFound, map[string]string{"message": "not found"}
	}
	base := strings.ToUpper(r.URL.Query().Get("from"))
	if base == "" {
		base = "EUR"
	}
	rates, ok := rateTable(base, date, false)
	if !ok {
		return http.StatusNotFound, map[string]string{"message": "not found"}
	}
	return http.StatusOK, map[string]interface{}{"base": base, "date": date, "rates": rates}
}

// --- geo dialects ---

func (s *sim) openMeteoGeocode(r *http.Request) (int, interface{}) {
	name := r.URL.Query().Get("name")
	if name == "" {
		return http.StatusOK, map[string]interface{}{"results": []interface{}{}}
	}
	return http.StatusOK, map[string]interface{}{
		"results": []map[string]interface{}{{
			"name":      locName(name),
			"latitude":  round4(-60 + seedFor("lat", name)*120),
			"longitude": round4(-180 + seedFor("lon", name)*360),
			"country":   "Simland",
			"admin1":    "Sim Region",
		}},
	}
}

func (s *sim) ipAPILocate(r *http.Request) (int, interface{}) {
	// Every caller "is" in the same place; offline runs need somewhere.
	return http.StatusOK, map[string]interface{}{
		"city":         "Lisbon",
		"region":       "Lisboa",
		"country_name": "Portugal",
		"latitude":     38.7223,
		"longitude":    -9.1393,
	}
}

func main() {
	// In plain words (what this tool does):
	//   - provider-sim stands in for every upstream the CLI talks to: the
	//     OpenAI-dialect chat gateways (OpenRouter/Groq/DeepSeek), Gemini,
	//     WeatherAPI, OpenWeatherMap, open.er-api, Frankfurter, the
	//     Open-Meteo geocoder and ipapi.co. Point provider base URLs at it
	//     and the whole fabric runs offline.
	//   - Failure injection is the point: a fail rate for 500s, a
	//     deterministic every-Nth 429 (with Retry-After), and latency with
	//     jitter. Watch the dispatcher fail over, the per-provider windows
	//     block, and the breaker open, against an upstream you control.
	//   - Answers are deterministic per query, so cache hits and repeated
	//     runs stay comparable across a soak.
	//
	// Usage (quick start):
	//   go run ./cmd/provider-sim -http :8970 -fail_rate 0.1 -limit_every 20
	//   # then point the CLI at it via ~/.mdsaad/config.json:
	//   {
	//     "useProxy": false,
	//     "providers": {
	//       "openrouter":     {"baseUrl": "http://localhost:8970/openai/v1"},
	//       "groq":           {"baseUrl": "http://localhost:8970/openai/v1"},
	//       "deepseek":       {"baseUrl": "http://localhost:8970/openai/v1"},
	//       "gemini":         {"baseUrl": "http://localhost:8970/gemini/v1beta"},
	//       "weatherapi":     {"baseUrl": "http://localhost:8970/weatherapi/v1"},
	//       "openweathermap": {"baseUrl": "http://localhost:8970/owm"},
	//       "open-er-api":    {"baseUrl": "http://localhost:8970/erapi/v6"},
	//       "frankfurter":    {"baseUrl": "http://localhost:8970/frank"},
	//       "open-meteo":     {"baseUrl": "http://localhost:8970/geo"},
	//       "ipapi-co":       {"baseUrl": "http://localhost:8970/ip"}
	//     }
	//   }
	//   # keyed providers accept any credential here, e.g.:
	//   export OPENROUTER_API_KEY=sim WEATHERAPI_KEY=sim
	//
	// Runtime control (no restart):
	//   POST /control?fail_rate=0.5&limit_every=5&latency=200ms&jitter=100ms
	//   GET  /control              # current settings and request count
	//
	// Notable metrics (GET /metrics, Prometheus exposition):
	//   - mdsaad_sim_requests_total{dialect,status}
	//   - mdsaad_sim_faults_total{dialect,status} (injected subset)
	httpAddr := flag.String("http", ":8970", "HTTP listen address")
	failRate := flag.Float64("fail_rate", 0, "probability a request is answered 500 (0..1)")
	limitEvery := flag.Int("limit_every", 0, "answer 429 every Nth request; 0 disables")
	latency := flag.Duration("latency", 0, "base response latency")
	jitter := flag.Duration("jitter", 0, "extra random latency, uniform in [0,jitter)")
	seed := flag.Int64("seed", 0, "fault RNG seed; 0 uses the clock")
	duration := flag.Duration("duration", 0, "run duration; 0 for forever")
	flag.Parse()

	// Clamp ranges the way an operator would expect.
	if *httpAddr == "" {
		*httpAddr = ":8970"
	}
	if *failRate < 0 {
		*failRate = 0
	}
	if *failRate > 1 {
		*failRate = 1
	}
	if *limitEvery < 0 {
		*limitEvery = 0
	}
	if *latency < 0 {
		*latency = 0
	}
	if *jitter < 0 {
		*jitter = 0
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	if *duration < 0 {
		*duration = 0
	}

	gate := &faultGate{
		rng:        rand.New(rand.NewSource(*seed)),
		failRate:   *failRate,
		limitEvery: *limitEvery,
		latency:    *latency,
		jitter:     *jitter,
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_sim_requests_total",
		Help: "Simulated upstream requests by dialect and status",
	}, []string{"dialect", "status"})
	faults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_sim_faults_total",
		Help: "Injected failures by dialect and status",
	}, []string{"dialect", "status"})
	prometheus.MustRegister(requests, faults)

	s := &sim{gate: gate, requests: requests, faults: faults}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/control", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			q := r.URL.Query()
			gate.mu.Lock()
			if v := q.Get("fail_rate"); v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
					gate.failRate = f
				}
			}
			if v := q.Get("limit_every"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n >= 0 {
					gate.limitEvery = n
				}
			}
			if v := q.Get("latency"); v != "" {
				if d, err := time.ParseDuration(v); err == nil && d >= 0 {
					gate.latency = d
				}
			}
			if v := q.Get("jitter"); v != "" {
				if d, err := time.ParseDuration(v); err == nil && d >= 0 {
					gate.jitter = d
				}
			}
			gate.mu.Unlock()
		}
		writeJSON(w, http.StatusOK, gate.snapshot())
	})

	mux.HandleFunc("/openai/v1/chat/completions", s.wrap("openai", s.openAIChat))
	mux.HandleFunc("/gemini/v1beta/models/", s.wrap("gemini", s.geminiChat))
	mux.HandleFunc("/weatherapi/v1/forecast.json", s.wrap("weatherapi", s.weatherAPIForecast))
	mux.HandleFunc("/owm/data/2.5/weather", s.wrap("owm", s.owmCurrent))
	mux.HandleFunc("/owm/data/2.5/forecast", s.wrap("owm", s.owmForecast))
	mux.HandleFunc("/owm/geo/1.0/direct", s.wrap("owm", s.owmGeocode))
	mux.HandleFunc("/erapi/v6/latest/", s.wrap("erapi", s.erAPILatest))
	mux.HandleFunc("/frank/", s.wrap("frankfurter", s.frankfurter))
	mux.HandleFunc("/geo/v1/search", s.wrap("geocode", s.openMeteoGeocode))
	mux.HandleFunc("/ip/json/", s.wrap("ipapi", s.ipAPILocate))

	server := &http.Server{
		Addr:              *httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("provider-sim listening on %s (fail_rate=%.2f limit_every=%d latency=%s jitter=%s)",
			*httpAddr, *failRate, *limitEvery, *latency, *jitter)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	// Handle termination
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	var endTimer <-chan time.Time
	if *duration > 0 {
		endTimer = time.After(*duration)
	}
	select {
	case <-sigCh:
	case <-endTimer:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
