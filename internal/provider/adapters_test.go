package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func chatProvider(adapter AdapterID) Provider {
	p := Provider{
		ID:           "test-chat",
		AdapterID:    adapter,
		BaseURL:      "https://chat.example.com/v1",
		Credential:   "sk-123",
		Capabilities: []Capability{CapChat},
		DefaultModel: "base-model",
		ModelAliases: map[string]string{"fast": "vendor/fast-model"},
	}
	return p
}

func TestOpenAIChatRequest(t *testing.T) {
	p := chatProvider(AdapterOpenAIChat)
	req, err := FormatRequest(p, CapChat, ChatRequest{
		Model: "fast",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
		Temperature: 0.7,
		MaxTokens:   256,
		Stream:      true,
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "https://chat.example.com/v1/chat/completions", req.URL)
	require.Equal(t, "/chat/completions", req.Endpoint)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	require.Equal(t, "vendor/fast-model", body["model"], "alias must resolve")
	require.Equal(t, false, body["stream"], "wire streaming is never requested")
	require.Len(t, body["messages"], 2)
}

func TestOpenAIChatRequestRejectsEmptyPrompt(t *testing.T) {
	p := chatProvider(AdapterOpenAIChat)
	_, err := FormatRequest(p, CapChat, ChatRequest{
		Messages: []Message{{Role: "user", Content: "   "}},
	})
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestParseOpenAIChat(t *testing.T) {
	raw := []byte(`{
		"model": "vendor/fast-model",
		"choices": [{"message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
	}`)
	out, err := ParseResponse(chatProvider(AdapterOpenAIChat), CapChat, nil, raw)
	require.NoError(t, err)
	reply := out.(NormalizedReply)
	require.Equal(t, "hi there", reply.Content)
	require.Equal(t, "vendor/fast-model", reply.Model)
	require.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}, reply.Usage)
	require.Equal(t, "stop", reply.FinishReason)
}

func TestParseOpenAIChatErrorEnvelope(t *testing.T) {
	raw := []byte(`{"error": {"message": "model overloaded"}}`)
	_, err := ParseResponse(chatProvider(AdapterOpenAIChat), CapChat, nil, raw)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model overloaded")
}

func TestParseOpenAIChatNoChoices(t *testing.T) {
	_, err := ParseResponse(chatProvider(AdapterOpenAIChat), CapChat, nil, []byte(`{"choices": []}`))
	require.Error(t, err)
}

func TestGoogleChatRequestFoldsSystemPrompt(t *testing.T) {
	p := chatProvider(AdapterGoogleChat)
	p.KeyInURL = true
	req, err := FormatRequest(p, CapChat, ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "again"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, req.URL, "/models/base-model:generateContent")
	require.Contains(t, req.URL, "key=sk-123")
	require.Equal(t, "/models/generateContent", req.Endpoint)

	var body struct {
		Contents []googleContent `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	require.Len(t, body.Contents, 3, "system turn must fold away")
	require.Equal(t, "user", body.Contents[0].Role)
	require.Equal(t, "be brief\n\nhello", body.Contents[0].Parts[0].Text)
	require.Equal(t, "model", body.Contents[1].Role)
}

func TestParseGoogleChat(t *testing.T) {
	raw := []byte(`{
		"candidates": [{"content": {"parts": [{"text": "part one "}, {"text": "part two"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 5, "totalTokenCount": 13},
		"modelVersion": "gemini-1.5-flash"
	}`)
	out, err := ParseResponse(chatProvider(AdapterGoogleChat), CapChat, nil, raw)
	require.NoError(t, err)
	reply := out.(NormalizedReply)
	require.Equal(t, "part one part two", reply.Content)
	require.Equal(t, "gemini-1.5-flash", reply.Model)
	require.Equal(t, "stop", reply.FinishReason)
	require.Equal(t, 13, reply.Usage.TotalTokens)
}

func TestParseGoogleChatBlocked(t *testing.T) {
	raw := []byte(`{"promptFeedback": {"blockReason": "SAFETY"}, "candidates": []}`)
	_, err := ParseResponse(chatProvider(AdapterGoogleChat), CapChat, nil, raw)
	require.Error(t, err)
	require.Contains(t, err.Error(), "SAFETY")
}

func weatherProvider(adapter AdapterID) Provider {
	return Provider{
		ID:           "test-weather",
		AdapterID:    adapter,
		BaseURL:      "https://weather.example.com",
		Credential:   "wkey",
		KeyInURL:     true,
		Capabilities: []Capability{CapWeatherCurrent, CapWeatherForecast},
	}
}

func TestWeatherAPIRequest(t *testing.T) {
	p := weatherProvider(AdapterWeatherAPI)

	req, err := FormatRequest(p, CapWeatherCurrent, WeatherQuery{
		Location: "London", Units: "metric", AirQuality: true,
	})
	require.NoError(t, err)
	require.Contains(t, req.URL, "days=1", "current lookups are one-day forecasts")
	require.Contains(t, req.URL, "q=London")
	require.Contains(t, req.URL, "key=wkey")
	require.Contains(t, req.URL, "aqi=yes")
	require.Equal(t, "/forecast.json", req.Endpoint)

	req, err = FormatRequest(p, CapWeatherForecast, WeatherQuery{
		Location: "London", Units: "metric", Days: 99, Lang: "es",
	})
	require.NoError(t, err)
	require.Contains(t, req.URL, "days=10", "forecast days clamp at the plan limit")
	require.Contains(t, req.URL, "lang=es")

	req, err = FormatRequest(p, CapWeatherForecast, WeatherQuery{
		Lat: 51.5074, Lon: -0.1278, HasCoords: true, Units: "metric",
	})
	require.NoError(t, err)
	require.Contains(t, req.URL, "q=51.5074%2C-0.1278")
}

const weatherAPIFixture = `{
	"location": {"name": "London", "region": "City of London", "country": "UK", "lat": 51.52, "lon": -0.11},
	"current": {
		"temp_c": 12.0, "temp_f": 53.6, "feelslike_c": 10.3, "feelslike_f": 50.5,
		"humidity": 72, "pressure_mb": 1012.0,
		"wind_kph": 16.9, "wind_mph": 10.5, "wind_degree": 230, "gust_kph": 25.4, "gust_mph": 15.8,
		"vis_km": 10.0, "vis_miles": 6.0, "uv": 3.0, "cloud": 50,
		"precip_mm": 0.1, "precip_in": 0.0,
		"condition": {"text": "Partly cloudy", "icon": "//cdn.example.com/116.png", "code": 1003},
		"air_quality": {"pm2_5": 8.2, "pm10": 11.3, "o3": 54.3, "no2": 13.5, "us-epa-index": 1}
	},
	"forecast": {"forecastday": [
		{"date": "2025-10-20",
		 "day": {"maxtemp_c": 14.2, "maxtemp_f": 57.6, "mintemp_c": 8.1, "mintemp_f": 46.6,
			"maxwind_kph": 19.4, "maxwind_mph": 12.1,
			"daily_chance_of_rain": 78, "daily_chance_of_snow": 0,
			"condition": {"text": "Patchy rain", "icon": "//cdn.example.com/1063.png", "code": 1063}},
		 "astro": {"sunrise": "07:33 AM", "sunset": "05:58 PM"}},
		{"date": "2025-10-21",
		 "day": {"maxtemp_c": 15.0, "maxtemp_f": 59.0, "mintemp_c": 9.0, "mintemp_f": 48.2,
			"maxwind_kph": 22.0, "maxwind_mph": 13.7,
			"daily_chance_of_rain": 10, "daily_chance_of_snow": 40,
			"condition": {"text": "Snow showers", "icon": "//cdn.example.com/1210.png", "code": 1210}},
		 "astro": {"sunrise": "07:35 AM", "sunset": "05:56 PM"}}
	]}
}`

func TestParseWeatherAPIMetricCurrent(t *testing.T) {
	p := weatherProvider(AdapterWeatherAPI)
	out, err := ParseResponse(p, CapWeatherCurrent, WeatherQuery{Units: "metric"}, []byte(weatherAPIFixture))
	require.NoError(t, err)
	rep := out.(*Report)

	require.Equal(t, "London", rep.Location.Name)
	require.Equal(t, "metric", rep.Units)
	require.Equal(t, 12.0, rep.Current.Temperature)
	require.Equal(t, 16.9, rep.Current.Wind.Speed)
	require.Equal(t, 10.0, rep.Current.Visibility)
	require.Equal(t, "07:33", rep.Current.Sunrise, "astro times normalize to 24h")
	require.Equal(t, "17:58", rep.Current.Sunset)
	require.NotNil(t, rep.Current.AirQuality)
	require.Equal(t, 1, rep.Current.AirQuality.Index)
	require.Empty(t, rep.Forecast, "current lookups drop forecast days")
}

func TestParseWeatherAPIImperialForecast(t *testing.T) {
	p := weatherProvider(AdapterWeatherAPI)
	out, err := ParseResponse(p, CapWeatherForecast, WeatherQuery{Units: "imperial"}, []byte(weatherAPIFixture))
	require.NoError(t, err)
	rep := out.(*Report)

	require.Equal(t, "imperial", rep.Units)
	require.Equal(t, 53.6, rep.Current.Temperature)
	require.Equal(t, 10.5, rep.Current.Wind.Speed)
	require.Equal(t, 6.0, rep.Current.Visibility)
	require.Len(t, rep.Forecast, 2)
	require.Equal(t, DayTemp{Min: 46.6, Max: 57.6}, rep.Forecast[0].Temp)
	require.Equal(t, 78, rep.Forecast[0].PrecipChance)
	require.Equal(t, 40, rep.Forecast[1].PrecipChance, "snow chance wins when higher")
}

func TestParseWeatherAPIError(t *testing.T) {
	p := weatherProvider(AdapterWeatherAPI)
	raw := []byte(`{"error": {"code": 1006, "message": "No matching location found."}}`)
	_, err := ParseResponse(p, CapWeatherCurrent, WeatherQuery{Units: "metric"}, raw)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1006")
}

func TestParseOWMCurrent(t *testing.T) {
	p := weatherProvider(AdapterOpenWeatherMap)
	raw := []byte(`{
		"coord": {"lon": -0.13, "lat": 51.51},
		"weather": [{"id": 803, "main": "Clouds", "description": "broken clouds", "icon": "04d"}],
		"main": {"temp": 12.3, "feels_like": 11.6, "pressure": 1012, "humidity": 72},
		"visibility": 8000,
		"wind": {"speed": 5.0, "deg": 230, "gust": 7.5},
		"clouds": {"all": 75},
		"rain": {"1h": 0.5},
		"sys": {"country": "GB", "sunrise": 1760942400, "sunset": 1760980800},
		"timezone": 3600,
		"name": "London"
	}`)
	out, err := ParseResponse(p, CapWeatherCurrent, WeatherQuery{Units: "metric"}, raw)
	require.NoError(t, err)
	rep := out.(*Report)

	require.Equal(t, "London", rep.Location.Name)
	require.Equal(t, "GB", rep.Location.Country)
	require.Equal(t, 12.3, rep.Current.Temperature)
	require.Equal(t, 18.0, rep.Current.Wind.Speed, "m/s converts to km/h in metric reports")
	require.Equal(t, 27.0, rep.Current.Wind.Gust)
	require.Equal(t, 8.0, rep.Current.Visibility, "meters convert to km")
	require.Equal(t, 0.5, rep.Current.Rain)
	require.Equal(t, "broken clouds", rep.Current.Condition)
	require.Equal(t, 803, rep.Current.ConditionCode)
	// 1760942400 UTC is 06:40; +3600s shifts the clock an hour forward.
	require.Equal(t, "07:40", rep.Current.Sunrise)
}

func TestParseOWMForecastAggregatesDays(t *testing.T) {
	p := weatherProvider(AdapterOpenWeatherMap)
	// Two slots on the 20th (09:00 and 12:00 local) and one on the 21st.
	raw := []byte(`{
		"list": [
			{"dt": 1760950800, "main": {"temp": 10.0, "temp_min": 9.0, "temp_max": 10.5, "feels_like": 9.2, "pressure": 1010, "humidity": 80},
			 "weather": [{"id": 500, "description": "light rain", "icon": "10d"}],
			 "clouds": {"all": 90}, "wind": {"speed": 4.0, "deg": 200}, "visibility": 9000, "pop": 0.2},
			{"dt": 1760961600, "main": {"temp": 12.0, "temp_min": 11.0, "temp_max": 13.5, "feels_like": 11.0, "pressure": 1011, "humidity": 75},
			 "weather": [{"id": 802, "description": "scattered clouds", "icon": "03d"}],
			 "clouds": {"all": 40}, "wind": {"speed": 6.0, "deg": 210}, "visibility": 10000, "pop": 0.6},
			{"dt": 1761048000, "main": {"temp": 11.0, "temp_min": 8.0, "temp_max": 11.2, "feels_like": 10.1, "pressure": 1013, "humidity": 70},
			 "weather": [{"id": 800, "description": "clear sky", "icon": "01d"}],
			 "clouds": {"all": 5}, "wind": {"speed": 3.0, "deg": 180}, "visibility": 10000, "pop": 0.0}
		],
		"city": {"name": "London", "coord": {"lat": 51.51, "lon": -0.13}, "country": "GB",
			"timezone": 0, "sunrise": 1760942400, "sunset": 1760980800}
	}`)
	out, err := ParseResponse(p, CapWeatherForecast, WeatherQuery{Units: "metric", Days: 5}, raw)
	require.NoError(t, err)
	rep := out.(*Report)

	require.Equal(t, 10.0, rep.Current.Temperature, "first slot stands in for current")
	require.Len(t, rep.Forecast, 2)

	day0 := rep.Forecast[0]
	require.Equal(t, "2025-10-20", day0.Date)
	require.Equal(t, DayTemp{Min: 9.0, Max: 13.5}, day0.Temp)
	require.Equal(t, 60, day0.PrecipChance, "highest pop of the day wins")
	require.Equal(t, "scattered clouds", day0.Condition, "midday slot names the day")
	require.Equal(t, 21.6, day0.WindMax)

	require.Equal(t, "2025-10-21", rep.Forecast[1].Date)
}

func TestParseOWMForecastLimitsDays(t *testing.T) {
	p := weatherProvider(AdapterOpenWeatherMap)
	raw := []byte(`{
		"list": [
			{"dt": 1760961600, "main": {"temp": 12.0, "temp_min": 11.0, "temp_max": 13.0}, "weather": [{"id": 800, "description": "clear", "icon": "01d"}], "pop": 0},
			{"dt": 1761048000, "main": {"temp": 11.0, "temp_min": 9.0, "temp_max": 11.5}, "weather": [{"id": 800, "description": "clear", "icon": "01d"}], "pop": 0}
		],
		"city": {"name": "London", "coord": {"lat": 51.51, "lon": -0.13}, "country": "GB", "timezone": 0}
	}`)
	out, err := ParseResponse(p, CapWeatherForecast, WeatherQuery{Units: "metric", Days: 1}, raw)
	require.NoError(t, err)
	require.Len(t, out.(*Report).Forecast, 1)
}

func TestOWMGeocode(t *testing.T) {
	p := weatherProvider(AdapterOpenWeatherMap)
	req, err := FormatRequest(p, CapGeocoding, GeoQuery{Query: "Paris"})
	require.NoError(t, err)
	require.Contains(t, req.URL, "/geo/1.0/direct")
	require.Contains(t, req.URL, "q=Paris")

	out, err := ParseResponse(p, CapGeocoding, nil,
		[]byte(`[{"name": "Paris", "lat": 48.8589, "lon": 2.3200, "country": "FR", "state": "Ile-de-France"}]`))
	require.NoError(t, err)
	place := out.(*Place)
	require.Equal(t, "Paris", place.Name)
	require.Equal(t, "Ile-de-France", place.Region)

	_, err = ParseResponse(p, CapGeocoding, nil, []byte(`[]`))
	require.Error(t, err)
}

func rateProvider(adapter AdapterID) Provider {
	return Provider{
		ID:           "test-rates",
		AdapterID:    adapter,
		BaseURL:      "https://rates.example.com",
		Keyless:      true,
		Capabilities: []Capability{CapExchangeRate, CapExchangeHistory},
	}
}

func TestOpenERAPIRequest(t *testing.T) {
	p := rateProvider(AdapterOpenERAPI)
	req, err := FormatRequest(p, CapExchangeRate, RateQuery{Base: "usd"})
	require.NoError(t, err)
	require.Equal(t, "https://rates.example.com/latest/USD", req.URL)

	_, err = FormatRequest(p, CapExchangeRate, RateQuery{Base: "USD", Date: "2024-01-05"})
	require.ErrorIs(t, err, ErrUnsupported, "open.er-api has no history")

	_, err = FormatRequest(p, CapExchangeRate, RateQuery{Base: "dollars"})
	require.Error(t, err)
}

func TestParseOpenERAPI(t *testing.T) {
	p := rateProvider(AdapterOpenERAPI)
	raw := []byte(`{
		"result": "success", "base_code": "USD",
		"time_last_update_unix": 1760918400,
		"rates": {"USD": 1, "EUR": 0.921, "GBP": 0.795}
	}`)
	out, err := ParseResponse(p, CapExchangeRate, nil, raw)
	require.NoError(t, err)
	table := out.(*RateTable)
	require.Equal(t, "USD", table.Base)
	require.Equal(t, "2025-10-20", table.Date)
	require.Equal(t, 0.921, table.Rates["EUR"])

	_, err = ParseResponse(p, CapExchangeRate, nil, []byte(`{"result": "error", "error-type": "unsupported-code"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported-code")
}

func TestFrankfurterRequest(t *testing.T) {
	p := rateProvider(AdapterFrankfurter)

	req, err := FormatRequest(p, CapExchangeRate, RateQuery{Base: "eur"})
	require.NoError(t, err)
	require.Equal(t, "https://rates.example.com/latest?from=EUR", req.URL)

	req, err = FormatRequest(p, CapExchangeHistory, RateQuery{Base: "EUR", Date: "2024-01-05"})
	require.NoError(t, err)
	require.Equal(t, "https://rates.example.com/2024-01-05?from=EUR", req.URL)
	require.Equal(t, "/rates", req.Endpoint, "dated paths share one rate-limit key")

	_, err = FormatRequest(p, CapExchangeHistory, RateQuery{Base: "EUR", Date: "05/01/2024"})
	require.Error(t, err)
}

func TestParseFrankfurterAddsBaseRate(t *testing.T) {
	p := rateProvider(AdapterFrankfurter)
	raw := []byte(`{"amount": 1.0, "base": "EUR", "date": "2024-01-05", "rates": {"USD": 1.094}}`)
	out, err := ParseResponse(p, CapExchangeRate, nil, raw)
	require.NoError(t, err)
	table := out.(*RateTable)
	require.Equal(t, "2024-01-05", table.Date)
	require.Equal(t, 1.094, table.Rates["USD"])
	require.Equal(t, 1.0, table.Rates["EUR"])
}

func TestOpenMeteoGeocode(t *testing.T) {
	p := Provider{ID: "geo", AdapterID: AdapterOpenMeteoGeo, BaseURL: "https://geo.example.com", Keyless: true}
	req, err := FormatRequest(p, CapGeocoding, GeoQuery{Query: "Berlin", Lang: "de"})
	require.NoError(t, err)
	require.Contains(t, req.URL, "/v1/search")
	require.Contains(t, req.URL, "name=Berlin")
	require.Contains(t, req.URL, "language=de")

	out, err := ParseResponse(p, CapGeocoding, nil,
		[]byte(`{"results": [{"name": "Berlin", "latitude": 52.52437, "longitude": 13.41053, "country": "Germany", "admin1": "Berlin"}]}`))
	require.NoError(t, err)
	require.Equal(t, 52.52437, out.(*Place).Lat)

	_, err = ParseResponse(p, CapGeocoding, nil, []byte(`{"generationtime_ms": 0.6}`))
	require.Error(t, err)
}

func TestIPAPILocate(t *testing.T) {
	p := Provider{ID: "ip", AdapterID: AdapterIPAPI, BaseURL: "https://ip.example.com", Keyless: true}
	req, err := FormatRequest(p, CapGeolocate, GeoQuery{})
	require.NoError(t, err)
	require.Equal(t, "https://ip.example.com/json/", req.URL)

	out, err := ParseResponse(p, CapGeolocate, nil,
		[]byte(`{"city": "London", "region": "England", "country_name": "United Kingdom", "latitude": 51.5074, "longitude": -0.1278}`))
	require.NoError(t, err)
	require.Equal(t, "London", out.(*Place).Name)

	_, err = ParseResponse(p, CapGeolocate, nil, []byte(`{"error": true, "reason": "RateLimited"}`))
	require.Error(t, err)
}

func TestFormatRequestCapabilityMismatch(t *testing.T) {
	p := chatProvider(AdapterOpenAIChat)
	_, err := FormatRequest(p, CapWeatherCurrent, WeatherQuery{Location: "x", Units: "metric"})
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = FormatRequest(p, CapChat, WeatherQuery{})
	require.Error(t, err, "payload type must match capability")
	require.False(t, errors.Is(err, ErrUnsupported))
}

func TestParseProxyPayloadShapes(t *testing.T) {
	out, err := ParseProxyPayload(CapChat, []byte(`{"content": "hi", "model": "m"}`))
	require.NoError(t, err)
	require.Equal(t, "hi", out.(NormalizedReply).Content)

	_, err = ParseProxyPayload(CapChat, []byte(`{"unrelated": true}`))
	require.Error(t, err, "chat payload without content is a broken proxy")

	out, err = ParseProxyPayload(CapWeatherCurrent, []byte(`{"location": {"name": "London", "lat": 51.5, "lon": -0.1}, "current": {"temperature": 12}, "units": "metric"}`))
	require.NoError(t, err)
	require.Equal(t, "London", out.(*Report).Location.Name)

	_, err = ParseProxyPayload(CapWeatherCurrent, []byte(`{}`))
	require.Error(t, err)

	out, err = ParseProxyPayload(CapExchangeRate, []byte(`{"base": "USD", "date": "2025-10-20", "rates": {"EUR": 0.9}}`))
	require.NoError(t, err)
	require.Equal(t, "USD", out.(*RateTable).Base)

	_, err = ParseProxyPayload(CapExchangeRate, []byte(`{"base": "USD", "rates": {}}`))
	require.Error(t, err)

	out, err = ParseProxyPayload(CapGeolocate, []byte(`{"name": "London", "lat": 51.5, "lon": -0.1}`))
	require.NoError(t, err)
	require.Equal(t, "London", out.(*Place).Name)
}

func TestNormalizedReplyChunks(t *testing.T) {
	reply := NormalizedReply{Content: "streamed as one piece"}
	var got []string
	for chunk := range reply.Chunks() {
		got = append(got, chunk)
	}
	require.Equal(t, []string{"streamed as one piece"}, got)
}

func TestReportRoundTrips(t *testing.T) {
	rep := Report{
		Location: Location{Name: "London", Region: "GL", Country: "UK", Lat: 51.52, Lon: -0.11},
		Current: Current{
			Temperature: 12, FeelsLike: 10.3, HumidityPct: 72, Pressure: 1012,
			Wind:      Wind{Speed: 16.9, DirectionDeg: 230, Gust: 25.4},
			Condition: "Partly cloudy", ConditionCode: 1003, Icon: "//x/116.png",
			Visibility: 10, UVIndex: 3, CloudsPct: 50, Rain: 0.1,
			AirQuality: &AirQuality{Index: 1, PM25: 8.2},
			Sunrise:    "07:33", Sunset: "17:58",
		},
		Forecast: []ForecastDay{{
			Date: "2025-10-20", Temp: DayTemp{Min: 8.1, Max: 14.2},
			Condition: "Patchy rain", ConditionCode: 1063, PrecipChance: 78, WindMax: 19.4,
		}},
		Units: "metric",
	}
	raw, err := json.Marshal(rep)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, rep, back, "cached reports must survive the round trip")
}

func TestTo24h(t *testing.T) {
	cases := map[string]string{
		"07:33 AM": "07:33",
		"05:58 PM": "17:58",
		"12:01 AM": "00:01",
		"12:30 PM": "12:30",
		"not time": "not time",
	}
	for in, want := range cases {
		if got := to24h(in); got != want {
			t.Fatalf("to24h(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChatRequestValidate(t *testing.T) {
	ok := ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}
	if err := ok.validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	for _, bad := range []ChatRequest{
		{},
		{Messages: []Message{{Role: "system", Content: "only system"}}},
		{Messages: []Message{{Role: "user", Content: strings.Repeat(" ", 8)}}},
	} {
		if err := bad.validate(); !errors.Is(err, ErrEmptyPrompt) {
			t.Fatalf("expected ErrEmptyPrompt, got %v", err)
		}
	}
}
