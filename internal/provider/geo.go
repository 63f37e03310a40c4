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
)

func buildOpenMeteoGeocode(p Provider, q GeoQuery) (Request, error) {
	if q.Query == "" {
		return Request{}, errors.New("provider: geocode query is empty")
	}
	v := url.Values{}
	v.Set("name", q.Query)
	v.Set("count", "1")
	v.Set("format", "json")
	if q.Lang != "" {
		v.Set("language", q.Lang)
	}
	return Request{
		Method:   http.MethodGet,
		URL:      p.BaseURL + "/v1/search?" + v.Encode(),
		Endpoint: "/v1/search",
	}, nil
}

func parseOpenMeteoGeocode(raw []byte) (interface{}, error) {
	var resp struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Country   string  `json:"country"`
			Admin1    string  `json:"admin1"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode geocode response: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, errors.New("provider: geocode matched no places")
	}
	r := resp.Results[0]
	return &Place{
		Name:    r.Name,
		Region:  r.Admin1,
		Country: r.Country,
		Lat:     r.Latitude,
		Lon:     r.Longitude,
	}, nil
}

// ipapi.co infers the caller's location from the requesting IP; the call
// carries no parameters at all.
func buildIPAPILocate(p Provider) (Request, error) {
	return Request{
		Method:   http.MethodGet,
		URL:      p.BaseURL + "/json/",
		Endpoint: "/json",
	}, nil
}

func parseIPAPILocate(raw []byte) (interface{}, error) {
	var resp struct {
		City        string  `json:"city"`
		Region      string  `json:"region"`
		CountryName string  `json:"country_name"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Error       bool    `json:"error"`
		Reason      string  `json:"reason"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode geolocate response: %w", err)
	}
	if resp.Error {
		return nil, fmt.Errorf("provider: upstream error: %s", resp.Reason)
	}
	if resp.City == "" {
		return nil, errors.New("provider: geolocate response has no city")
	}
	return &Place{
		Name:    resp.City,
		Region:  resp.Region,
		Country: resp.CountryName,
		Lat:     resp.Latitude,
		Lon:     resp.Longitude,
	}, nil
}
