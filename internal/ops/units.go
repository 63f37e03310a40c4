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
	"strings"
)

// Unit families. Conversion inside a family multiplies through the
// family's canonical base unit; temperature is the exception and uses a
// closed-form formula per pair.
const (
	familyLength      = "length"
	familyMass        = "mass"
	familyVolume      = "volume"
	familyArea        = "area"
	familySpeed       = "speed"
	familyTime        = "time"
	familyData        = "data"
	familyTemperature = "temperature"
)

// factor tables: canonical-base units per family. Values are exact where
// the definition is exact (international yard and pound, 1959).
var unitFamilies = map[string]map[string]float64{
	familyLength: { // base: meter
		"m":   1,
		"km":  1000,
		"cm":  0.01,
		"mm":  0.001,
		"mi":  1609.344,
		"yd":  0.9144,
		"ft":  0.3048,
		"in":  0.0254,
		"nmi": 1852,
	},
	familyMass: { // base: kilogram
		"kg": 1,
		"g":  0.001,
		"mg": 1e-6,
		"t":  1000,
		"lb": 0.45359237,
		"oz": 0.028349523125,
		"st": 6.35029318,
	},
	familyVolume: { // base: liter
		"l":    1,
		"ml":   0.001,
		"m3":   1000,
		"gal":  3.785411784,
		"qt":   0.946352946,
		"pt":   0.473176473,
		"cup":  0.2365882365,
		"floz": 0.0295735295625,
		"tbsp": 0.01478676478125,
		"tsp":  0.00492892159375,
	},
	familyArea: { // base: square meter
		"m2":   1,
		"km2":  1e6,
		"cm2":  1e-4,
		"ha":   10000,
		"acre": 4046.8564224,
		"ft2":  0.09290304,
		"in2":  0.00064516,
		"mi2":  2589988.110336,
	},
	familySpeed: { // base: meters per second
		"mps":  1,
		"kmh":  1000.0 / 3600.0,
		"mph":  0.44704,
		"knot": 1852.0 / 3600.0,
		"fps":  0.3048,
	},
	familyTime: { // base: second
		"ms":   0.001,
		"s":    1,
		"min":  60,
		"h":    3600,
		"day":  86400,
		"week": 604800,
	},
	familyData: { // base: byte, binary prefixes
		"bit": 0.125,
		"b":   1,
		"kb":  1 << 10,
		"mb":  1 << 20,
		"gb":  1 << 30,
		"tb":  1 << 40,
		"pb":  1 << 50,
	},
}

// temperatureUnits lists the codes handled by closed-form pairs.
var temperatureUnits = map[string]bool{"c": true, "f": true, "k": true, "r": true}

// unitAliases fold the long spellings users actually type onto the table
// codes. Plural forms are derived by trimming a trailing "s" before the
// lookup, so only irregular names need rows here.
var unitAliases = map[string]string{
	"meter": "m", "metre": "m",
	"kilometer": "km", "kilometre": "km",
	"centimeter": "cm", "centimetre": "cm",
	"millimeter": "mm", "millimetre": "mm",
	"mile": "mi", "yard": "yd", "foot": "ft", "feet": "ft", "inch": "in", "inches": "in",
	"nauticalmile": "nmi",

	"kilogram": "kg", "gram": "g", "milligram": "mg",
	"tonne": "t", "ton": "t",
	"pound": "lb", "lbs": "lb", "ounce": "oz", "stone": "st",

	"liter": "l", "litre": "l",
	"milliliter": "ml", "millilitre": "ml",
	"gallon": "gal", "quart": "qt", "pint": "pt",
	"tablespoon": "tbsp", "teaspoon": "tsp",

	"hectare": "ha",
	"sqm":     "m2", "sqkm": "km2", "sqft": "ft2", "sqin": "in2", "sqmi": "mi2",

	"m/s": "mps", "km/h": "kmh", "kph": "kmh", "knots": "knot", "kt": "knot",

	"millisecond": "ms", "second": "s", "sec": "s",
	"minute": "min", "hour": "h", "hr": "h",

	"bits": "bit", "byte": "b", "bytes": "b",
	"kib": "kb", "mib": "mb", "gib": "gb", "tib": "tb", "pib": "pb",

	"celsius": "c", "centigrade": "c",
	"fahrenheit": "f", "kelvin": "k", "rankine": "r",
	"°c": "c", "°f": "f", "°k": "k", "°r": "r",
}

// tempPairs holds the closed-form conversion for every ordered pair of
// temperature scales. No pivoting through a base: round-trips like
// C→F→C must be exact on representable values, which per-pair formulas
// give and a shared pivot would not.
var tempPairs = map[[2]string]func(float64) float64{
	{"c", "f"}: func(v float64) float64 { return v*9/5 + 32 },
	{"f", "c"}: func(v float64) float64 { return (v - 32) * 5 / 9 },
	{"c", "k"}: func(v float64) float64 { return v + 273.15 },
	{"k", "c"}: func(v float64) float64 { return v - 273.15 },
	{"c", "r"}: func(v float64) float64 { return (v + 273.15) * 9 / 5 },
	{"r", "c"}: func(v float64) float64 { return (v - 491.67) * 5 / 9 },
	{"f", "k"}: func(v float64) float64 { return (v + 459.67) * 5 / 9 },
	{"k", "f"}: func(v float64) float64 { return v*9/5 - 459.67 },
	{"f", "r"}: func(v float64) float64 { return v + 459.67 },
	{"r", "f"}: func(v float64) float64 { return v - 459.67 },
	{"k", "r"}: func(v float64) float64 { return v * 9 / 5 },
	{"r", "k"}: func(v float64) float64 { return v * 5 / 9 },
}

// normalizeUnit resolves user spelling to a table code and its family.
// Exact spellings win before the plural trim so "ms" stays milliseconds
// instead of collapsing to "m".
func normalizeUnit(code string) (unit, family string, ok bool) {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "" {
		return "", "", false
	}
	if alias, found := unitAliases[c]; found {
		c = alias
	}
	if fam, found := lookupFamily(c); found {
		return c, fam, true
	}
	trimmed := strings.TrimSuffix(c, "s")
	if trimmed == c || trimmed == "" {
		return "", "", false
	}
	if alias, found := unitAliases[trimmed]; found {
		trimmed = alias
	}
	if fam, found := lookupFamily(trimmed); found {
		return trimmed, fam, true
	}
	return "", "", false
}

func lookupFamily(code string) (string, bool) {
	if temperatureUnits[code] {
		return familyTemperature, true
	}
	for fam, table := range unitFamilies {
		if _, ok := table[code]; ok {
			return fam, true
		}
	}
	return "", false
}

// convertUnit converts inside one family. Both codes must already be
// normalized and belong to the same family.
func convertUnit(amount float64, unit Unit, to Unit) (float64, error) {
	if unit.Family != to.Family {
		return 0, invalidInput("cannot convert %s (%s) to %s (%s)", unit.Code, unit.Family, to.Code, to.Family)
	}
	if unit.Family == familyTemperature {
		if unit.Code == to.Code {
			return amount, nil
		}
		return tempPairs[[2]string{unit.Code, to.Code}](amount), nil
	}
	table := unitFamilies[unit.Family]
	return amount * table[unit.Code] / table[to.Code], nil
}

// Unit is a normalized measurement unit.
type Unit struct {
	Code   string
	Family string
}

// classify decides whether an input token names a measurement unit or a
// currency. Unit spellings win: "cup" is a unit even though it is three
// letters. A three-letter alphabetic token that is not a unit is treated
// as an ISO-4217 code.
func classify(token string) (unit Unit, isUnit bool, currency string, isCurrency bool) {
	if code, fam, ok := normalizeUnit(token); ok {
		return Unit{Code: code, Family: fam}, true, "", false
	}
	t := strings.ToUpper(strings.TrimSpace(token))
	if len(t) == 3 && isAlpha(t) {
		return Unit{}, false, t, true
	}
	return Unit{}, false, "", false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
