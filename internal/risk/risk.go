// Package risk turns a numeric AQI forecast into a health-risk assessment.
//
// Every function is pure and safe for concurrent use.
package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Category is an AQI band.
type Category int

const (
	Unknown Category = iota
	Low
	Moderate
	UnhealthyForSensitiveGroups
	Poor
	VeryPoor
	Severe
)

var categoryNames = [...]string{
	Unknown:                     "Unknown",
	Low:                         "Low",
	Moderate:                    "Moderate",
	UnhealthyForSensitiveGroups: "UnhealthyForSensitiveGroups",
	Poor:                        "Poor",
	VeryPoor:                    "VeryPoor",
	Severe:                      "Severe",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return categoryNames[Unknown]
	}
	return categoryNames[c]
}

// MarshalJSON encodes the category by name.
func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a category name; unrecognized names decode to Unknown.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Unknown
	for i, name := range categoryNames {
		if name == s {
			*c = Category(i)
		}
	}
	return nil
}

// band is a half-open AQI interval [lower, upper). The last band is closed.
type band struct {
	lower    float64
	upper    float64
	category Category
}

// MaxAQI is the upper bound of the top band.
const MaxAQI = 1000

// bands are contiguous: each lower bound is the previous upper bound.
var bands = [...]band{
	{0, 51, Low},
	{51, 101, Moderate},
	{101, 201, UnhealthyForSensitiveGroups},
	{201, 301, Poor},
	{301, 401, VeryPoor},
	{401, MaxAQI, Severe},
}

// Classify maps an AQI value to its band. Values outside [0, MaxAQI] and NaN
// map to Unknown.
func Classify(aqi float64) Category {
	if math.IsNaN(aqi) || aqi < bands[0].lower || aqi > MaxAQI {
		return Unknown
	}
	for _, b := range bands {
		if aqi < b.upper {
			return b.category
		}
	}
	return bands[len(bands)-1].category
}

// scoreCeiling is the AQI at which the normalized score saturates.
const scoreCeiling = 500

// Score normalizes an AQI into [0, 1], saturating at scoreCeiling.
func Score(aqi float64) float64 {
	if math.IsNaN(aqi) || aqi <= 0 {
		return 0
	}
	return math.Min(aqi/scoreCeiling, 1)
}

// Group is a population group with its own sensitivity to pollution.
type Group int

const (
	General Group = iota
	Children
	Elderly
	Asthma
)

var groupNames = [...]string{
	General:  "general",
	Children: "children",
	Elderly:  "elderly",
	Asthma:   "asthma",
}

func (g Group) String() string {
	if g < 0 || int(g) >= len(groupNames) {
		return groupNames[General]
	}
	return groupNames[g]
}

// MarshalJSON encodes the group by name.
func (g Group) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

// UnmarshalJSON decodes a group name; unrecognized names decode to General.
func (g *Group) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*g = LookupGroup(s)
	return nil
}

// ParseGroup resolves a group name strictly, ignoring case and surrounding
// space. Use it at input boundaries.
func ParseGroup(name string) (Group, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, n := range groupNames {
		if n == key {
			return Group(i), nil
		}
	}
	return General, fmt.Errorf("unknown population group %q", name)
}

// GroupNames lists every group name in declaration order.
func GroupNames() []string {
	return append([]string(nil), groupNames[:]...)
}

// LookupGroup resolves a group name, defaulting to General.
func LookupGroup(name string) Group {
	g, err := ParseGroup(name)
	if err != nil {
		return General
	}
	return g
}

// Weight is the sensitivity multiplier for a group.
func (g Group) Weight() float64 {
	switch g {
	case Children:
		return 1.2
	case Elderly:
		return 1.3
	case Asthma:
		return 1.5
	default:
		return 1.0
	}
}

// Adjusted scales Score by the group weight, capped at 1.
func Adjusted(aqi float64, g Group) float64 {
	return math.Min(Score(aqi)*g.Weight(), 1)
}

// Advisory returns the public health message for a category.
func Advisory(c Category) string {
	switch c {
	case Low:
		return "Air quality is satisfactory. Normal outdoor activity is safe."
	case Moderate:
		return "Sensitive individuals should consider reducing prolonged outdoor exertion."
	case UnhealthyForSensitiveGroups:
		return "Children, elderly, and respiratory patients should limit outdoor exposure."
	case Poor:
		return "Reduce outdoor activity. Consider wearing masks."
	case VeryPoor:
		return "Avoid outdoor exposure. Use air purification indoors."
	case Severe:
		return "Stay indoors. Health alert issued for all populations."
	default:
		return "No advisory available."
	}
}

// Assessment bundles every risk output for one AQI value.
type Assessment struct {
	Category Category
	Score    float64
	Adjusted float64
	Advisory string
}

// Assess runs every risk operation for aqi and group.
func Assess(aqi float64, g Group) Assessment {
	c := Classify(aqi)
	return Assessment{
		Category: c,
		Score:    Score(aqi),
		Adjusted: Adjusted(aqi, g),
		Advisory: Advisory(c),
	}
}
