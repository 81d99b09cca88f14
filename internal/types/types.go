// Package types provides common type definitions for the eco assistant bot.
package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PointCategory is the category of a point of interest returned by the provider
type PointCategory string

const (
	// CategoryRecycling represents recycling drop-off points
	CategoryRecycling PointCategory = "recycling"
	// CategoryEvent represents places for eco events (parks)
	CategoryEvent PointCategory = "event"
	// CategoryEcoShop represents organic and health food shops
	CategoryEcoShop PointCategory = "eco_shop"
)

// PointCategories lists every category a point set carries
var PointCategories = []PointCategory{CategoryRecycling, CategoryEvent, CategoryEcoShop}

// ActionType identifies a gamification action
type ActionType string

const (
	ActionTip      ActionType = "tip"
	ActionRecycle  ActionType = "recycle"
	ActionEvent    ActionType = "event"
	ActionShop     ActionType = "shop"
	ActionLocation ActionType = "location"
)

// Preference categories weight which tips a user receives
const (
	PrefRecycling = "recycling"
	PrefEvents    = "events"
	PrefShop      = "shop"
	PrefEcoRec    = "eco_rec"
)

// PreferenceCategories lists every preference a user carries
var PreferenceCategories = []string{PrefRecycling, PrefEvents, PrefShop, PrefEcoRec}

// PreferenceFor returns the preference an action feeds, or "" when none
func PreferenceFor(action ActionType) string {
	switch action {
	case ActionRecycle:
		return PrefRecycling
	case ActionEvent:
		return PrefEvents
	case ActionShop:
		return PrefShop
	case ActionTip:
		return PrefEcoRec
	default:
		return ""
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// LocationKey builds the cache key for a coordinate pair.
// Coordinates are rounded to one decimal so nearby users share a lookup.
func LocationKey(lat, lon float64) string {
	return fmt.Sprintf("%.1f_%.1f", roundTenth(lat), roundTenth(lon))
}

// ParseLocationKey splits a key built by LocationKey back into coordinates
func ParseLocationKey(key string) (lat, lon float64, err error) {
	parts := strings.Split(key, "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed location key %q", key)
	}

	lat, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed latitude in %q: %w", key, err)
	}
	lon, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed longitude in %q: %w", key, err)
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// ValidateCoordinates checks latitude and longitude ranges
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return fmt.Errorf("coordinates must be numbers")
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}

func roundTenth(v float64) float64 {
	r := math.Round(v*10) / 10
	if r == 0 {
		return 0 // normalizes -0
	}
	return r
}
