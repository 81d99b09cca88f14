package models

import (
	"time"

	"github.com/eco-assistant/internal/types"
)

// Point is a point of interest near a location
type Point struct {
	ID          int64             `json:"id"`
	Lat         *float64          `json:"lat,omitempty"`
	Lon         *float64          `json:"lon,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// PointSet groups points by category
type PointSet map[types.PointCategory][]Point

// NewPointSet returns a set with an empty slice for every known category
func NewPointSet() PointSet {
	ps := make(PointSet, len(types.PointCategories))
	for _, c := range types.PointCategories {
		ps[c] = []Point{}
	}
	return ps
}

// Total counts points across categories
func (ps PointSet) Total() int {
	n := 0
	for _, pts := range ps {
		n += len(pts)
	}
	return n
}

// ActionRecord is one credited gamification action
type ActionRecord struct {
	UserID    int64            `json:"userId"`
	Action    types.ActionType `json:"action"`
	Category  string           `json:"category"`
	Points    int              `json:"points"`
	ScoreNew  int              `json:"scoreNew"`
	CreatedAt time.Time        `json:"createdAt"`
}
