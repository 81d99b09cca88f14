// Package models provides data models for the eco assistant bot.
package models

import (
	"sort"
	"time"
)

// DayLayout formats the calendar day daily flags refer to
const DayLayout = "2006-01-02"

// User represents a bot user
type User struct {
	ID           int64              `json:"userId"`
	Name         string             `json:"userName"`
	Chats        map[int64]struct{} `json:"-"`
	Preferences  map[string]float64 `json:"preferences"`
	Location     string             `json:"location,omitempty"`
	Score        int                `json:"score"`
	TodayDone    map[string]bool    `json:"todayDone"`
	TodayDate    string             `json:"todayDate,omitempty"`
	Notification bool               `json:"notification"`
}

// NewUser creates a user with notifications enabled and zero weight for
// every preference category
func NewUser(id int64, name string, categories []string) *User {
	u := &User{
		ID:           id,
		Name:         name,
		Chats:        make(map[int64]struct{}),
		Preferences:  make(map[string]float64, len(categories)),
		TodayDone:    make(map[string]bool),
		Notification: true,
	}
	for _, c := range categories {
		u.Preferences[c] = 0
	}
	return u
}

// AddChat records chat membership
func (u *User) AddChat(chatID int64) {
	if u.Chats == nil {
		u.Chats = make(map[int64]struct{})
	}
	u.Chats[chatID] = struct{}{}
}

// ChatIDs returns the user's chats in ascending order
func (u *User) ChatIDs() []int64 {
	ids := make([]int64, 0, len(u.Chats))
	for id := range u.Chats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ValidateDay clears the daily flags when today differs from the day they
// were recorded on. Returns true when a reset happened.
func (u *User) ValidateDay(now time.Time) bool {
	today := now.Format(DayLayout)
	if u.TodayDate == today {
		return false
	}
	u.TodayDate = today
	u.TodayDone = make(map[string]bool)
	return true
}

// MarkDone sets the daily flag for category and reports whether it was unset
func (u *User) MarkDone(category string) bool {
	if u.TodayDone == nil {
		u.TodayDone = make(map[string]bool)
	}
	if u.TodayDone[category] {
		return false
	}
	u.TodayDone[category] = true
	return true
}

// ValidatePreferences drops negative weights and fills in missing categories
func (u *User) ValidatePreferences(categories []string) {
	if u.Preferences == nil {
		u.Preferences = make(map[string]float64, len(categories))
	}
	for k, v := range u.Preferences {
		if v < 0 {
			u.Preferences[k] = 0
		}
	}
	for _, c := range categories {
		if _, ok := u.Preferences[c]; !ok {
			u.Preferences[c] = 0
		}
	}
}

// Clone returns a deep copy
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Chats = make(map[int64]struct{}, len(u.Chats))
	for id := range u.Chats {
		c.Chats[id] = struct{}{}
	}
	c.Preferences = make(map[string]float64, len(u.Preferences))
	for k, v := range u.Preferences {
		c.Preferences[k] = v
	}
	c.TodayDone = make(map[string]bool, len(u.TodayDone))
	for k, v := range u.TodayDone {
		c.TodayDone[k] = v
	}
	return &c
}

// Level is one plus a level per hundred points
func Level(score int) int {
	if score < 0 {
		return 1
	}
	return score/100 + 1
}

var ecoRanks = []struct {
	threshold int
	name      string
}{
	{0, "Эко-что?"},
	{10, "Начинающий"},
	{50, "Эко-пионер"},
	{100, "Знаток"},
	{250, "Активист"},
	{500, "Герой"},
	{1000, "Гуру"},
}

// EcoStatus returns the rank title for a score
func EcoStatus(score int) string {
	status := ecoRanks[0].name
	for _, r := range ecoRanks {
		if score < r.threshold {
			break
		}
		status = r.name
	}
	return status
}
