package models

import "sort"

// Chat represents a conversation the bot participates in
type Chat struct {
	ID      int64              `json:"chatId"`
	UserIDs map[int64]struct{} `json:"-"`
}

// NewChat creates an empty chat
func NewChat(id int64) *Chat {
	return &Chat{ID: id, UserIDs: make(map[int64]struct{})}
}

// AddUser records user membership
func (c *Chat) AddUser(userID int64) {
	if c.UserIDs == nil {
		c.UserIDs = make(map[int64]struct{})
	}
	c.UserIDs[userID] = struct{}{}
}

// Members returns member ids in ascending order
func (c *Chat) Members() []int64 {
	ids := make([]int64, 0, len(c.UserIDs))
	for id := range c.UserIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a deep copy
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := NewChat(c.ID)
	for id := range c.UserIDs {
		out.UserIDs[id] = struct{}{}
	}
	return out
}
