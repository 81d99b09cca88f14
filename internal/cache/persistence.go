package cache

import (
	"context"
	"time"

	"github.com/eco-assistant/internal/models"
)

// LoadAll replaces the cached users, chats and leaderboard with the store's
// contents. On any store error nothing is replaced and false is returned.
func (m *Manager) LoadAll(ctx context.Context) bool {
	if m.store == nil {
		m.logger.Error("LoadAll called without a store")
		return false
	}

	start := time.Now()

	chats, err := m.store.GetAllChats(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to load chats")
		return false
	}
	users, err := m.store.GetAllUsers(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to load users")
		return false
	}
	tops, err := m.store.GetTops(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to load leaderboard")
		return false
	}

	if chats == nil {
		chats = make(map[int64]*models.Chat)
	}
	if users == nil {
		users = make(map[int64]*models.User)
	}

	m.mu.Lock()
	m.chats = chats
	m.users = users
	m.setTopsLocked(tops)
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"users":    len(users),
		"chats":    len(chats),
		"tops":     len(tops),
		"duration": time.Since(start).String(),
	}).Info("Cache loaded")
	return true
}

// SaveAll writes every user, every chat and the leaderboard. A failed write
// is logged and does not stop the remaining writes. Returns true only when
// every write succeeded.
func (m *Manager) SaveAll(ctx context.Context) bool {
	if m.store == nil {
		m.logger.Error("SaveAll called without a store")
		return false
	}

	m.mu.RLock()
	users := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u.Clone())
	}
	chats := make([]*models.Chat, 0, len(m.chats))
	for _, c := range m.chats {
		chats = append(chats, c.Clone())
	}
	tops := make([]int64, len(m.tops))
	copy(tops, m.tops)
	m.mu.RUnlock()

	ok := true
	failed := 0

	for _, u := range users {
		if err := m.store.SaveUser(ctx, u); err != nil {
			m.logger.WithField("user_id", u.ID).WithError(err).Error("Failed to save user")
			ok = false
			failed++
		}
	}
	for _, c := range chats {
		if err := m.store.SaveChat(ctx, c); err != nil {
			m.logger.WithField("chat_id", c.ID).WithError(err).Error("Failed to save chat")
			ok = false
			failed++
		}
	}
	if err := m.store.SaveTops(ctx, tops); err != nil {
		m.logger.WithError(err).Error("Failed to save leaderboard")
		ok = false
		failed++
	}

	m.logger.WithFields(map[string]interface{}{
		"users":  len(users),
		"chats":  len(chats),
		"failed": failed,
	}).Info("Cache saved")
	return ok
}
