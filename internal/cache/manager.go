// Package cache holds the authoritative in-memory view of users, chats, the
// leaderboard and location point sets.
package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
)

// DefaultLeaderboardSize bounds the leaderboard when the config leaves it unset
const DefaultLeaderboardSize = 10

// DefaultLookupTimeout bounds a shared point lookup when the config leaves it unset
const DefaultLookupTimeout = 30 * time.Second

// Store persists users, chats and the leaderboard
type Store interface {
	SaveUser(ctx context.Context, user *models.User) error
	SaveChat(ctx context.Context, chat *models.Chat) error
	SaveTops(ctx context.Context, tops []int64) error
	GetAllUsers(ctx context.Context) (map[int64]*models.User, error)
	GetAllChats(ctx context.Context) (map[int64]*models.Chat, error)
	GetTops(ctx context.Context) ([]int64, error)
}

// PointProvider looks up categorized points for a location key
type PointProvider interface {
	FindPoints(ctx context.Context, locationKey string) (models.PointSet, error)
}

// PointBackingStore is an optional shared tier consulted before the provider
type PointBackingStore interface {
	GetPoints(ctx context.Context, locationKey string) (models.PointSet, bool, error)
	SetPoints(ctx context.Context, locationKey string, points models.PointSet) error
}

// ManagerConfig holds the collaborators of a Manager
type ManagerConfig struct {
	Store           Store
	Provider        PointProvider
	Backing         PointBackingStore // optional
	LeaderboardSize int
	// LookupTimeout bounds one shared point lookup. Default: 30s.
	LookupTimeout time.Duration
	Logger        *logging.Logger
}

// Manager owns users, chats, the leaderboard and the point cache.
//
// User, chat and leaderboard state is guarded by mu; callers get clones and
// mutate through UpdateUser so that a read-modify-write on one user is never
// interleaved with another. Point sets have their own lock and in-flight map.
type Manager struct {
	store    Store
	provider PointProvider
	backing  PointBackingStore
	topSize  int
	logger   *logging.Logger

	lookupTimeout time.Duration

	mu    sync.RWMutex
	users map[int64]*models.User
	chats map[int64]*models.Chat
	tops  []int64

	pointsMu sync.RWMutex
	points   map[string]models.PointSet

	// In-flight lookups keyed by location. Entries exist only while a
	// provider call runs, so the map is bounded by concurrent distinct keys.
	inflightMu sync.Mutex
	inflight   map[string]*pointCall

	hits          atomic.Int64
	misses        atomic.Int64
	providerCalls atomic.Int64
}

// pointCall is one in-flight population shared by every waiter for a key
type pointCall struct {
	done   chan struct{}
	result models.PointSet
	err    error
}

// NewManager creates a new cache manager
func NewManager(cfg *ManagerConfig) *Manager {
	size := cfg.LeaderboardSize
	if size <= 0 {
		size = DefaultLeaderboardSize
	}
	lookupTimeout := cfg.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = DefaultLookupTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Manager{
		store:    cfg.Store,
		provider: cfg.Provider,
		backing:  cfg.Backing,
		topSize:  size,
		logger:   logger.WithField("component", "cache"),
		users:    make(map[int64]*models.User),
		chats:    make(map[int64]*models.Chat),
		tops:     make([]int64, 0, size),
		points:   make(map[string]models.PointSet),
		inflight: make(map[string]*pointCall),

		lookupTimeout: lookupTimeout,
	}
}

// AddUser inserts or replaces a user
func (m *Manager) AddUser(user *models.User) bool {
	m.mu.Lock()
	m.users[user.ID] = user.Clone()
	m.mu.Unlock()
	return true
}

// GetUser returns a snapshot of the user
func (m *Manager) GetUser(id int64) (*models.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// UpdateUser applies fn to the stored user under the manager lock and
// returns a snapshot of the result. fn must not block.
func (m *Manager) UpdateUser(id int64, fn func(u *models.User) error) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", id)
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	return u.Clone(), nil
}

// Users returns the ids of all cached users in ascending order
func (m *Manager) Users() []int64 {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddChat inserts or replaces a chat
func (m *Manager) AddChat(chat *models.Chat) bool {
	m.mu.Lock()
	m.chats[chat.ID] = chat.Clone()
	m.mu.Unlock()
	return true
}

// GetChat returns a snapshot of the chat
func (m *Manager) GetChat(id int64) (*models.Chat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chats[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// JoinChat records that a user belongs to a chat on both sides, creating
// the chat when needed
func (m *Manager) JoinChat(userID, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return apperrors.NewNotFoundError("user", userID)
	}
	c, ok := m.chats[chatID]
	if !ok {
		c = models.NewChat(chatID)
		m.chats[chatID] = c
	}
	u.AddChat(chatID)
	c.AddUser(userID)
	return nil
}

// Counts returns the number of cached users and chats
func (m *Manager) Counts() (users, chats int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), len(m.chats)
}
