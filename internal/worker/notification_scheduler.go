package worker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/types"
)

// Sender delivers a text message to a chat
type Sender interface {
	Send(ctx context.Context, peerID int64, text string) error
}

// UserCache is the part of the cache manager the scheduler needs
type UserCache interface {
	Users() []int64
	UpdateUser(id int64, fn func(u *models.User) error) (*models.User, error)
}

// NotificationSchedulerConfig holds configuration for the scheduler
type NotificationSchedulerConfig struct {
	Cache       UserCache
	Sender      Sender
	Tips        TipPool
	MinInterval time.Duration
	MaxInterval time.Duration
	Location    *time.Location
	Rand        *rand.Rand
	Now         func() time.Time
	Logger      *logging.Logger
}

// SweepResult summarizes one pass over all users
type SweepResult struct {
	Users    int `json:"users"`
	Notified int `json:"notified"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Disabled int `json:"disabled"`
}

// SchedulerStats reports scheduler activity
type SchedulerStats struct {
	Running   bool        `json:"running"`
	Sweeps    int64       `json:"sweeps"`
	LastSweep time.Time   `json:"lastSweep"`
	Last      SweepResult `json:"last"`
}

// NotificationScheduler periodically sends eco tips to every subscribed user
type NotificationScheduler struct {
	cache       UserCache
	sender      Sender
	tips        TipPool
	minInterval time.Duration
	maxInterval time.Duration
	location    *time.Location
	now         func() time.Time
	logger      *logging.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	statsMu   sync.RWMutex
	sweeps    int64
	lastSweep time.Time
	last      SweepResult
}

// NewNotificationScheduler creates a new notification scheduler
func NewNotificationScheduler(cfg *NotificationSchedulerConfig) (*NotificationScheduler, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = 12 * time.Hour
	}
	maxInterval := cfg.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 32 * time.Hour
	}
	if minInterval > maxInterval {
		return nil, fmt.Errorf("min interval %v exceeds max interval %v", minInterval, maxInterval)
	}

	tips := cfg.Tips
	if len(tips) == 0 {
		tips = DefaultTips
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &NotificationScheduler{
		cache:       cfg.Cache,
		sender:      cfg.Sender,
		tips:        tips,
		minInterval: minInterval,
		maxInterval: maxInterval,
		location:    loc,
		now:         now,
		rng:         rng,
		logger:      logger.WithField("component", "notifications"),
	}, nil
}

// Start launches the sweep loop. Calling Start on a running scheduler
// does nothing.
func (s *NotificationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.WithFields(map[string]interface{}{
		"min_interval": s.minInterval.String(),
		"max_interval": s.maxInterval.String(),
	}).Info("Notification scheduler started")

	go s.loop(loopCtx, s.doneCh)
}

// Stop cancels the loop and waits for it to exit. Calling Stop on a
// stopped scheduler does nothing.
func (s *NotificationScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.doneCh
	// the loop is cancelled below, so the scheduler counts as stopped even
	// if waiting for it times out
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Notification scheduler stop timed out")
		return ctx.Err()
	}

	s.logger.Info("Notification scheduler stopped")
	return nil
}

// IsRunning reports whether the loop is active
func (s *NotificationScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns scheduler activity counters
func (s *NotificationScheduler) Stats() SchedulerStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return SchedulerStats{
		Running:   s.IsRunning(),
		Sweeps:    s.sweeps,
		LastSweep: s.lastSweep,
		Last:      s.last,
	}
}

func (s *NotificationScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		s.Sweep(ctx)

		timer := time.NewTimer(s.nextInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// nextInterval draws a uniformly random wait in [min, max]
func (s *NotificationScheduler) nextInterval() time.Duration {
	span := int64(s.maxInterval - s.minInterval)
	if span <= 0 {
		return s.minInterval
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.minInterval + time.Duration(s.rng.Int63n(span+1))
}

// Sweep refreshes every user's daily state and notifies subscribed users
// once. It stops early when ctx is cancelled.
func (s *NotificationScheduler) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	today := s.now().In(s.location)

	for _, id := range s.cache.Users() {
		if ctx.Err() != nil {
			break
		}
		res.Users++

		user, err := s.cache.UpdateUser(id, func(u *models.User) error {
			u.ValidateDay(today)
			u.ValidatePreferences(types.PreferenceCategories)
			return nil
		})
		if err != nil {
			// Removed between Users() and now
			continue
		}
		if !user.Notification {
			continue
		}

		res.Notified++
		s.notify(ctx, user, &res)
	}

	s.statsMu.Lock()
	s.sweeps++
	s.lastSweep = s.now()
	s.last = res
	s.statsMu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"users":    res.Users,
		"notified": res.Notified,
		"sent":     res.Sent,
		"failed":   res.Failed,
		"disabled": res.Disabled,
	}).Info("Notification sweep finished")
	return res
}

func (s *NotificationScheduler) notify(ctx context.Context, user *models.User, res *SweepResult) {
	s.rngMu.Lock()
	category := ChooseCategory(s.rng, user.Preferences, s.tips)
	s.rngMu.Unlock()
	if category == "" {
		return
	}

	log := s.logger.WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"category": category,
	})

	for _, chatID := range user.ChatIDs() {
		if ctx.Err() != nil {
			return
		}

		s.rngMu.Lock()
		text := ChooseTip(s.rng, s.tips, category)
		s.rngMu.Unlock()

		err := s.sender.Send(ctx, chatID, text)
		if err == nil {
			res.Sent++
			continue
		}
		res.Failed++

		if apperrors.IsPermanentDelivery(err) {
			log.WithField("chat_id", chatID).WithError(err).Warn("Recipient unreachable, disabling notifications")
			if _, uerr := s.cache.UpdateUser(user.ID, func(u *models.User) error {
				u.Notification = false
				return nil
			}); uerr == nil {
				res.Disabled++
			}
			return
		}

		log.WithFields(map[string]interface{}{
			"chat_id": chatID,
			"class":   string(apperrors.DeliveryClassOf(err)),
		}).WithError(err).Warn("Failed to deliver notification")
	}
}
