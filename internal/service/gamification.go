// Package service implements the bot's business logic on top of the cache.
package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/types"
)

// UserCache is the part of the cache manager the services use
type UserCache interface {
	GetUser(id int64) (*models.User, bool)
	AddUser(user *models.User) bool
	UpdateUser(id int64, fn func(u *models.User) error) (*models.User, error)
	JoinChat(userID, chatID int64) error
	UpdateTopN(userID int64) bool
	GetTopN() []int64
}

// PointFinder resolves eco points for a location key
type PointFinder interface {
	GetOrCreatePoints(ctx context.Context, locationKey string) (models.PointSet, error)
}

// ActionRecorder receives every credited action. Record must not block.
type ActionRecorder interface {
	Record(rec models.ActionRecord)
}

// ActionPoints is the reward for each action
var ActionPoints = map[types.ActionType]int{
	types.ActionTip:      1,
	types.ActionRecycle:  5,
	types.ActionEvent:    10,
	types.ActionShop:     3,
	types.ActionLocation: 10,
}

// CreditResult describes the outcome of a credit attempt
type CreditResult struct {
	UserID   int64            `json:"userId"`
	Action   types.ActionType `json:"action"`
	Credited bool             `json:"credited"`
	Points   int              `json:"points"`
	Score    int              `json:"score"`
}

// GamificationService credits actions to users at most once per day each
type GamificationService struct {
	cache    UserCache
	recorder ActionRecorder
	loc      *time.Location
	now      func() time.Time
}

// NewGamificationService creates a new gamification service. recorder may be nil.
func NewGamificationService(cache UserCache, recorder ActionRecorder, loc *time.Location) *GamificationService {
	if loc == nil {
		loc = time.UTC
	}
	return &GamificationService{
		cache:    cache,
		recorder: recorder,
		loc:      loc,
		now:      time.Now,
	}
}

// Credit awards the action's points unless the user already earned them today
func (s *GamificationService) Credit(ctx context.Context, userID int64, action types.ActionType) (*CreditResult, error) {
	points, ok := ActionPoints[action]
	if !ok {
		return nil, apperrors.NewInvalidParameterError("action", fmt.Sprintf("unknown action %q", action))
	}

	now := s.now().In(s.loc)
	credited := false
	user, err := s.cache.UpdateUser(userID, func(u *models.User) error {
		u.ValidateDay(now)
		if !u.MarkDone(string(action)) {
			return nil
		}
		credited = true
		u.Score += points
		if pref := types.PreferenceFor(action); pref != "" {
			u.ValidatePreferences(types.PreferenceCategories)
			u.Preferences[pref]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &CreditResult{
		UserID:   userID,
		Action:   action,
		Credited: credited,
		Score:    user.Score,
	}
	if !credited {
		return result, nil
	}
	result.Points = points

	s.cache.UpdateTopN(userID)

	if s.recorder != nil {
		s.recorder.Record(models.ActionRecord{
			UserID:    userID,
			Action:    action,
			Category:  types.PreferenceFor(action),
			Points:    points,
			ScoreNew:  user.Score,
			CreatedAt: now.UTC(),
		})
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id": userID,
		"action":  action,
		"points":  points,
		"score":   user.Score,
	}).Debug("Action credited")

	return result, nil
}
