package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/service"
	"github.com/eco-assistant/internal/types"
)

// LeaderboardEntry is one row of the leaderboard
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID int64  `json:"userId"`
	Name   string `json:"userName"`
	Score  int    `json:"score"`
	Level  int    `json:"level"`
	Status string `json:"status"`
}

// UserView is the public profile of a user
type UserView struct {
	UserID       int64              `json:"userId"`
	Name         string             `json:"userName"`
	Score        int                `json:"score"`
	Level        int                `json:"level"`
	Status       string             `json:"status"`
	Rank         int                `json:"rank,omitempty"`
	Location     string             `json:"location,omitempty"`
	Notification bool               `json:"notification"`
	Preferences  map[string]float64 `json:"preferences"`
	TodayDone    map[string]bool    `json:"todayDone"`
	Chats        []int64            `json:"chats"`
}

// PointsResponse wraps a point set with its location
type PointsResponse struct {
	Location string          `json:"location"`
	Total    int             `json:"total"`
	Points   models.PointSet `json:"points"`
}

// CreditRequest is the body of POST /api/users/{id}/actions
type CreditRequest struct {
	Action types.ActionType `json:"action"`
}

// MessageResponse is the result of POST /api/messages
type MessageResponse struct {
	Reply         *service.Reply `json:"reply"`
	Delivered     bool           `json:"delivered"`
	DeliveryError string         `json:"deliveryError,omitempty"`
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	users, chats := s.deps.Cache.Counts()
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "eco-assistant",
		"users":   users,
		"chats":   chats,
		"points":  s.deps.Cache.PointStats(),
	}
	if s.deps.Workers != nil {
		body["workers"] = s.deps.Workers()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries := make([]LeaderboardEntry, 0)
	for _, id := range s.deps.Cache.GetTopN() {
		u, ok := s.deps.Cache.GetUser(id)
		if !ok {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Rank:   len(entries) + 1,
			UserID: u.ID,
			Name:   u.Name,
			Score:  u.Score,
			Level:  models.Level(u.Score),
			Status: models.EcoStatus(u.Score),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	u, found := s.deps.Cache.GetUser(id)
	if !found {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "User not found", map[string]interface{}{"userId": id})
		return
	}

	view := UserView{
		UserID:       u.ID,
		Name:         u.Name,
		Score:        u.Score,
		Level:        models.Level(u.Score),
		Status:       models.EcoStatus(u.Score),
		Location:     u.Location,
		Notification: u.Notification,
		Preferences:  u.Preferences,
		TodayDone:    u.TodayDone,
		Chats:        u.ChatIDs(),
	}
	for i, topID := range s.deps.Cache.GetTopN() {
		if topID == id {
			view.Rank = i + 1
			break
		}
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreditAction(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req CreditRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	result, err := s.deps.Credits.Credit(r.Context(), id, req.Action)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if s.deps.History == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Action log is not configured", nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}

	records, err := s.deps.History.GetUserActions(r.Context(), id, limit)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to read action log")
		respondServiceError(w, err)
		return
	}
	if records == nil {
		records = []models.ActionRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"actions": records})
}

func (s *Server) handleGetPoints(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["location"]

	lat, lon, err := types.ParseLocationKey(key)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	// normalize so "55.75_37.61" and "55.8_37.6" share a lookup
	key = types.LocationKey(lat, lon)

	ps, err := s.deps.Cache.GetOrCreatePoints(r.Context(), key)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("location", key).Warn("Point lookup failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, PointsResponse{Location: key, Total: ps.Total(), Points: ps})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg service.IncomingMessage
	if err := parseJSONBody(r, &msg); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	reply, err := s.deps.Bot.HandleMessage(r.Context(), &msg)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := MessageResponse{Reply: reply}
	if s.deps.Sender != nil {
		if err := s.deps.Sender.Send(r.Context(), reply.PeerID, reply.Text); err != nil {
			logging.FromContext(r.Context()).WithError(err).WithField("peer_id", reply.PeerID).Warn("Reply delivery failed")
			resp.DeliveryError = err.Error()
		} else {
			resp.Delivered = true
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid user id", map[string]interface{}{"id": raw})
		return 0, false
	}
	return id, true
}
