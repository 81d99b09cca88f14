package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/models"
)

// Store persists users, chats and the leaderboard in Postgres
type Store struct {
	db *PostgresDB
}

// NewStore creates a new store
func NewStore(db *PostgresDB) *Store {
	return &Store{db: db}
}

// userRow is the column form of a user
type userRow struct {
	ID           int64
	Name         string
	Chats        []byte
	Preferences  []byte
	Location     string
	Score        int
	TodayDone    []byte
	TodayDate    string
	Notification bool
}

// SaveUser upserts a user
func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	row, err := encodeUser(user)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (user_id, user_name, user_chats, preferences, location, score, today_done, today_date, notification, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			user_name = EXCLUDED.user_name,
			user_chats = EXCLUDED.user_chats,
			preferences = EXCLUDED.preferences,
			location = EXCLUDED.location,
			score = EXCLUDED.score,
			today_done = EXCLUDED.today_done,
			today_date = EXCLUDED.today_date,
			notification = EXCLUDED.notification,
			updated_at = NOW()
	`

	_, err = s.db.Pool().Exec(ctx, query,
		row.ID, row.Name, row.Chats, row.Preferences, row.Location,
		row.Score, row.TodayDone, row.TodayDate, row.Notification,
	)
	if err != nil {
		return apperrors.NewDatabaseError("save user", err)
	}
	return nil
}

// SaveChat upserts a chat
func (s *Store) SaveChat(ctx context.Context, chat *models.Chat) error {
	members, err := json.Marshal(chat.Members())
	if err != nil {
		return fmt.Errorf("failed to marshal chat members: %w", err)
	}

	query := `
		INSERT INTO chats (chat_id, user_ids, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (chat_id) DO UPDATE SET
			user_ids = EXCLUDED.user_ids,
			updated_at = NOW()
	`

	if _, err := s.db.Pool().Exec(ctx, query, chat.ID, members); err != nil {
		return apperrors.NewDatabaseError("save chat", err)
	}
	return nil
}

// SaveTops replaces the stored leaderboard
func (s *Store) SaveTops(ctx context.Context, tops []int64) error {
	if tops == nil {
		tops = []int64{}
	}
	ids, err := json.Marshal(tops)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard: %w", err)
	}

	query := `
		INSERT INTO tops (id, user_ids, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			user_ids = EXCLUDED.user_ids,
			updated_at = NOW()
	`

	if _, err := s.db.Pool().Exec(ctx, query, ids); err != nil {
		return apperrors.NewDatabaseError("save leaderboard", err)
	}
	return nil
}

// GetAllUsers loads every user
func (s *Store) GetAllUsers(ctx context.Context) (map[int64]*models.User, error) {
	query := `
		SELECT user_id, user_name, user_chats, preferences, location, score, today_done, today_date, notification
		FROM users
	`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load users", err)
	}
	defer rows.Close()

	users := make(map[int64]*models.User)
	for rows.Next() {
		var row userRow
		if err := rows.Scan(
			&row.ID, &row.Name, &row.Chats, &row.Preferences, &row.Location,
			&row.Score, &row.TodayDone, &row.TodayDate, &row.Notification,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan user", err)
		}

		user, err := decodeUser(&row)
		if err != nil {
			return nil, err
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("load users", err)
	}
	return users, nil
}

// GetAllChats loads every chat
func (s *Store) GetAllChats(ctx context.Context) (map[int64]*models.Chat, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT chat_id, user_ids FROM chats`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load chats", err)
	}
	defer rows.Close()

	chats := make(map[int64]*models.Chat)
	for rows.Next() {
		var (
			id      int64
			members []byte
		)
		if err := rows.Scan(&id, &members); err != nil {
			return nil, apperrors.NewDatabaseError("scan chat", err)
		}

		chat, err := decodeChat(id, members)
		if err != nil {
			return nil, err
		}
		chats[id] = chat
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("load chats", err)
	}
	return chats, nil
}

// GetTops loads the leaderboard; an empty table yields an empty list
func (s *Store) GetTops(ctx context.Context) ([]int64, error) {
	var raw []byte
	err := s.db.Pool().QueryRow(ctx, `SELECT user_ids FROM tops WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load leaderboard", err)
	}

	var tops []int64
	if err := json.Unmarshal(raw, &tops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leaderboard: %w", err)
	}
	return tops, nil
}

func encodeUser(u *models.User) (*userRow, error) {
	chats, err := json.Marshal(u.ChatIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chats: %w", err)
	}

	prefs := u.Preferences
	if prefs == nil {
		prefs = map[string]float64{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preferences: %w", err)
	}

	done := u.TodayDone
	if done == nil {
		done = map[string]bool{}
	}
	doneJSON, err := json.Marshal(done)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal daily flags: %w", err)
	}

	return &userRow{
		ID:           u.ID,
		Name:         u.Name,
		Chats:        chats,
		Preferences:  prefsJSON,
		Location:     u.Location,
		Score:        u.Score,
		TodayDone:    doneJSON,
		TodayDate:    u.TodayDate,
		Notification: u.Notification,
	}, nil
}

func decodeUser(row *userRow) (*models.User, error) {
	u := &models.User{
		ID:           row.ID,
		Name:         row.Name,
		Chats:        make(map[int64]struct{}),
		Preferences:  make(map[string]float64),
		Location:     row.Location,
		Score:        row.Score,
		TodayDone:    make(map[string]bool),
		TodayDate:    row.TodayDate,
		Notification: row.Notification,
	}

	var chats []int64
	if err := unmarshalOptional(row.Chats, &chats); err != nil {
		return nil, fmt.Errorf("user %d: failed to unmarshal chats: %w", row.ID, err)
	}
	for _, id := range chats {
		u.Chats[id] = struct{}{}
	}
	if err := unmarshalOptional(row.Preferences, &u.Preferences); err != nil {
		return nil, fmt.Errorf("user %d: failed to unmarshal preferences: %w", row.ID, err)
	}
	if err := unmarshalOptional(row.TodayDone, &u.TodayDone); err != nil {
		return nil, fmt.Errorf("user %d: failed to unmarshal daily flags: %w", row.ID, err)
	}
	if u.Preferences == nil {
		u.Preferences = make(map[string]float64)
	}
	if u.TodayDone == nil {
		u.TodayDone = make(map[string]bool)
	}
	return u, nil
}

func decodeChat(id int64, raw []byte) (*models.Chat, error) {
	var members []int64
	if err := unmarshalOptional(raw, &members); err != nil {
		return nil, fmt.Errorf("chat %d: failed to unmarshal members: %w", id, err)
	}

	chat := models.NewChat(id)
	for _, m := range members {
		chat.AddUser(m)
	}
	return chat, nil
}

// unmarshalOptional treats empty input and JSON null as "leave v alone"
func unmarshalOptional(raw []byte, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
