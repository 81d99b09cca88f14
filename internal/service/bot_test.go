package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eco-assistant/internal/cache"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/types"
)

func newTestBot(t *testing.T) (*BotService, *cache.Manager, *pointsStub) {
	t.Helper()
	c := newTestCache()
	points := &pointsStub{set: models.NewPointSet()}
	gam := NewGamificationService(c, nil, time.UTC)
	return NewBotService(c, points, gam), c, points
}

func send(t *testing.T, bot *BotService, from int64, text string) *Reply {
	t.Helper()
	reply, err := bot.HandleMessage(context.Background(), &IncomingMessage{PeerID: from, FromID: from, FirstName: "Ann", Text: text})
	require.NoError(t, err)
	return reply
}

func TestHandleMessage_Validation(t *testing.T) {
	bot, _, _ := newTestBot(t)

	_, err := bot.HandleMessage(context.Background(), nil)
	assert.Error(t, err)
	_, err = bot.HandleMessage(context.Background(), &IncomingMessage{Text: "начать"})
	assert.Error(t, err)
}

func TestHandleMessage_Start(t *testing.T) {
	bot, c, _ := newTestBot(t)

	reply := send(t, bot, 1, "Начать")
	assert.Equal(t, "start", reply.Command)
	assert.Contains(t, reply.Text, "Привет, Ann!")

	u, ok := c.GetUser(1)
	require.True(t, ok)
	assert.Equal(t, "Ann", u.Name)
	assert.True(t, u.Notification)
	assert.Equal(t, []int64{1}, u.ChatIDs())

	chat, ok := c.GetChat(1)
	require.True(t, ok)
	assert.Equal(t, []int64{1}, chat.Members())
}

func TestHandleMessage_StartKeepsProgress(t *testing.T) {
	bot, c, _ := newTestBot(t)
	registerUser(c, 1, "Ann", 40)

	reply, err := bot.HandleMessage(context.Background(), &IncomingMessage{PeerID: 2000000001, FromID: 1, Text: "/start"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Ann")

	u, _ := c.GetUser(1)
	assert.Equal(t, 40, u.Score)
	assert.Equal(t, []int64{2000000001}, u.ChatIDs())
}

func TestHandleMessage_RequiresRegistration(t *testing.T) {
	bot, _, _ := newTestBot(t)

	for _, text := range []string{"профиль", "рейтинг", "совет", "пункты", "сдал", "55.75 37.61"} {
		reply := send(t, bot, 9, text)
		assert.Equal(t, TextNotRegistered, reply.Text, text)
	}

	assert.Contains(t, send(t, bot, 9, "помощь").Text, "Доступные команды")
}

func TestHandleMessage_Unknown(t *testing.T) {
	bot, _, _ := newTestBot(t)
	assert.Equal(t, TextUnknown, send(t, bot, 1, "абракадабра").Text)
	assert.Equal(t, TextUnknown, send(t, bot, 1, "   ").Text)
}

func TestHandleMessage_Profile(t *testing.T) {
	bot, c, _ := newTestBot(t)
	registerUser(c, 1, "Ann", 120)

	reply := send(t, bot, 1, "Профиль")
	assert.Contains(t, reply.Text, "Эко-профиль: Ann")
	assert.Contains(t, reply.Text, "Очки кармы: 120")
	assert.Contains(t, reply.Text, "Звание: Знаток")
	assert.Contains(t, reply.Text, "Уровень: 2")
	assert.Contains(t, reply.Text, "не указана")
}

func TestHandleMessage_Rating(t *testing.T) {
	bot, c, _ := newTestBot(t)
	registerUser(c, 1, "Ann", 5)
	registerUser(c, 2, "Bob", 60)

	reply := send(t, bot, 1, "рейтинг")
	assert.Contains(t, reply.Text, "1. Bob (Эко-пионер) — 60 очков")
	assert.Contains(t, reply.Text, "2. Ann (Эко-что?) — 5 очков")
}

func TestHandleMessage_TipCreditsOnce(t *testing.T) {
	bot, c, _ := newTestBot(t)
	send(t, bot, 1, "начать")

	first := send(t, bot, 1, "совет")
	assert.Contains(t, first.Text, "Совет дня")
	require.NotNil(t, first.Credit)
	assert.True(t, first.Credit.Credited)
	assert.Contains(t, first.Text, "+1 очков")

	second := send(t, bot, 1, "совет")
	assert.Contains(t, second.Text, "Совет дня")
	assert.False(t, second.Credit.Credited)

	u, _ := c.GetUser(1)
	assert.Equal(t, 1, u.Score)
}

func TestHandleMessage_RecycleOncePerDay(t *testing.T) {
	bot, c, _ := newTestBot(t)
	send(t, bot, 1, "начать")

	assert.Contains(t, send(t, bot, 1, "сдал").Text, "+5 очков")
	assert.Equal(t, TextAlreadyDone, send(t, bot, 1, "сдал").Text)

	u, _ := c.GetUser(1)
	assert.Equal(t, 5, u.Score)
}

func TestHandleMessage_Location(t *testing.T) {
	bot, c, _ := newTestBot(t)
	send(t, bot, 1, "начать")

	reply := send(t, bot, 1, "локация 55.75, 37.61")
	assert.Equal(t, "location", reply.Command)
	assert.Contains(t, reply.Text, "+10 очков")

	u, _ := c.GetUser(1)
	assert.Equal(t, "55.8_37.6", u.Location)

	reply = send(t, bot, 1, "55.71 37.64")
	assert.Equal(t, "location", reply.Command)
	u, _ = c.GetUser(1)
	assert.Equal(t, "55.7_37.6", u.Location)
	assert.Equal(t, 10, u.Score)

	assert.Equal(t, TextBadLocation, send(t, bot, 1, "локация 200 10").Text)
	assert.Equal(t, TextBadLocation, send(t, bot, 1, "локация где-то").Text)
}

func TestHandleMessage_Points(t *testing.T) {
	bot, c, points := newTestBot(t)
	send(t, bot, 1, "начать")
	assert.Equal(t, TextNoLocation, send(t, bot, 1, "пункты").Text)

	_, err := c.UpdateUser(1, func(u *models.User) error {
		u.Location = "55.8_37.6"
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Рядом эко-точек не найдено.", send(t, bot, 1, "пункты").Text)

	for i := int64(0); i < 7; i++ {
		points.set[types.CategoryRecycling] = append(points.set[types.CategoryRecycling],
			models.Point{ID: i, Name: "Пункт", Description: "Принимает: glass"})
	}
	points.set[types.CategoryEcoShop] = []models.Point{{ID: 100, Name: "Лавка"}}

	reply := send(t, bot, 1, "пункты")
	assert.Equal(t, "55.8_37.6", points.key)
	assert.Contains(t, reply.Text, "Пункты приема")
	assert.Contains(t, reply.Text, "…и ещё 2")
	assert.Contains(t, reply.Text, "Лавка")

	reply = send(t, bot, 1, "пункты магазины")
	assert.NotContains(t, reply.Text, "Пункты приема")
	assert.Contains(t, reply.Text, "Лавка")

	assert.Contains(t, send(t, bot, 1, "пункты вулканы").Text, "Неизвестная категория")

	points.err = errLookup
	assert.Equal(t, TextPointsFailed, send(t, bot, 1, "пункты").Text)
}

func TestHandleMessage_Notifications(t *testing.T) {
	bot, c, _ := newTestBot(t)
	send(t, bot, 1, "начать")

	assert.Equal(t, TextNotifyOff, send(t, bot, 1, "уведомления выкл").Text)
	u, _ := c.GetUser(1)
	assert.False(t, u.Notification)

	assert.Equal(t, TextNotifyOn, send(t, bot, 1, "notifications on").Text)
	u, _ = c.GetUser(1)
	assert.True(t, u.Notification)

	assert.Contains(t, send(t, bot, 1, "уведомления").Text, "уведомления вкл")
}

func TestRenderPoints_Descriptions(t *testing.T) {
	ps := models.NewPointSet()
	ps[types.CategoryEvent] = []models.Point{{ID: 1, Name: "Парк", Description: "Эко-точка"}}

	text := renderPoints(ps, types.PointCategories)
	assert.Contains(t, text, "🏢 Парк")
	assert.Contains(t, text, "ℹ️ Эко-точка")
}
