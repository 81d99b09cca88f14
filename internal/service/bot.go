package service

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/types"
)

// Reply texts
const (
	TextNotRegistered = "Нажмите 'Начать' для регистрации."
	TextInternalError = "Что-то пошло не так, попробуйте позже."
	TextUnknown       = "Не понял команду. Напишите 'помощь' для списка команд."
	TextNoLocation    = "Сначала отправьте своё местоположение: локация 55.75 37.61"
	TextBadLocation   = "Не удалось распознать координаты. Пример: локация 55.75 37.61"
	TextPointsFailed  = "Не удалось получить эко-точки, попробуйте позже."
	TextNotifyOn      = "🔔 Уведомления включены."
	TextNotifyOff     = "🔕 Уведомления выключены."
	TextAlreadyDone   = "Сегодня вы уже получили очки за это действие. Возвращайтесь завтра!"
)

const helpText = `📋 Доступные команды:
• начать - регистрация
• профиль - ваш эко-профиль
• рейтинг - топ эко-активистов
• совет - эко-совет дня
• локация <широта> <долгота> - сохранить местоположение
• пункты [переработка|события|магазины] - эко-точки рядом
• сдал - отметить сдачу вторсырья
• событие - отметить участие в эко-событии
• покупка - отметить эко-покупку
• уведомления вкл|выкл - настройка рассылки`

// BotTips are the tips handed out on request
var BotTips = []string{
	"Используйте многоразовую бутылку для воды вместо пластиковых.",
	"Выключайте воду, когда чистите зубы. Это экономит до 10 литров в минуту!",
	"Сдавайте батарейки в специальные пункты приема, одна батарейка загрязняет 20 кв.м земли.",
	"Используйте многоразовые сумки вместо пластиковых пакетов.",
	"Выключайте свет, выходя из комнаты.",
	"Передвигайтесь пешком или на велосипеде на короткие расстояния.",
	"Планируйте покупки, чтобы не выбрасывать еду.",
}

// maxPointsPerCategory bounds the points listed in one reply
const maxPointsPerCategory = 5

var categoryTitles = map[types.PointCategory]string{
	types.CategoryRecycling: "♻️ Пункты приема",
	types.CategoryEvent:     "🌿 Места для эко-событий",
	types.CategoryEcoShop:   "🛒 Эко-магазины",
}

// IncomingMessage is a text message addressed to the bot
type IncomingMessage struct {
	PeerID    int64  `json:"peerId"`
	FromID    int64  `json:"fromId"`
	FirstName string `json:"firstName,omitempty"`
	Text      string `json:"text"`
}

// Reply is the bot's answer to an incoming message
type Reply struct {
	PeerID  int64         `json:"peerId"`
	Text    string        `json:"text"`
	Command string        `json:"command,omitempty"`
	Credit  *CreditResult `json:"credit,omitempty"`
}

type commandFunc func(ctx context.Context, msg *IncomingMessage, args []string) (string, *CreditResult, error)

// BotService turns incoming messages into replies
type BotService struct {
	cache        UserCache
	points       PointFinder
	gamification *GamificationService
	tips         []string

	rngMu sync.Mutex
	rng   *rand.Rand

	commands map[string]string
	handlers map[string]commandFunc
}

// NewBotService creates a new bot service
func NewBotService(cache UserCache, points PointFinder, gamification *GamificationService) *BotService {
	s := &BotService{
		cache:        cache,
		points:       points,
		gamification: gamification,
		tips:         BotTips,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 - tip selection only
	}

	s.handlers = map[string]commandFunc{
		"start":         s.handleStart,
		"help":          s.handleHelp,
		"profile":       s.handleProfile,
		"rating":        s.handleRating,
		"tip":           s.handleTip,
		"location":      s.handleLocation,
		"points":        s.handlePoints,
		"recycle":       s.creditHandler(types.ActionRecycle, "♻️ Спасибо, что сдаёте вторсырьё!"),
		"event":         s.creditHandler(types.ActionEvent, "🎉 Отлично, что участвуете в эко-событиях!"),
		"shop":          s.creditHandler(types.ActionShop, "🛒 Эко-покупка засчитана!"),
		"notifications": s.handleNotifications,
	}

	s.commands = map[string]string{
		"start": "start", "начать": "start", "привет": "start", "ку": "start",
		"help": "help", "помощь": "help",
		"profile": "profile", "профиль": "profile",
		"rating": "rating", "рейтинг": "rating",
		"tip": "tip", "tips": "tip", "совет": "tip",
		"location": "location", "локация": "location",
		"points": "points", "пункты": "points", "карта": "points",
		"recycle": "recycle", "сдал": "recycle", "сдала": "recycle",
		"event": "event", "событие": "event",
		"shop": "shop", "покупка": "shop",
		"notifications": "notifications", "уведомления": "notifications",
	}

	return s
}

// HandleMessage runs the command in msg and returns the reply text.
// Every command except start requires a registered user.
func (s *BotService) HandleMessage(ctx context.Context, msg *IncomingMessage) (*Reply, error) {
	if msg == nil || msg.FromID == 0 {
		return nil, apperrors.NewInvalidParameterError("fromId", "sender is required")
	}
	if msg.PeerID == 0 {
		msg.PeerID = msg.FromID
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"peer_id": msg.PeerID,
		"from_id": msg.FromID,
	})

	command, args := s.parse(msg.Text)
	reply := &Reply{PeerID: msg.PeerID, Command: command}

	if command == "" {
		reply.Text = TextUnknown
		return reply, nil
	}

	if command != "start" && command != "help" {
		if _, ok := s.cache.GetUser(msg.FromID); !ok {
			reply.Text = TextNotRegistered
			return reply, nil
		}
	}

	text, credit, err := s.handlers[command](ctx, msg, args)
	if err != nil {
		log.WithError(err).WithField("command", command).Error("Command failed")
		reply.Text = TextInternalError
		return reply, nil
	}

	reply.Text = text
	reply.Credit = credit
	return reply, nil
}

// parse splits text into a normalized command and its arguments. A bare
// coordinate pair is treated as a location command.
func (s *BotService) parse(text string) (string, []string) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return "", nil
	}

	if _, _, err := parseCoordinates(fields); err == nil {
		return "location", fields
	}

	name := strings.TrimPrefix(fields[0], "/")
	if command, ok := s.commands[name]; ok {
		return command, fields[1:]
	}
	return "", nil
}

func (s *BotService) handleStart(ctx context.Context, msg *IncomingMessage, _ []string) (string, *CreditResult, error) {
	name := msg.FirstName
	existing, ok := s.cache.GetUser(msg.FromID)
	if !ok {
		s.cache.AddUser(models.NewUser(msg.FromID, name, types.PreferenceCategories))
		logging.FromContext(ctx).WithField("user_id", msg.FromID).Info("User registered")
	} else if name == "" {
		name = existing.Name
	}

	if err := s.cache.JoinChat(msg.FromID, msg.PeerID); err != nil {
		return "", nil, err
	}

	if name == "" {
		name = "друг"
	}
	return fmt.Sprintf(
		"Привет, %s! Я твой Экологический помощник. 🌿\n"+
			"Я помогу тебе найти пункты переработки и стать экологичнее.\n\n"+
			"Напиши 'помощь', чтобы увидеть список команд.", name), nil, nil
}

func (s *BotService) handleHelp(context.Context, *IncomingMessage, []string) (string, *CreditResult, error) {
	return helpText, nil, nil
}

func (s *BotService) handleProfile(_ context.Context, msg *IncomingMessage, _ []string) (string, *CreditResult, error) {
	u, ok := s.cache.GetUser(msg.FromID)
	if !ok {
		return TextNotRegistered, nil, nil
	}

	notify := "выкл"
	if u.Notification {
		notify = "вкл"
	}
	location := u.Location
	if location == "" {
		location = "не указана"
	}

	return fmt.Sprintf(
		"👤 Эко-профиль: %s\n"+
			"⭐️ Очки кармы: %d\n"+
			"🏅 Звание: %s\n"+
			"📈 Уровень: %d\n"+
			"📍 Локация: %s\n"+
			"🔔 Уведомления: %s",
		u.Name, u.Score, models.EcoStatus(u.Score), models.Level(u.Score), location, notify), nil, nil
}

func (s *BotService) handleRating(context.Context, *IncomingMessage, []string) (string, *CreditResult, error) {
	var b strings.Builder
	b.WriteString("🏆 Топ-10 Эко-активистов:\n")

	rank := 0
	for _, id := range s.cache.GetTopN() {
		u, ok := s.cache.GetUser(id)
		if !ok {
			continue
		}
		rank++
		fmt.Fprintf(&b, "%d. %s (%s) — %d очков\n", rank, u.Name, models.EcoStatus(u.Score), u.Score)
	}
	if rank == 0 {
		b.WriteString("Пока никого нет. Станьте первым!")
	}
	return strings.TrimRight(b.String(), "\n"), nil, nil
}

func (s *BotService) handleTip(ctx context.Context, msg *IncomingMessage, _ []string) (string, *CreditResult, error) {
	s.rngMu.Lock()
	tip := s.tips[s.rng.Intn(len(s.tips))]
	s.rngMu.Unlock()

	credit, err := s.gamification.Credit(ctx, msg.FromID, types.ActionTip)
	if err != nil {
		return "", nil, err
	}
	return "💡 Совет дня:\n" + tip + creditSuffix(credit), credit, nil
}

func (s *BotService) handleLocation(ctx context.Context, msg *IncomingMessage, args []string) (string, *CreditResult, error) {
	lat, lon, err := parseCoordinates(args)
	if err != nil {
		return TextBadLocation, nil, nil
	}

	key := types.LocationKey(lat, lon)
	if _, err := s.cache.UpdateUser(msg.FromID, func(u *models.User) error {
		u.Location = key
		return nil
	}); err != nil {
		return "", nil, err
	}

	credit, err := s.gamification.Credit(ctx, msg.FromID, types.ActionLocation)
	if err != nil {
		return "", nil, err
	}
	return "📍 Местоположение сохранено. Напишите 'пункты', чтобы найти эко-точки рядом." + creditSuffix(credit), credit, nil
}

func (s *BotService) handlePoints(ctx context.Context, msg *IncomingMessage, args []string) (string, *CreditResult, error) {
	u, ok := s.cache.GetUser(msg.FromID)
	if !ok {
		return TextNotRegistered, nil, nil
	}
	if u.Location == "" {
		return TextNoLocation, nil, nil
	}

	categories := types.PointCategories
	if len(args) > 0 {
		c, ok := parsePointCategory(args[0])
		if !ok {
			return "Неизвестная категория. Доступно: переработка, события, магазины.", nil, nil
		}
		categories = []types.PointCategory{c}
	}

	ps, err := s.points.GetOrCreatePoints(ctx, u.Location)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("location", u.Location).Warn("Point lookup failed")
		return TextPointsFailed, nil, nil
	}

	return renderPoints(ps, categories), nil, nil
}

func (s *BotService) handleNotifications(_ context.Context, msg *IncomingMessage, args []string) (string, *CreditResult, error) {
	if len(args) == 0 {
		return "Напишите 'уведомления вкл' или 'уведомления выкл'.", nil, nil
	}

	var enabled bool
	switch args[0] {
	case "on", "вкл", "включить":
		enabled = true
	case "off", "выкл", "выключить":
		enabled = false
	default:
		return "Напишите 'уведомления вкл' или 'уведомления выкл'.", nil, nil
	}

	if _, err := s.cache.UpdateUser(msg.FromID, func(u *models.User) error {
		u.Notification = enabled
		return nil
	}); err != nil {
		return "", nil, err
	}

	if enabled {
		return TextNotifyOn, nil, nil
	}
	return TextNotifyOff, nil, nil
}

func (s *BotService) creditHandler(action types.ActionType, thanks string) commandFunc {
	return func(ctx context.Context, msg *IncomingMessage, _ []string) (string, *CreditResult, error) {
		credit, err := s.gamification.Credit(ctx, msg.FromID, action)
		if err != nil {
			return "", nil, err
		}
		if !credit.Credited {
			return TextAlreadyDone, credit, nil
		}
		return thanks + creditSuffix(credit), credit, nil
	}
}

func creditSuffix(c *CreditResult) string {
	if c == nil || !c.Credited {
		return ""
	}
	return fmt.Sprintf("\n\n+%d очков! Всего: %d", c.Points, c.Score)
}

// parseCoordinates reads "<lat> <lon>", tolerating a comma after the latitude
func parseCoordinates(fields []string) (lat, lon float64, err error) {
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected two coordinates, got %d", len(fields))
	}
	lat, err = strconv.ParseFloat(strings.TrimSuffix(fields[0], ","), 64)
	if err != nil {
		return 0, 0, err
	}
	lon, err = strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, err
	}
	if err := types.ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

func parsePointCategory(arg string) (types.PointCategory, bool) {
	switch arg {
	case "переработка", "recycling":
		return types.CategoryRecycling, true
	case "события", "event", "events":
		return types.CategoryEvent, true
	case "магазины", "shop", "shops":
		return types.CategoryEcoShop, true
	}
	return "", false
}

func renderPoints(ps models.PointSet, categories []types.PointCategory) string {
	var b strings.Builder
	found := 0
	for _, c := range categories {
		pts := ps[c]
		if len(pts) == 0 {
			continue
		}
		found += len(pts)

		fmt.Fprintf(&b, "%s:\n", categoryTitles[c])
		for i, p := range pts {
			if i == maxPointsPerCategory {
				fmt.Fprintf(&b, "…и ещё %d\n", len(pts)-maxPointsPerCategory)
				break
			}
			fmt.Fprintf(&b, "🏢 %s\n", p.Name)
			if p.Description != "" {
				fmt.Fprintf(&b, "ℹ️ %s\n", p.Description)
			}
		}
		b.WriteString("\n")
	}
	if found == 0 {
		return "Рядом эко-точек не найдено."
	}
	return strings.TrimRight(b.String(), "\n")
}
