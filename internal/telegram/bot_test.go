package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imaginebot/internal/catalog"
	"github.com/digkill/imaginebot/internal/database"
	"github.com/digkill/imaginebot/internal/inference"
	"github.com/digkill/imaginebot/internal/models"
	"github.com/digkill/imaginebot/internal/prompt"
	"github.com/digkill/imaginebot/internal/repository"
	"github.com/digkill/imaginebot/internal/service"
	"github.com/digkill/imaginebot/internal/session"
)

func TestParseImagine(t *testing.T) {
	args, err := parseImagine("a red fox in the snow --style Oil Painting --QUALITY high --model sdxl")
	require.NoError(t, err)
	assert.Equal(t, imagineArgs{Prompt: "a red fox in the snow", Style: "Oil Painting", Quality: "high", Model: "sdxl"}, args)

	args, err = parseImagine("  just a prompt  ")
	require.NoError(t, err)
	assert.Equal(t, "just a prompt", args.Prompt)
	assert.Empty(t, args.Style)

	args, err = parseImagine("a fox --style anime --style watercolor")
	require.NoError(t, err)
	assert.Equal(t, "watercolor", args.Style)

	_, err = parseImagine("")
	assert.True(t, errors.Is(err, errMissingPrompt))

	_, err = parseImagine("--style anime")
	assert.True(t, errors.Is(err, errMissingPrompt))

	_, err = parseImagine("a fox --quality")
	var validation *service.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Contains(t, validation.Reason, "--quality")
}

func TestParseImagine_KeepsPromptAsTyped(t *testing.T) {
	args, err := parseImagine("\n a red fox\n\nin   the snow \t--style Oil   Painting")
	require.NoError(t, err)
	assert.Equal(t, "a red fox\n\nin   the snow", args.Prompt)
	assert.Equal(t, "Oil Painting", args.Style)

	// 100 words separated by runs of spaces: 502 characters as typed,
	// well under the limit once whitespace is collapsed.
	raw := strings.Repeat("ab   ", 100) + "cd"
	args, err = parseImagine(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, args.Prompt)
	assert.Error(t, prompt.NewPolicy().Validate(args.Prompt))
}

func TestCallbackData(t *testing.T) {
	id := "0f8fad5b-d9cb-469f-a165-70867728950e"
	for _, action := range []session.Action{session.ActionVariation, session.ActionZoomIn, session.ActionZoomOut, session.ActionSendDM} {
		encoded := encodeAction(action, id)
		assert.LessOrEqual(t, len(encoded), 64)
		data, ok := parseCallback(encoded)
		require.True(t, ok, encoded)
		assert.Equal(t, action, data.action)
		assert.Equal(t, id, data.sessionID)
		assert.False(t, data.isPreference())
	}

	data, ok := parseCallback(encodePreference(catalog.KindStyle, "Oil Painting"))
	require.True(t, ok)
	assert.True(t, data.isPreference())
	assert.Equal(t, catalog.KindStyle, data.prefKind)
	assert.Equal(t, "Oil Painting", data.prefName)

	for _, bad := range []string{"", "var", "var:", "nope:123", "pref:color:red", "pref:style:"} {
		_, ok := parseCallback(bad)
		assert.False(t, ok, bad)
	}
}

func TestPreferenceKeyboardCoversCatalog(t *testing.T) {
	kb := preferenceKeyboard(catalog.KindStyle)
	var names []string
	for _, row := range kb.InlineKeyboard {
		assert.LessOrEqual(t, len(row), 2)
		for _, btn := range row {
			names = append(names, btn.Text)
		}
	}
	assert.Equal(t, catalog.Suggest(catalog.KindStyle, ""), names)
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, userMessage(&service.QuotaExceededError{Limit: 10, Used: 10}), "daily limit of 10")
	assert.Contains(t, userMessage(&service.ValidationError{Reason: "Unknown style.", Suggestions: []string{"Anime"}}), "Available: Anime")
	assert.Contains(t, userMessage(&service.GenerationFailedError{Timeout: true}), "too long")
	assert.Contains(t, userMessage(session.ErrCooldown), "wait")
	assert.Contains(t, userMessage(session.ErrExpired), "expired")
	assert.Contains(t, userMessage(service.ErrNotSessionOwner), "Only the person")
	assert.Contains(t, userMessage(&service.StoreError{Op: "x", Err: errors.New("db down")}), "Something went wrong")
}

func TestDeliveryError(t *testing.T) {
	err := deliveryError(&tgbotapi.Error{Code: 403, Message: "Forbidden: bot can't initiate conversation with a user"})
	assert.Equal(t, dmBlockedHint, err.Hint)

	err = deliveryError(errors.New("timeout"))
	assert.NotEqual(t, dmBlockedHint, err.Hint)
}

func TestResultCaption(t *testing.T) {
	res := &service.Result{
		Session: &session.Session{OriginalPrompt: strings.Repeat("x", 900), Model: "FLUX.1", Style: "Anime", Quality: "High", ZoomLevel: 3},
		Account: &models.UserAccount{DailyGenerations: 4},
		Limit:   10,
		Elapsed: 2500 * time.Millisecond,
	}
	caption := resultCaption(res)
	assert.Contains(t, caption, "Model: FLUX.1 | Style: Anime | Quality: High")
	assert.Contains(t, caption, "Time: 2.5s | Today: 4/10")
	assert.Less(t, len([]rune(caption)), 1024)

	res.Action, res.Modifier = session.ActionZoomIn, "macro shot"
	assert.True(t, strings.HasPrefix(resultCaption(res), "🔍 Zoom in (level 3): macro shot"))
}

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  func(c tgbotapi.Chattable) error
	nextID   int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if f.sendErr != nil {
		if err := f.sendErr(c); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) photos() []tgbotapi.PhotoConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range f.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeAPI) lastAnswer() tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if cb, ok := f.requests[i].(tgbotapi.CallbackConfig); ok {
			return cb
		}
	}
	return tgbotapi.CallbackConfig{}
}

type stubGenerator struct{}

func (stubGenerator) TextToImage(context.Context, string, string) (*inference.Image, error) {
	return &inference.Image{Bytes: []byte("\x89PNG"), Mime: "image/png"}, nil
}

func newTestBot(t *testing.T, limits service.Limits) (*Bot, *fakeAPI) {
	t.Helper()
	return newTestBotWithSessions(t, limits, session.NewManager(5*time.Minute, 0))
}

func newTestBotWithSessions(t *testing.T, limits service.Limits, sessions *session.Manager) (*Bot, *fakeAPI) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "bot_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.SQLite))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	userRepo := repository.NewUserRepository(db, database.SQLite)
	genRepo := repository.NewGenerationRepository(db)
	gen := service.NewGenerationService(log, userRepo, genRepo,
		service.NewDispatcher(stubGenerator{}, time.Second), prompt.NewPolicy(), sessions, limits)
	users := service.NewUserService(userRepo, genRepo, limits)

	api := &fakeAPI{}
	return NewBot(api, log, users, gen, nil, prompt.DefaultMaxLength), api
}

func command(chatID, fromID int64, text string) *tgbotapi.Message {
	cmd, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: fromID},
		Chat:      &tgbotapi.Chat{ID: chatID, Type: "group"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func click(fromID, chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: fromID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}
}

func TestImagineFlow(t *testing.T) {
	bot, api := newTestBot(t, service.Limits{Free: 10, Premium: 50})
	ctx := context.Background()

	bot.handleMessage(ctx, command(-100, 42, "/imagine a red fox --style anime"))
	bot.Wait()

	ack, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, 7, ack.ReplyToMessageID)

	photos := api.photos()
	require.Len(t, photos, 1)
	assert.Equal(t, int64(-100), photos[0].ChatID)
	assert.Contains(t, photos[0].Caption, "Style: Anime")
	assert.Contains(t, photos[0].Caption, "Today: 1/10")

	kb, ok := photos[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	variation := *kb.InlineKeyboard[0][0].CallbackData
	dm := *kb.InlineKeyboard[1][0].CallbackData

	// Someone else may not spend the owner's quota.
	bot.handleCallback(ctx, click(99, -100, variation))
	bot.Wait()
	assert.Contains(t, api.lastAnswer().Text, "Only the person")
	assert.Len(t, api.photos(), 1)

	// But anyone may ask for a private copy.
	bot.handleCallback(ctx, click(99, -100, dm))
	photos = api.photos()
	require.Len(t, photos, 2)
	assert.Equal(t, int64(99), photos[1].ChatID)
	assert.Contains(t, api.lastAnswer().Text, "Sent")

	bot.handleCallback(ctx, click(42, -100, variation))
	bot.Wait()
	photos = api.photos()
	require.Len(t, photos, 3)
	assert.Contains(t, photos[2].Caption, "Variation")
	assert.Contains(t, photos[2].Caption, "Today: 2/10")

	// The first result's buttons are retired once a follow-up succeeds.
	bot.handleCallback(ctx, click(42, -100, variation))
	assert.Contains(t, api.lastAnswer().Text, "expired")
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFollowUpFromInlineMessageKeepsCooldown(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	sessions := session.NewManager(5*time.Minute, 5*time.Second, session.WithClock(clock.Now))
	bot, api := newTestBotWithSessions(t, service.Limits{Free: 10, Premium: 50}, sessions)
	ctx := context.Background()

	bot.handleMessage(ctx, command(-100, 42, "/imagine a red fox"))
	bot.Wait()
	photos := api.photos()
	require.Len(t, photos, 1)
	variation := *photos[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup).InlineKeyboard[0][0].CallbackData

	clock.Advance(10 * time.Second)

	inline := click(42, -100, variation)
	inline.Message = nil
	inline.InlineMessageID = "inline-1"
	bot.handleCallback(ctx, inline)
	bot.Wait()
	assert.Equal(t, "This button only works in a chat.", api.lastAnswer().Text)
	assert.Len(t, api.photos(), 1)

	// The rejected inline click left the cooldown untouched.
	bot.handleCallback(ctx, click(42, -100, variation))
	bot.Wait()
	assert.Equal(t, "🎨 Working on it...", api.lastAnswer().Text)
	assert.Len(t, api.photos(), 2)
}

func TestSendToDMBlocked(t *testing.T) {
	bot, api := newTestBot(t, service.Limits{Free: 10, Premium: 50})
	ctx := context.Background()

	bot.handleMessage(ctx, command(-100, 42, "/imagine a red fox"))
	bot.Wait()
	photos := api.photos()
	require.Len(t, photos, 1)
	kb := photos[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)

	api.sendErr = func(c tgbotapi.Chattable) error {
		if p, ok := c.(tgbotapi.PhotoConfig); ok && p.ChatID == 99 {
			return &tgbotapi.Error{Code: 403, Message: "Forbidden: bot can't initiate conversation with a user"}
		}
		return nil
	}
	bot.handleCallback(ctx, click(99, -100, *kb.InlineKeyboard[1][0].CallbackData))

	answer := api.lastAnswer()
	assert.True(t, answer.ShowAlert)
	assert.Equal(t, dmBlockedHint, answer.Text)
}

func TestImagineQuotaExceededEditsProgressMessage(t *testing.T) {
	bot, api := newTestBot(t, service.Limits{Free: 1, Premium: 5})
	ctx := context.Background()

	bot.handleMessage(ctx, command(-100, 42, "/imagine a red fox"))
	bot.Wait()
	bot.handleMessage(ctx, command(-100, 42, "/imagine another fox"))
	bot.Wait()

	assert.Len(t, api.photos(), 1)
	var edited []string
	for _, c := range api.sent {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			edited = append(edited, e.Text)
		}
	}
	require.Len(t, edited, 1)
	assert.Contains(t, edited[0], "daily limit of 1")
}

func TestPreferenceCommands(t *testing.T) {
	bot, api := newTestBot(t, service.Limits{Free: 10, Premium: 50})
	ctx := context.Background()

	bot.handleMessage(ctx, command(42, 42, "/style oil painting"))
	reply := api.sent[len(api.sent)-1].(tgbotapi.MessageConfig)
	assert.Equal(t, "✅ Default style set to Oil Painting.", reply.Text)

	bot.handleMessage(ctx, command(42, 42, "/model dalle"))
	reply = api.sent[len(api.sent)-1].(tgbotapi.MessageConfig)
	assert.Contains(t, reply.Text, "Unknown model")

	bot.handleMessage(ctx, command(42, 42, "/quality"))
	picker := api.sent[len(api.sent)-1].(tgbotapi.MessageConfig)
	kb, ok := picker.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	bot.handleCallback(ctx, click(42, 42, *kb.InlineKeyboard[1][1].CallbackData))
	assert.Equal(t, "✅ Default quality set to Ultra.", api.lastAnswer().Text)

	bot.handleMessage(ctx, command(42, 42, "/stats"))
	stats := api.sent[len(api.sent)-1].(tgbotapi.MessageConfig)
	assert.Contains(t, stats.Text, "Style: Oil Painting")
	assert.Contains(t, stats.Text, "Quality: Ultra")
	assert.Contains(t, stats.Text, "Today: 0/10 (10 left)")
}
