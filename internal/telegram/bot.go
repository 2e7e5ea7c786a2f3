package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/imaginebot/internal/catalog"
	"github.com/digkill/imaginebot/internal/metrics"
	"github.com/digkill/imaginebot/internal/service"
	"github.com/digkill/imaginebot/internal/session"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api        API
	log        *slog.Logger
	users      *service.UserService
	generation *service.GenerationService
	metrics    *metrics.Metrics
	maxPrompt  int

	// background deliveries
	wg sync.WaitGroup
}

func NewBot(api API, log *slog.Logger, users *service.UserService, generation *service.GenerationService, m *metrics.Metrics, maxPrompt int) *Bot {
	return &Bot{
		api:        api,
		log:        log,
		users:      users,
		generation: generation,
		metrics:    m,
		maxPrompt:  maxPrompt,
	}
}

// Run polls for updates until ctx is done, then waits for in-flight
// generations to be delivered.
func (b *Bot) Run(ctx context.Context) error {
	b.registerCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			b.handleUpdate(ctx, update)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("waiting for in-flight generations")
			b.Wait()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("update handler panicked", "update_id", update.UpdateID, "panic", r)
		}
	}()
	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) registerCommands() {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "imagine", Description: "Generate an image from a prompt"},
		tgbotapi.BotCommand{Command: "model", Description: "Set your default model"},
		tgbotapi.BotCommand{Command: "style", Description: "Set your default style"},
		tgbotapi.BotCommand{Command: "quality", Description: "Set your default quality"},
		tgbotapi.BotCommand{Command: "models", Description: "List available models"},
		tgbotapi.BotCommand{Command: "styles", Description: "List available styles"},
		tgbotapi.BotCommand{Command: "qualities", Description: "List quality presets"},
		tgbotapi.BotCommand{Command: "stats", Description: "Show your usage"},
		tgbotapi.BotCommand{Command: "help", Description: "How to use the bot"},
	)
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Warn("register commands", "err", err)
	}
}

// goBackground runs fn outside the update loop. fn's context is not
// canceled on shutdown; Run waits for it instead.
func (b *Bot) goBackground(ctx context.Context, task string, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("background task panicked", "task", task, "panic", r)
			}
		}()
		fn(ctx)
	}()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		if msg.Chat.IsPrivate() {
			b.sendText(msg.Chat.ID, "Use /imagine <prompt> to generate an image, or /help for more.")
		}
		return
	}
	if msg.From == nil {
		return
	}

	switch msg.Command() {
	case "start", "help":
		b.sendMarkdown(msg.Chat.ID, helpText(b.maxPrompt), nil)
	case "imagine":
		b.handleImagine(ctx, msg)
	case "model":
		b.handlePreference(ctx, msg, catalog.KindModel)
	case "style":
		b.handlePreference(ctx, msg, catalog.KindStyle)
	case "quality":
		b.handlePreference(ctx, msg, catalog.KindQuality)
	case "models":
		b.sendMarkdown(msg.Chat.ID, modelsText(), nil)
	case "styles":
		b.sendMarkdown(msg.Chat.ID, stylesText(), nil)
	case "qualities":
		b.sendMarkdown(msg.Chat.ID, qualitiesText(), nil)
	case "stats":
		b.handleStats(ctx, msg)
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Use /help.")
	}
}

func (b *Bot) handleImagine(ctx context.Context, msg *tgbotapi.Message) {
	args, err := parseImagine(msg.CommandArguments())
	if err != nil {
		b.reply(msg, userMessage(err))
		return
	}

	ack := tgbotapi.NewMessage(msg.Chat.ID, "🎨 Generating your image, this can take up to a minute...")
	ack.ReplyToMessageID = msg.MessageID
	sent, err := b.api.Send(ack)
	if err != nil {
		b.log.Error("send ack", "err", err)
	}

	req := service.ImagineRequest{
		UserID:  userID(msg.From),
		Prompt:  args.Prompt,
		Model:   args.Model,
		Style:   args.Style,
		Quality: args.Quality,
	}
	chatID := msg.Chat.ID
	b.goBackground(ctx, "imagine", func(ctx context.Context) {
		res, err := b.generation.Imagine(ctx, req)
		if err != nil {
			b.reportFailure(chatID, sent.MessageID, err)
			return
		}
		b.deliverResult(chatID, res)
		b.deleteMessage(chatID, sent.MessageID)
	})
}

func (b *Bot) handlePreference(ctx context.Context, msg *tgbotapi.Message, kind catalog.Kind) {
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		b.sendMarkdown(msg.Chat.ID, fmt.Sprintf("Choose your default %s:", kind), preferenceKeyboard(kind))
		return
	}
	canonical, err := b.setPreference(ctx, userID(msg.From), kind, name)
	if err != nil {
		b.reply(msg, userMessage(err))
		return
	}
	b.reply(msg, preferenceSaved(kind, canonical))
}

func (b *Bot) setPreference(ctx context.Context, uid string, kind catalog.Kind, name string) (string, error) {
	var in service.PreferenceInput
	switch kind {
	case catalog.KindModel:
		in.Model = name
	case catalog.KindStyle:
		in.Style = name
	case catalog.KindQuality:
		in.Quality = name
	}
	prefs, err := b.users.SetPreferences(ctx, uid, in)
	if err != nil {
		var validation *service.ValidationError
		if !errors.As(err, &validation) {
			b.log.Error("set preference", "user_id", uid, "kind", kind, "err", err)
		}
		return "", err
	}
	switch {
	case prefs.Model != nil:
		return *prefs.Model, nil
	case prefs.Style != nil:
		return *prefs.Style, nil
	default:
		return *prefs.Quality, nil
	}
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	st, err := b.users.Stats(ctx, userID(msg.From))
	if err != nil {
		b.log.Error("stats", "err", err)
		b.reply(msg, userMessage(err))
		return
	}
	b.sendMarkdown(msg.Chat.ID, statsText(st), nil)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data, ok := parseCallback(cb.Data)
	if !ok || cb.From == nil {
		b.answer(cb, "Unknown action.", false)
		return
	}
	uid := userID(cb.From)

	if data.isPreference() {
		canonical, err := b.setPreference(ctx, uid, data.prefKind, data.prefName)
		if err != nil {
			b.answer(cb, userMessage(err), true)
			return
		}
		b.answer(cb, preferenceSaved(data.prefKind, canonical), false)
		return
	}

	if data.action == session.ActionSendDM {
		b.sendToDM(cb, data.sessionID)
		return
	}

	// Inline-mode results carry no chat to deliver into.
	if cb.Message == nil {
		b.answer(cb, "This button only works in a chat.", false)
		return
	}
	chatID := cb.Message.Chat.ID

	pending, err := b.generation.PrepareFollowUp(service.FollowUpRequest{
		SessionID: data.sessionID,
		UserID:    uid,
		Action:    data.action,
	})
	if err != nil {
		b.metrics.FollowUp(string(data.action), metrics.OutcomeRejected)
		b.answer(cb, userMessage(err), false)
		return
	}
	b.answer(cb, "🎨 Working on it...", false)

	b.goBackground(ctx, "follow_up", func(ctx context.Context) {
		res, err := b.generation.CompleteFollowUp(ctx, pending)
		if err != nil {
			b.reportFailure(chatID, 0, err)
			return
		}
		b.deliverResult(chatID, res)
	})
}

// sendToDM re-delivers a session's image to the clicker's private chat.
// It consumes no quota and anyone may use it.
func (b *Bot) sendToDM(cb *tgbotapi.CallbackQuery, sessionID string) {
	sess, err := b.generation.Session(sessionID)
	if err != nil {
		b.metrics.FollowUp(string(session.ActionSendDM), metrics.OutcomeRejected)
		b.answer(cb, userMessage(err), false)
		return
	}

	photo := tgbotapi.NewPhoto(cb.From.ID, imageFile(sess))
	photo.Caption = dmCaption(sess)
	if _, err := b.api.Send(photo); err != nil {
		derr := deliveryError(err)
		b.log.Warn("dm delivery failed", "user_id", cb.From.ID, "err", err)
		b.metrics.FollowUp(string(session.ActionSendDM), metrics.OutcomeFailed)
		b.answer(cb, userMessage(derr), true)
		return
	}
	b.metrics.FollowUp(string(session.ActionSendDM), metrics.OutcomeSuccess)
	b.answer(cb, "📩 Sent to your private chat.", false)
}

func (b *Bot) deliverResult(chatID int64, res *service.Result) {
	photo := tgbotapi.NewPhoto(chatID, imageFile(res.Session))
	photo.Caption = resultCaption(res)
	photo.ReplyMarkup = resultKeyboard(res.Session.ID)
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send image", "chat_id", chatID, "err", deliveryError(err))
		b.sendText(chatID, "Your image was generated but could not be sent. Please try again.")
	}
}

// reportFailure replaces the progress message with the error, or sends a
// new message when there is none.
func (b *Bot) reportFailure(chatID int64, progressID int, err error) {
	var store *service.StoreError
	if errors.As(err, &store) {
		b.log.Error("generation store error", "chat_id", chatID, "err", err)
	}
	text := userMessage(err)
	if progressID != 0 {
		if _, editErr := b.api.Send(tgbotapi.NewEditMessageText(chatID, progressID, text)); editErr == nil {
			return
		}
	}
	b.sendText(chatID, text)
}

func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string, alert bool) {
	cfg := tgbotapi.NewCallback(cb.ID, text)
	cfg.ShowAlert = alert
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Error("callback answer", "err", err)
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		b.log.Error("send reply", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.Warn("delete progress message", "err", err)
	}
}

func userID(u *tgbotapi.User) string {
	return strconv.FormatInt(u.ID, 10)
}

func imageFile(sess *session.Session) tgbotapi.FileBytes {
	name := "imagine.png"
	switch sess.ImageMime {
	case "image/jpeg":
		name = "imagine.jpg"
	case "image/webp":
		name = "imagine.webp"
	}
	return tgbotapi.FileBytes{Name: name, Bytes: sess.Image}
}

// deliveryError wraps a send failure, adding a hint when Telegram refuses
// to open a private chat.
func deliveryError(err error) *service.DeliveryError {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return &service.DeliveryError{Hint: dmBlockedHint, Err: err}
	}
	return &service.DeliveryError{Hint: "Couldn't deliver the image. Please try again.", Err: err}
}
