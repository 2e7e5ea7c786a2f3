package telegram

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/digkill/imaginebot/internal/catalog"
	"github.com/digkill/imaginebot/internal/service"
	"github.com/digkill/imaginebot/internal/session"
)

const (
	maxCaptionPrompt = 700
	dmBlockedHint    = "I can't message you privately. Open a chat with me, press Start, then try again."
)

var errMissingPrompt = errors.New("missing prompt")

// imagineArgs is a parsed "/imagine <prompt> [--style X] [--quality Y] [--model Z]".
type imagineArgs struct {
	Prompt  string
	Style   string
	Quality string
	Model   string
}

var imagineFlags = map[string]bool{"--style": true, "--quality": true, "--model": true}

// parseImagine splits the prompt from its option flags. The prompt is
// everything before the first flag, kept as typed apart from trimming its
// ends. Flag values may contain spaces ("--style Oil Painting") and run
// until the next flag.
func parseImagine(raw string) (imagineArgs, error) {
	var (
		args   imagineArgs
		values = map[string][]string{}
		flag   string
	)
	promptEnd := len(raw)
	for _, tok := range tokenize(raw) {
		if name := strings.ToLower(tok.text); imagineFlags[name] {
			if flag == "" {
				promptEnd = tok.start
			}
			flag = name
			values[flag] = []string{}
			continue
		}
		if flag != "" {
			values[flag] = append(values[flag], tok.text)
		}
	}
	for name, words := range values {
		if len(words) == 0 {
			return args, &service.ValidationError{Reason: fmt.Sprintf("Missing value for %s.", name)}
		}
	}

	args.Prompt = strings.TrimSpace(raw[:promptEnd])
	args.Style = strings.Join(values["--style"], " ")
	args.Quality = strings.Join(values["--quality"], " ")
	args.Model = strings.Join(values["--model"], " ")
	if args.Prompt == "" {
		return args, errMissingPrompt
	}
	return args, nil
}

type token struct {
	text  string
	start int
}

// tokenize is strings.Fields that also reports byte offsets into s.
func tokenize(s string) []token {
	var (
		tokens []token
		start  = -1
	)
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, token{text: s[start:i], start: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: s[start:], start: start})
	}
	return tokens
}

func helpText(maxPrompt int) string {
	return fmt.Sprintf(`🎨 *Imagine Bot*

/imagine <prompt> [--style X] [--quality Y] [--model Z]
  Generate an image. Prompts are limited to %d characters.
/model, /style, /quality [name]
  Set your default model, style or quality.
/models, /styles, /qualities
  List what is available.
/stats
  Show today's usage and your preferences.

Under every result you can ask for a variation, zoom in or out, or get a copy in your private chat. Each new image counts toward your daily limit.`, maxPrompt)
}

func modelsText() string {
	var b strings.Builder
	b.WriteString("🤖 *Available models*\n")
	for _, m := range catalog.Models() {
		fmt.Fprintf(&b, "\n*%s*\n%s\nSpeed: %s, Quality: %s\n", m.Name, m.Description, m.Speed, m.Quality)
	}
	return b.String()
}

func stylesText() string {
	var b strings.Builder
	b.WriteString("🖌 *Available styles*\n")
	for _, s := range catalog.Styles() {
		fmt.Fprintf(&b, "\n• *%s*: %s", s.Name, s.Descriptor)
	}
	return b.String()
}

func qualitiesText() string {
	var b strings.Builder
	b.WriteString("⚙️ *Quality presets*\n")
	for _, q := range catalog.Qualities() {
		fmt.Fprintf(&b, "\n• *%s*: %d steps", q.Name, q.Steps)
	}
	return b.String()
}

func statsText(st *service.Stats) string {
	tier := "Free"
	if st.Account.IsPremium {
		tier = "Premium"
	}
	return fmt.Sprintf("📊 *Your stats*\n\nToday: %d/%d (%d left)\nTotal: %d\nTier: %s\n\nModel: %s\nStyle: %s\nQuality: %s",
		st.Account.DailyGenerations, st.Limit, st.Remaining(),
		st.Account.TotalGenerations, tier,
		st.Account.PreferredModel, st.Account.PreferredStyle, st.Account.PreferredQuality,
	)
}

func resultCaption(res *service.Result) string {
	sess := res.Session
	var head string
	switch res.Action {
	case session.ActionVariation:
		head = "🔄 Variation: " + res.Modifier
	case session.ActionZoomIn:
		head = fmt.Sprintf("🔍 Zoom in (level %d): %s", sess.ZoomLevel, res.Modifier)
	case session.ActionZoomOut:
		head = fmt.Sprintf("🔭 Zoom out (level %d): %s", sess.ZoomLevel, res.Modifier)
	default:
		head = "✨ " + truncateRunes(sess.OriginalPrompt, maxCaptionPrompt)
	}
	return fmt.Sprintf("%s\n\nModel: %s | Style: %s | Quality: %s\nTime: %.1fs | Today: %d/%d",
		head, sess.Model, sess.Style, sess.Quality,
		res.Elapsed.Seconds(), res.Account.DailyGenerations, res.Limit,
	)
}

func dmCaption(sess *session.Session) string {
	return fmt.Sprintf("✨ %s\n\nModel: %s | Style: %s | Quality: %s",
		truncateRunes(sess.OriginalPrompt, maxCaptionPrompt), sess.Model, sess.Style, sess.Quality)
}

func preferenceSaved(kind catalog.Kind, name string) string {
	return fmt.Sprintf("✅ Default %s set to %s.", kind, name)
}

// userMessage renders any error from the generation lifecycle as a reply.
func userMessage(err error) string {
	var (
		validation *service.ValidationError
		quota      *service.QuotaExceededError
		failed     *service.GenerationFailedError
		delivery   *service.DeliveryError
	)
	switch {
	case errors.As(err, &validation):
		msg := "❌ " + validation.Reason
		if len(validation.Suggestions) > 0 {
			msg += "\nAvailable: " + strings.Join(validation.Suggestions, ", ")
		}
		return msg
	case errors.As(err, &quota):
		return "⛔ " + quota.UserMessage()
	case errors.As(err, &failed):
		return "⚠️ " + failed.UserMessage()
	case errors.As(err, &delivery):
		return delivery.Hint
	case errors.Is(err, service.ErrNotSessionOwner):
		return "Only the person who created this image can use these buttons."
	case errors.Is(err, session.ErrCooldown):
		return "Please wait a few seconds before the next action."
	case errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrNotFound):
		return "These buttons have expired. Use /imagine to start again."
	case errors.Is(err, errMissingPrompt):
		return "Usage: /imagine <prompt> [--style X] [--quality Y] [--model Z]"
	default:
		return "Something went wrong. Please try again later."
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "…"
}
