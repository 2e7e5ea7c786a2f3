package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/imaginebot/internal/catalog"
	"github.com/digkill/imaginebot/internal/session"
)

const prefPrefix = "pref"

// Callback data is "<code>:<session id>" for result buttons and
// "pref:<kind>:<name>" for preference pickers. Both fit Telegram's 64 byte limit.
var actionCodes = map[session.Action]string{
	session.ActionVariation: "var",
	session.ActionZoomIn:    "zin",
	session.ActionZoomOut:   "zout",
	session.ActionSendDM:    "dm",
}

type callbackData struct {
	action    session.Action
	sessionID string

	prefKind catalog.Kind
	prefName string
}

func (c callbackData) isPreference() bool {
	return c.prefKind != ""
}

func encodeAction(action session.Action, sessionID string) string {
	return actionCodes[action] + ":" + sessionID
}

func encodePreference(kind catalog.Kind, name string) string {
	return prefPrefix + ":" + string(kind) + ":" + name
}

func parseCallback(data string) (callbackData, bool) {
	head, rest, ok := strings.Cut(data, ":")
	if !ok || rest == "" {
		return callbackData{}, false
	}
	if head == prefPrefix {
		kind, name, ok := strings.Cut(rest, ":")
		if !ok || name == "" {
			return callbackData{}, false
		}
		switch catalog.Kind(kind) {
		case catalog.KindModel, catalog.KindStyle, catalog.KindQuality:
			return callbackData{prefKind: catalog.Kind(kind), prefName: name}, true
		}
		return callbackData{}, false
	}
	for action, code := range actionCodes {
		if code == head {
			return callbackData{action: action, sessionID: rest}, true
		}
	}
	return callbackData{}, false
}

func resultKeyboard(sessionID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Variation", encodeAction(session.ActionVariation, sessionID)),
			tgbotapi.NewInlineKeyboardButtonData("🔍 Zoom In", encodeAction(session.ActionZoomIn, sessionID)),
			tgbotapi.NewInlineKeyboardButtonData("🔭 Zoom Out", encodeAction(session.ActionZoomOut, sessionID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📩 Send to DM", encodeAction(session.ActionSendDM, sessionID)),
		),
	)
}

// preferenceKeyboard lists every catalog entry of kind, two per row.
func preferenceKeyboard(kind catalog.Kind) tgbotapi.InlineKeyboardMarkup {
	names := catalog.Suggest(kind, "")
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(names); i += 2 {
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(names[i], encodePreference(kind, names[i])),
		}
		if i+1 < len(names) {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(names[i+1], encodePreference(kind, names[i+1])))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
