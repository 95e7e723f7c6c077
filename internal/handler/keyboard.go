package handler

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"telegram-wager-bot/internal/game"
)

// Callback prefixes of the round panel.
const (
	CallbackChip  = "chip"
	CallbackToken = "tok"

	callbackSep = "|"

	// Variants with more tokens than this leave numeric tokens to /bet.
	panelTokenLimit = 12
	tokensPerRow    = 3
)

// Chips are the preset stake amounts offered on the panel.
var Chips = []int64{100, 1_000, 10_000, 100_000}

var tokenLabels = map[string]string{
	"red":    "🔴 红",
	"black":  "⚫ 黑",
	"even":   "双",
	"odd":    "单",
	"big":    "大",
	"small":  "小",
	"triple": "围骰",
	"1st":    "第一打",
	"2nd":    "第二打",
	"3rd":    "第三打",
}

// EncodeCallback encodes an action and parameter into callback data.
func EncodeCallback(action, param string) string {
	return action + callbackSep + param
}

// DecodeCallback decodes callback data into action and parameter.
// Telebot may prefix callback data with \f.
func DecodeCallback(data string) (action, param string) {
	data = strings.TrimPrefix(data, "\f")
	action, param, ok := strings.Cut(data, callbackSep)
	if !ok {
		return "", ""
	}
	return action, param
}

// TokenLabel returns the button label for a rate token.
func TokenLabel(token string) string {
	if l, ok := tokenLabels[token]; ok {
		return l
	}
	return token
}

// PanelTokens returns the tokens offered as buttons for v.
func PanelTokens(v game.Variant) []string {
	all := v.RateTokens()
	if len(all) <= panelTokenLimit {
		return all
	}
	out := make([]string, 0, panelTokenLimit)
	for _, t := range all {
		if _, err := strconv.Atoi(t); err == nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// BuildPanel builds the inline keyboard of a round.
// Layout:
//   - Row 1: chip amounts
//   - Rows 2+: rate tokens, three per row
func BuildPanel(v game.Variant) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	chips := make([]tele.InlineButton, 0, len(Chips))
	for _, c := range Chips {
		chips = append(chips, tele.InlineButton{
			Text: "💰 " + formatChip(c),
			Data: EncodeCallback(CallbackChip, strconv.FormatInt(c, 10)),
		})
	}
	rows := [][]tele.InlineButton{chips}

	var row []tele.InlineButton
	for _, t := range PanelTokens(v) {
		mult := v.Multiplier(t, nil, false)
		row = append(row, tele.InlineButton{
			Text: fmt.Sprintf("%s x%g", TokenLabel(t), mult),
			Data: EncodeCallback(CallbackToken, t),
		})
		if len(row) == tokensPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	markup.InlineKeyboard = rows
	return markup
}

func formatChip(n int64) string {
	switch {
	case n >= 1_000_000 && n%1_000_000 == 0:
		return fmt.Sprintf("%dm", n/1_000_000)
	case n >= 1_000 && n%1_000 == 0:
		return fmt.Sprintf("%dk", n/1_000)
	}
	return strconv.FormatInt(n, 10)
}
