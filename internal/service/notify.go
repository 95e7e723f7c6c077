package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/model"
)

// Notifier delivers chat messages. Implementations should return quickly;
// delivery failures are logged by callers and never abort settlement.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error
}

// Renderer produces an illustrative attachment for an outcome.
type Renderer interface {
	ResultImage(variant string, o game.Outcome) (string, error)
}

// FormatReveal is the notice sent when a round stops taking stakes.
func FormatReveal(round *model.Round, v game.Variant) string {
	return fmt.Sprintf("🎬 %s 第 %d 局停止下注，正在开奖...", v.Name(), round.ID)
}

// FormatResult renders the settlement message with the fairness reveal.
func FormatResult(round *model.Round, v game.Variant, o game.Outcome, calc *Calculation, name func(int64) string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🎰 %s 第 %d 局结算\n", v.Name(), round.ID)
	b.WriteString("━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "结果: %s\n", o.String())
	b.WriteString("━━━━━━━━━━━━━━━\n")

	if len(calc.Users) == 0 {
		b.WriteString("本局无人下注\n")
	}
	for _, u := range calc.Users {
		fmt.Fprintf(&b, "%s %s %s\n", resultIcon(u.Net()), displayName(name(u.UserID), u.UserID), signed(u.Net()))
		for _, s := range u.Stakes {
			if s.Won {
				fmt.Fprintf(&b, "   ✅ %s %d x%g = %d\n", s.Stake.Token, s.Stake.Amount, s.Multiplier, s.Winnings)
			} else {
				fmt.Fprintf(&b, "   ❌ %s %d\n", s.Stake.Token, s.Stake.Amount)
			}
		}
	}

	b.WriteString("━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "🔐 哈希: %s\n", round.FairnessDigest)
	fmt.Fprintf(&b, "🔓 原文: %s", round.FairnessPlain)
	return b.String()
}

// FormatRound describes the open round of a chat.
func FormatRound(round *model.Round, v game.Variant, remaining string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎲 %s 第 %d 局 - 下注中\n", v.Name(), round.ID)
	if remaining == "" {
		b.WriteString("⏰ 等待首注开始计时\n")
	} else {
		fmt.Fprintf(&b, "⏰ 剩余 %s\n", remaining)
	}
	fmt.Fprintf(&b, "🔐 哈希: %s", round.FairnessDigest)
	return b.String()
}

// FormatHistory lists settled rounds with their revealed plaintext.
func FormatHistory(rounds []*model.Round) string {
	if len(rounds) == 0 {
		return "暂无历史记录"
	}
	var b strings.Builder
	b.WriteString("📜 最近开奖\n")
	for _, r := range rounds {
		income := int64(0)
		if r.HouseIncome != nil {
			income = *r.HouseIncome
		}
		fmt.Fprintf(&b, "#%d %s | %s\n", r.ID, r.FairnessPlain, signed(-income))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatPlacements summarizes the outcome of a stake request.
func FormatPlacements(placements []Placement) string {
	var b strings.Builder
	for _, p := range placements {
		if p.Err != nil {
			fmt.Fprintf(&b, "❌ %s: %s\n", p.Token, RejectReason(p.Err))
			continue
		}
		fmt.Fprintf(&b, "✅ %s +%d (共 %d)\n", p.Token, p.Amount, p.Total)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RejectReason maps a validation error to a user-facing message.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrStaleRound):
		return "本局已结束，请在新一局下注"
	case errors.Is(err, ErrInvalidRateToken):
		return "无效的下注选项"
	case errors.Is(err, ErrUnparsableAmount):
		return "无法识别的金额"
	case errors.Is(err, ErrBelowMinimum):
		return "金额低于最小下注"
	case errors.Is(err, ErrInsufficientFunds):
		return "余额不足"
	case errors.Is(err, ErrOpposingStake):
		return "不能同时押注对立选项"
	case errors.Is(err, ErrLimitExceeded):
		return "超出单项下注上限"
	case errors.Is(err, ErrRoundClosing):
		return "即将开奖，停止下注"
	case errors.Is(err, ErrBusy):
		return "操作过于频繁，请稍后再试"
	case errors.Is(err, ErrNothingToRepeat):
		return "没有可重复的下注"
	case errors.Is(err, ErrInvalidTimer):
		return "无效的计时设置"
	}
	return "操作失败，请稍后重试"
}

func resultIcon(net int64) string {
	switch {
	case net > 0:
		return "🎉"
	case net < 0:
		return "😢"
	}
	return "😐"
}

func signed(n int64) string {
	switch {
	case n > 0:
		return fmt.Sprintf("+%d", n)
	case n == 0:
		return "±0"
	}
	return fmt.Sprintf("%d", n)
}

func displayName(name string, userID int64) string {
	if name == "" {
		return fmt.Sprintf("%d", userID)
	}
	if !strings.HasPrefix(name, "@") {
		return "@" + name
	}
	return name
}
