// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-wager-bot/internal/model"
	"telegram-wager-bot/internal/service"
)

// AccountHandler handles account-related commands.
type AccountHandler struct {
	accountService *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// HandleStart handles the /start command.
// Creates a new account with the configured initial balance if the user doesn't exist.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	username := senderName(sender)
	user, created, err := h.accountService.EnsureUser(ctx, sender.ID, username)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to create account")
		return c.Reply("❌ 创建账户失败，请稍后重试")
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 欢迎 @%s！\n\n"+
				"您的账户已创建，初始金币: %d\n\n"+
				"可用命令:\n"+
				"/balance - 查看余额\n"+
				"/stats - 战绩统计\n"+
				"/round - 当前牌局\n"+
				"/bet <金额> <选项...> - 下注\n"+
				"/repeat [局数] - 重复上局下注\n"+
				"/auto <金额> <选项> <局数> - 自动下注\n"+
				"/history - 开奖记录",
			username, user.Balance,
		))
	}

	return c.Reply(fmt.Sprintf(
		"👋 欢迎回来 @%s！\n\n"+
			"当前余额: %d 金币",
		username, user.Balance,
	))
}

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, _, err := h.accountService.EnsureUser(ctx, sender.ID, senderName(sender))
	if err != nil {
		return c.Reply("❌ 获取余额失败，请稍后重试")
	}
	return c.Reply(fmt.Sprintf("💰 当前余额: %d 金币", user.Balance))
}

// HandleStats handles the /stats command.
func (h *AccountHandler) HandleStats(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	st, err := h.accountService.Stats(ctx, sender.ID)
	if err != nil {
		return c.Reply("❌ 获取统计失败，请稍后重试")
	}
	return c.Reply(FormatStats(st))
}

// HandleLedger handles the /ledger command: the user's recent balance changes.
func (h *AccountHandler) HandleLedger(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	txs, err := h.accountService.Transactions(ctx, sender.ID, 10)
	if err != nil {
		return c.Reply("❌ 获取流水失败，请稍后重试")
	}
	if len(txs) == 0 {
		return c.Reply("暂无流水记录")
	}
	return c.Reply(FormatLedger(txs))
}

// FormatStats renders a user's counters.
func FormatStats(st *model.UserStats) string {
	return fmt.Sprintf(
		"📊 战绩统计\n"+
			"━━━━━━━━━━━━━━━\n"+
			"今日: 赢 %d | 输 %d | 注 %d | 积分 %d\n"+
			"本周: 赢 %d | 输 %d | 注 %d | 积分 %d\n"+
			"累计: 赢 %d | 输 %d | 注 %d | 积分 %d\n"+
			"━━━━━━━━━━━━━━━",
		st.DayWon, st.DayLost, st.DayStakes, st.DayPoints,
		st.WeekWon, st.WeekLost, st.WeekStakes, st.WeekPoints,
		st.TotalWon, st.TotalLost, st.TotalStakes, st.TotalPoints,
	)
}

var txTypeLabels = map[string]string{
	model.TxTypeInitial:      "初始",
	model.TxTypeStake:        "下注",
	model.TxTypeWin:          "中奖",
	model.TxTypeOwnerRevenue: "分成",
}

// FormatLedger renders ledger entries, newest first.
func FormatLedger(txs []*model.Transaction) string {
	msg := "📒 最近流水\n━━━━━━━━━━━━━━━\n"
	for _, tx := range txs {
		label, ok := txTypeLabels[tx.Type]
		if !ok {
			label = tx.Type
		}
		sign := ""
		if tx.Amount > 0 {
			sign = "+"
		}
		round := ""
		if tx.RoundID != nil {
			round = fmt.Sprintf(" #%d", *tx.RoundID)
		}
		msg += fmt.Sprintf("%s %s%s %s%d\n", tx.CreatedAt.Format("01-02 15:04"), label, round, sign, tx.Amount)
	}
	return msg + "━━━━━━━━━━━━━━━"
}
