package handler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"telegram-wager-bot/internal/model"
)

func TestFormatLedger(t *testing.T) {
	round := int64(42)
	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	out := FormatLedger([]*model.Transaction{
		{Type: model.TxTypeWin, Amount: 3600, RoundID: &round, CreatedAt: at},
		{Type: model.TxTypeStake, Amount: -100, RoundID: &round, CreatedAt: at},
		{Type: "refund", Amount: 5, CreatedAt: at},
	})

	lines := strings.Split(out, "\n")
	assert.Equal(t, "10-19 08:30 中奖 #42 +3600", lines[2])
	assert.Equal(t, "10-19 08:30 下注 #42 -100", lines[3])
	assert.Equal(t, "10-19 08:30 refund +5", lines[4])
}

func TestFormatStats(t *testing.T) {
	out := FormatStats(&model.UserStats{DayWon: 10, WeekLost: 5, TotalPoints: 300})
	assert.Contains(t, out, "今日: 赢 10 | 输 0 | 注 0 | 积分 0")
	assert.Contains(t, out, "本周: 赢 0 | 输 5")
	assert.Contains(t, out, "积分 300")
}
