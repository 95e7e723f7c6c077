package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-wager-bot/internal/config"
	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/service"
)

const maxRepeatRounds = 100

// SelectionStore keeps the chip amount each user picked on a chat's panel.
type SelectionStore interface {
	Set(ctx context.Context, chatID, userID, amount int64) error
	Get(ctx context.Context, chatID, userID int64) (amount int64, ok bool, err error)
}

// RoundHandler handles staking and round commands in group chats.
type RoundHandler struct {
	cfg        *config.Config
	registry   *game.Registry
	accounts   *service.AccountService
	rounds     *service.RoundService
	stakes     *service.StakeService
	selections SelectionStore
}

// NewRoundHandler creates a new RoundHandler. selections may be nil, in
// which case panel taps use the user's last stake amount.
func NewRoundHandler(
	cfg *config.Config,
	registry *game.Registry,
	accounts *service.AccountService,
	rounds *service.RoundService,
	stakes *service.StakeService,
	selections SelectionStore,
) *RoundHandler {
	return &RoundHandler{
		cfg:        cfg,
		registry:   registry,
		accounts:   accounts,
		rounds:     rounds,
		stakes:     stakes,
		selections: selections,
	}
}

// groupContext ensures the sender's account and the chat exist.
// ok is false when the update is not from a group chat.
func (h *RoundHandler) groupContext(ctx context.Context, c tele.Context) (userID, chatID int64, ok bool, err error) {
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil || chat.Type == tele.ChatPrivate {
		return 0, 0, false, nil
	}
	if _, _, err := h.accounts.EnsureUser(ctx, sender.ID, senderName(sender)); err != nil {
		return 0, 0, false, err
	}
	if _, err := h.rounds.EnsureChat(ctx, chat.ID, 0); err != nil {
		return 0, 0, false, err
	}
	return sender.ID, chat.ID, true, nil
}

// HandleBet handles /bet <amount> <token...>.
func (h *RoundHandler) HandleBet(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 2 {
		return c.Reply("❌ 用法: /bet <金额> <选项...>\n例如: /bet 1k red 7\n金额支持 k/w/m 后缀和 max")
	}

	userID, chatID, ok, err := h.groupContext(ctx, c)
	if err != nil {
		return h.replyFailure(c, err)
	}
	if !ok {
		return c.Reply("❌ 请在群组中下注")
	}

	ps, err := h.stakes.Accept(ctx, service.StakeRequest{
		UserID:    userID,
		ChatID:    chatID,
		RawAmount: args[0],
		Tokens:    strings.Join(args[1:], " "),
		Repeat:    1,
	})
	return h.replyPlacements(c, ps, err)
}

// HandleRepeat handles /repeat [rounds].
func (h *RoundHandler) HandleRepeat(c tele.Context) error {
	ctx := context.Background()
	rounds := 1
	if args := c.Args(); len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > maxRepeatRounds {
			return c.Reply(fmt.Sprintf("❌ 局数须在 1-%d 之间", maxRepeatRounds))
		}
		rounds = n
	}

	userID, chatID, ok, err := h.groupContext(ctx, c)
	if err != nil {
		return h.replyFailure(c, err)
	}
	if !ok {
		return c.Reply("❌ 请在群组中下注")
	}

	ps, err := h.stakes.RepeatLast(ctx, userID, chatID, rounds)
	return h.replyPlacements(c, ps, err)
}

// HandleAuto handles /auto <amount> <token> <rounds> and /auto off.
func (h *RoundHandler) HandleAuto(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()

	userID, chatID, ok, err := h.groupContext(ctx, c)
	if err != nil {
		return h.replyFailure(c, err)
	}
	if !ok {
		return c.Reply("❌ 请在群组中下注")
	}

	if len(args) == 1 && strings.EqualFold(args[0], "off") {
		n, err := h.stakes.CancelAuto(ctx, userID, chatID)
		if err != nil {
			return h.replyFailure(c, err)
		}
		return c.Reply(fmt.Sprintf("🛑 已取消 %d 项自动下注", n))
	}
	if len(args) != 3 {
		return c.Reply("❌ 用法: /auto <金额> <选项> <局数>\n取消: /auto off")
	}
	rounds, err := strconv.Atoi(args[2])
	if err != nil || rounds < 2 || rounds > maxRepeatRounds {
		return c.Reply(fmt.Sprintf("❌ 局数须在 2-%d 之间", maxRepeatRounds))
	}

	ps, err := h.stakes.Accept(ctx, service.StakeRequest{
		UserID:    userID,
		ChatID:    chatID,
		RawAmount: args[0],
		Tokens:    args[1],
		Repeat:    rounds,
	})
	return h.replyPlacements(c, ps, err)
}

// HandleRound shows the current round with its betting panel.
func (h *RoundHandler) HandleRound(c tele.Context) error {
	ctx := context.Background()
	_, chatID, ok, err := h.groupContext(ctx, c)
	if err != nil {
		return h.replyFailure(c, err)
	}
	if !ok {
		return c.Reply("❌ 请在群组中使用")
	}

	round, err := h.rounds.CreateOrGet(ctx, chatID)
	if err != nil {
		return h.replyFailure(c, err)
	}
	v, err := h.rounds.Variant(round)
	if err != nil {
		return h.replyFailure(c, err)
	}

	remaining := ""
	if d, ok := round.Remaining(time.Now()); ok {
		if d < 0 {
			d = 0
		}
		remaining = d.Truncate(time.Second).String()
	}
	return c.Send(service.FormatRound(round, v, remaining), BuildPanel(v))
}

// HandleHistory lists recently settled rounds with their fairness reveal.
func (h *RoundHandler) HandleHistory(c tele.Context) error {
	ctx := context.Background()
	chat := c.Chat()
	if chat == nil {
		return nil
	}

	rounds, err := h.rounds.History(ctx, chat.ID, 10)
	if err != nil {
		return h.replyFailure(c, err)
	}
	if len(rounds) == 0 {
		return c.Reply("暂无历史记录")
	}
	return c.Reply("📜 最近开奖\n" + service.FormatHistory(rounds))
}

// HandleGame handles /game [variant]: lists variants or requests a switch.
func (h *RoundHandler) HandleGame(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) == 0 {
		var b strings.Builder
		b.WriteString("🎮 可用游戏:\n")
		for _, tag := range h.registry.Tags() {
			v, _ := h.registry.Get(tag)
			fmt.Fprintf(&b, "• %s (%s)\n", tag, v.Name())
		}
		b.WriteString("用法: /game <游戏>")
		return c.Reply(b.String())
	}

	_, chatID, ok, err := h.groupContext(ctx, c)
	if err != nil {
		return h.replyFailure(c, err)
	}
	if !ok {
		return c.Reply("❌ 请在群组中使用")
	}

	tag := strings.ToLower(args[0])
	v, err := h.registry.Lookup(tag)
	if err != nil {
		return c.Reply("❌ 未知游戏: " + args[0])
	}
	applied, err := h.rounds.RequestVariantSwitch(ctx, chatID, tag)
	if err != nil {
		return h.replyFailure(c, err)
	}
	if applied {
		return c.Reply(fmt.Sprintf("✅ 已切换为 %s", v.Name()))
	}
	return c.Reply(fmt.Sprintf("⏳ 本局结束后切换为 %s", v.Name()))
}

// HandleTimer handles /timer <seconds>.
func (h *RoundHandler) HandleTimer(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) != 1 {
		return c.Reply(fmt.Sprintf("❌ 用法: /timer <秒数> (%d-%d)", service.MinTimerSeconds, service.MaxTimerSeconds))
	}
	seconds, err := strconv.Atoi(args[0])
	if err != nil {
		return c.Reply("❌ " + service.RejectReason(service.ErrInvalidTimer))
	}

	_, chatID, ok, err := h.groupContext(ctx, c)
	if err != nil {
		return h.replyFailure(c, err)
	}
	if !ok {
		return c.Reply("❌ 请在群组中使用")
	}

	if err := h.rounds.SetTimer(ctx, chatID, seconds); err != nil {
		return h.replyFailure(c, err)
	}
	return c.Reply(fmt.Sprintf("✅ 下一局起每局 %d 秒", seconds))
}

// HandleOwner handles /owner <tier> in reply to the new owner's message,
// or /owner <user_id> <tier>.
func (h *RoundHandler) HandleOwner(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	chat := c.Chat()
	if chat == nil || chat.Type == tele.ChatPrivate {
		return c.Reply("❌ 请在群组中使用")
	}

	var (
		ownerID int64
		tier    string
	)
	switch {
	case len(args) == 1 && c.Message() != nil && c.Message().ReplyTo != nil && c.Message().ReplyTo.Sender != nil:
		ownerID, tier = c.Message().ReplyTo.Sender.ID, args[0]
	case len(args) == 2:
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Reply("❌ 无效的用户ID")
		}
		ownerID, tier = id, args[1]
	default:
		return c.Reply("❌ 用法: 回复群主消息 /owner <等级>，或 /owner <用户ID> <等级>")
	}

	if err := h.rounds.SetOwner(ctx, chat.ID, ownerID, tier); err != nil {
		return h.replyFailure(c, err)
	}
	return c.Reply(fmt.Sprintf("✅ 群主已设置为 %d (%s, 分成 %g%%)", ownerID, tier, h.cfg.RevenuePercent(tier)))
}

// HandleCallback handles taps on the round panel.
func (h *RoundHandler) HandleCallback(c tele.Context) error {
	ctx := context.Background()
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	action, param := DecodeCallback(callback.Data)
	switch action {
	case CallbackChip:
		return h.handleChip(ctx, c, param)
	case CallbackToken:
		return h.handleToken(ctx, c, param)
	}
	return c.Respond(&tele.CallbackResponse{Text: "❌ 无效操作"})
}

func (h *RoundHandler) handleChip(ctx context.Context, c tele.Context, param string) error {
	amount, err := strconv.ParseInt(param, 10, 64)
	if err != nil || amount <= 0 {
		return c.Respond(&tele.CallbackResponse{Text: "❌ 无效操作"})
	}
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil {
		return nil
	}
	if h.selections == nil {
		return c.Respond(&tele.CallbackResponse{Text: "❌ 筹码选择暂不可用"})
	}
	if err := h.selections.Set(ctx, chat.ID, sender.ID, amount); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to store chip selection")
		return c.Respond(&tele.CallbackResponse{Text: "❌ 操作失败"})
	}
	return c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("💰 已选择筹码 %d", amount)})
}

func (h *RoundHandler) handleToken(ctx context.Context, c tele.Context, token string) error {
	userID, chatID, ok, err := h.groupContext(ctx, c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prepare panel stake")
		return c.Respond(&tele.CallbackResponse{Text: "❌ 操作失败", ShowAlert: true})
	}
	if !ok {
		return nil
	}

	amount := h.cfg.Rounds.MinStake
	if user, err := h.accounts.GetUser(ctx, userID); err == nil && user.LastStakeAmount > 0 {
		amount = user.LastStakeAmount
	}
	if h.selections != nil {
		if chip, found, err := h.selections.Get(ctx, chatID, userID); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to read chip selection")
		} else if found {
			amount = chip
		}
	}

	ps, err := h.stakes.Accept(ctx, service.StakeRequest{
		UserID:    userID,
		ChatID:    chatID,
		RawAmount: strconv.FormatInt(amount, 10),
		Tokens:    token,
		Repeat:    1,
	})
	if err != nil {
		text := "❌ " + service.RejectReason(err)
		if !service.IsValidation(err) {
			log.Error().Err(err).Int64("user_id", userID).Str("token", token).Msg("Panel stake failed")
		}
		return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
	}
	p := ps[0]
	return c.Respond(&tele.CallbackResponse{
		Text: fmt.Sprintf("✅ 已下注 %s: %d (共 %d)", TokenLabel(p.Token), p.Amount, p.Total),
	})
}

func (h *RoundHandler) replyPlacements(c tele.Context, ps []service.Placement, err error) error {
	if err != nil && !service.IsValidation(err) {
		return h.replyFailure(c, err)
	}
	if len(ps) > 0 {
		return c.Reply(service.FormatPlacements(ps))
	}
	return c.Reply("❌ " + service.RejectReason(err))
}

func (h *RoundHandler) replyFailure(c tele.Context, err error) error {
	if service.IsValidation(err) {
		return c.Reply("❌ " + service.RejectReason(err))
	}
	log.Error().Err(err).Str("command", c.Text()).Msg("Command failed")
	return c.Reply("❌ 操作失败，请稍后重试")
}

func senderName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}
