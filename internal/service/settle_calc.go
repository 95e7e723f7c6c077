package service

import (
	"sort"

	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/model"
)

// StakeOutcome is the settled result of one stake row.
type StakeOutcome struct {
	Stake      *model.Stake
	Won        bool
	Multiplier float64
	Winnings   int64
}

// UserOutcome aggregates one user's stakes in a round.
type UserOutcome struct {
	UserID     int64
	Staked     int64
	Winnings   int64
	CleanWin   int64 // winnings minus the winning stakes
	CleanLoss  int64 // losing stakes
	StakeCount int64
	Points     int64
	Privileged bool
	Stakes     []StakeOutcome
}

// Net returns the user's result for the round.
func (u *UserOutcome) Net() int64 {
	return u.Winnings - u.Staked
}

// Calculation is the full payout computation of a round.
type Calculation struct {
	Stakes      []StakeOutcome
	Users       []*UserOutcome // ordered by user id
	HouseIncome int64
}

// Calculate prices every stake against the outcome. House income counts
// clean losses minus clean wins of non-privileged users. Leaderboard points
// equal the staked amount when the user's stakes pass the farming gate.
func Calculate(v game.Variant, o game.Outcome, stakes []*model.Stake, privileged map[int64]bool, gate game.PointsGate) *Calculation {
	calc := &Calculation{}
	byUser := make(map[int64]*UserOutcome)
	perToken := make(map[int64]map[string]int64)

	for _, s := range stakes {
		res := StakeOutcome{Stake: s}
		if v.IsWinning(o, s.Token) {
			res.Won = true
			res.Multiplier = v.Multiplier(s.Token, o, true)
			res.Winnings = game.WinningAmount(s.Amount, res.Multiplier)
		}
		calc.Stakes = append(calc.Stakes, res)

		u, ok := byUser[s.UserID]
		if !ok {
			u = &UserOutcome{UserID: s.UserID, Privileged: privileged[s.UserID]}
			byUser[s.UserID] = u
			perToken[s.UserID] = make(map[string]int64)
		}
		u.Staked += s.Amount
		u.StakeCount++
		u.Stakes = append(u.Stakes, res)
		perToken[s.UserID][s.Token] += s.Amount
		if res.Won {
			u.Winnings += res.Winnings
			u.CleanWin += res.Winnings - s.Amount
		} else {
			u.CleanLoss += s.Amount
		}
	}

	for id, u := range byUser {
		if game.EligibleForPoints(v, perToken[id], gate) {
			u.Points = u.Staked
		}
		if !u.Privileged {
			calc.HouseIncome += u.CleanLoss - u.CleanWin
		}
		calc.Users = append(calc.Users, u)
	}
	sort.Slice(calc.Users, func(i, j int) bool { return calc.Users[i].UserID < calc.Users[j].UserID })

	return calc
}

// Winners returns the users with positive winnings.
func (c *Calculation) Winners() []*UserOutcome {
	var out []*UserOutcome
	for _, u := range c.Users {
		if u.Winnings > 0 {
			out = append(out, u)
		}
	}
	return out
}
