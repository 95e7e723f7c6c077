package sicbo

// Dice is a Sic Bo roll of three dice.
type Dice [3]int

// IsTriple checks if all three dice show the same value.
func IsTriple(dice Dice) bool {
	return dice[0] == dice[1] && dice[1] == dice[2]
}

// Sum returns the total of the three dice.
func Sum(dice Dice) int {
	return dice[0] + dice[1] + dice[2]
}

// MatchCount returns how many dice show number.
func MatchCount(number int, dice Dice) int {
	n := 0
	for _, d := range dice {
		if d == number {
			n++
		}
	}
	return n
}

// IsBig reports a big result: sum 11-17, triples excluded.
func IsBig(dice Dice) bool {
	if IsTriple(dice) {
		return false
	}
	s := Sum(dice)
	return s >= 11 && s <= 17
}

// IsSmall reports a small result: sum 4-10, triples excluded.
func IsSmall(dice Dice) bool {
	if IsTriple(dice) {
		return false
	}
	s := Sum(dice)
	return s >= 4 && s <= 10
}

// ValidateDice checks if all dice values are valid (1-6).
func ValidateDice(dice Dice) bool {
	for _, d := range dice {
		if d < 1 || d > 6 {
			return false
		}
	}
	return true
}
