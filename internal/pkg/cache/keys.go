package cache

// Redis key formats.
const (
	// KeySelection is a hash of user id -> chosen chip amount per chat.
	KeySelection = "selection:%d"
	// KeyRateLimit counts a user's actions within the current window.
	KeyRateLimit = "ratelimit:%d:%s"
)

// ActionStake is the rate-limit bucket for stake commands and callbacks.
const ActionStake = "stake"
