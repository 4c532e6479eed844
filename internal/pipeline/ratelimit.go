package pipeline

import (
	"sync"
	"time"
)

// LimitInfo describes a rate-limit hit, passed to the OnLimited callback.
type LimitInfo struct {
	// Remaining is how many sends are still allowed in the tighter of
	// the two windows (zero when limited).
	Remaining int

	// Reset is how long until the limited window admits another send.
	Reset time.Duration
}

// CheckResult is the outcome of one rate-limit check.
type CheckResult struct {
	Allowed bool

	// Reply is the optional throttle message produced by OnLimited,
	// typically sent back to the user.
	Reply string
}

// RateLimiter throttles inbound user sends: a sliding 60-second window
// plus a per-day counter that resets at the civil-day boundary.
type RateLimiter struct {
	maxPerMinute int
	maxPerDay    int
	onLimited    func(LimitInfo) string
	now          func() time.Time

	mu       sync.Mutex
	minute   []time.Time
	day      time.Time
	dayCount int
}

// RateLimiterConfig tunes a RateLimiter. Zero limits mean unlimited.
type RateLimiterConfig struct {
	MaxPerMinute int
	MaxPerDay    int

	// OnLimited produces the throttle reply. Optional.
	OnLimited func(LimitInfo) string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRateLimiter creates a limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		maxPerMinute: cfg.MaxPerMinute,
		maxPerDay:    cfg.MaxPerDay,
		onLimited:    cfg.OnLimited,
		now:          now,
	}
}

// Check records one send attempt. Disallowed attempts are not counted
// against either window.
func (rl *RateLimiter) Check() CheckResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evict(now)

	if rl.maxPerMinute > 0 && len(rl.minute) >= rl.maxPerMinute {
		reset := rl.minute[0].Add(time.Minute).Sub(now)
		return rl.limited(LimitInfo{Reset: reset})
	}
	if rl.maxPerDay > 0 && rl.dayCount >= rl.maxPerDay {
		y, m, d := now.Date()
		midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
		return rl.limited(LimitInfo{Reset: midnight.Sub(now)})
	}

	rl.minute = append(rl.minute, now)
	rl.dayCount++
	return CheckResult{Allowed: true}
}

func (rl *RateLimiter) limited(info LimitInfo) CheckResult {
	res := CheckResult{Allowed: false}
	if rl.onLimited != nil {
		res.Reply = rl.onLimited(info)
	}
	return res
}

// evict drops minute-window entries older than 60 s and rolls the day
// counter over at the civil-day boundary.
func (rl *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(rl.minute) && !rl.minute[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.minute = rl.minute[i:]
	}

	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if !today.Equal(rl.day) {
		rl.day = today
		rl.dayCount = 0
	}
}
