package limiter

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// Bucket describes a token bucket holding at most Capacity tokens and
// producing TokensPerInterval tokens every Interval.
type Bucket struct {
	Capacity          int           `yaml:"capacity" json:"capacity" toml:"capacity"`
	TokensPerInterval int           `yaml:"tokens_per_interval" json:"tokens_per_interval" toml:"tokens_per_interval"`
	Interval          time.Duration `yaml:"interval" json:"interval" toml:"interval"`
}

// Validate checks that every bucket parameter is positive.
func (b Bucket) Validate() error {
	if b.Capacity <= 0 {
		return fmt.Errorf("%w: capacity %d must be positive", ErrInvalidBucket, b.Capacity)
	}
	if b.TokensPerInterval <= 0 {
		return fmt.Errorf("%w: tokens per interval %d must be positive", ErrInvalidBucket, b.TokensPerInterval)
	}
	if b.Interval <= 0 {
		return fmt.Errorf("%w: interval %s must be positive", ErrInvalidBucket, b.Interval)
	}
	return nil
}

// TokenInterval is the time needed to produce one token, rounded up.
func (b Bucket) TokenInterval() time.Duration {
	n := int64(b.TokensPerInterval)
	return time.Duration((int64(b.Interval) + n - 1) / n)
}

// fillDuration is the idle time after which an empty bucket is full again,
// saturating at the largest Duration.
func (b Bucket) fillDuration() time.Duration {
	return time.Duration(mulDiv(int64(b.Interval), int64(b.Capacity), int64(b.TokensPerInterval), true))
}

// mulDiv returns a*b/c for non-negative a, b and positive c, rounded down or
// up, computed in 128 bits and saturated at math.MaxInt64.
func mulDiv(a, b, c int64, roundUp bool) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return math.MaxInt64
	}
	q, r := bits.Div64(hi, lo, uint64(c))
	if roundUp && r > 0 {
		q++
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

// bucketState is the mutable part of a bucket. It is not safe for concurrent use.
type bucketState struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

func newBucketState(b Bucket, now time.Time) bucketState {
	return bucketState{
		tokens:     b.Capacity,
		lastRefill: now,
		lastSeen:   now,
	}
}

// refill adds floor(elapsed / interval * tokensPerInterval) tokens, capped at capacity.
// lastRefill only moves when at least one token was added; it advances by the time
// converted into tokens so fractional progress carries over to the next call.
func (s *bucketState) refill(b Bucket, now time.Time) {
	elapsed := now.Sub(s.lastRefill)
	if elapsed <= 0 {
		return
	}
	if elapsed >= b.fillDuration() {
		s.tokens = b.Capacity
		s.lastRefill = now
		return
	}

	added := int(mulDiv(int64(elapsed), int64(b.TokensPerInterval), int64(b.Interval), false))
	if added <= 0 {
		return
	}
	if s.tokens+added >= b.Capacity {
		s.tokens = b.Capacity
		s.lastRefill = now
		return
	}
	s.tokens += added
	s.lastRefill = s.lastRefill.Add(time.Duration(mulDiv(int64(added), int64(b.Interval), int64(b.TokensPerInterval), false)))
}

// take refills and consumes one token if available.
func (s *bucketState) take(b Bucket, now time.Time) bool {
	s.lastSeen = now
	s.refill(b, now)
	if s.tokens > 0 {
		s.tokens--
		return true
	}
	return false
}

// nextTokenIn returns how long until refill will add the next token.
func (s *bucketState) nextTokenIn(b Bucket, now time.Time) time.Duration {
	if s.tokens >= b.Capacity {
		return 0
	}
	wait := b.TokenInterval() - now.Sub(s.lastRefill)
	if wait < 0 {
		return 0
	}
	return wait
}
