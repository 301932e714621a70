package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

type window struct {
	suffix string
	span   time.Duration
	limit  int
}

// Limiter throttles chat replies with two fixed windows, a short burst
// window and a per-minute one. A zero limit disables that window.
type Limiter struct {
	store   WindowStore
	windows []window
}

func NewReplyLimiter(store WindowStore, perMinute, per10Sec int) *Limiter {
	var windows []window
	if per10Sec > 0 {
		windows = append(windows, window{suffix: "10s", span: 10 * time.Second, limit: per10Sec})
	}
	if perMinute > 0 {
		windows = append(windows, window{suffix: "min", span: time.Minute, limit: perMinute})
	}
	return &Limiter{store: store, windows: windows}
}

// AllowReply consumes one slot in every window. When any window is over its
// limit the reply is denied and the longest remaining TTL is returned as the
// retry-after hint, in seconds.
func (l *Limiter) AllowReply(ctx context.Context, userID int64) (int64, bool, error) {
	if userID <= 0 {
		return 0, false, fmt.Errorf("invalid user id")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("window store is nil")
	}

	var retryAfter int64
	for _, w := range l.windows {
		count, ttl, err := l.store.IncrementWindow(ctx, replyKey(w.suffix, userID), w.span)
		if err != nil {
			return 0, false, err
		}
		if count > int64(w.limit) && ceilSeconds(ttl) > retryAfter {
			retryAfter = ceilSeconds(ttl)
		}
	}

	if retryAfter > 0 {
		return retryAfter, false, nil
	}
	return 0, true, nil
}

// RetryAfterReply reports the current wait without consuming a slot.
func (l *Limiter) RetryAfterReply(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("invalid user id")
	}
	if l.store == nil {
		return 0, fmt.Errorf("window store is nil")
	}

	var retryAfter int64
	for _, w := range l.windows {
		count, ttl, err := l.store.WindowState(ctx, replyKey(w.suffix, userID))
		if err != nil {
			return 0, err
		}
		if count >= int64(w.limit) && ceilSeconds(ttl) > retryAfter {
			retryAfter = ceilSeconds(ttl)
		}
	}
	return retryAfter, nil
}

func replyKey(suffix string, userID int64) string {
	return "rate:replies:" + suffix + ":" + strconv.FormatInt(userID, 10)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
