package codec

import (
	"sync/atomic"
	"time"
)

// DateClock caches the RFC 1123 Date header value, reformatting at most
// once per second. One instance is shared by every connection's encoder.
type DateClock struct {
	v atomic.Value // cached
}

type cached struct {
	sec int64
	s   string
}

var SharedDateClock = &DateClock{}

func (c *DateClock) Now() string {
	now := time.Now()
	if v, ok := c.v.Load().(cached); ok && v.sec == now.Unix() {
		return v.s
	}
	s := now.UTC().Format(time.RFC1123)
	// Format emits "UTC", the header grammar wants "GMT"
	s = s[:len(s)-3] + "GMT"
	c.v.Store(cached{now.Unix(), s})
	return s
}
