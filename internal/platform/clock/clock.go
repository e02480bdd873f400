package clock

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Clock supplies the current instant. Scheduling code never calls
// time.Now directly so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock and reports it in Location.
type RealClock struct {
	Location *time.Location
}

func (c RealClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// FakeClock is deterministic and safe for concurrent use.
type FakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{t: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var offsetPattern = regexp.MustCompile(`^(?:UTC)?([+-])(\d{2}):?(\d{2})$`)

// ParseLocation accepts an IANA zone name ("Asia/Taipei") or a fixed UTC
// offset ("+08:00", "UTC+0800"). Fixed offsets do not observe daylight
// saving.
func ParseLocation(s string) (*time.Location, error) {
	if s == "" || s == "UTC" || s == "Z" {
		return time.UTC, nil
	}
	if m := offsetPattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[2])
		mm, _ := strconv.Atoi(m[3])
		if h > 14 || mm > 59 {
			return nil, fmt.Errorf("offset out of range: %q", s)
		}
		secs := h*3600 + mm*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone("UTC"+m[1]+m[2]+":"+m[3], secs), nil
	}
	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", s, err)
	}
	return loc, nil
}
