// Package caltime defines the operating timezone of the dispatch engine.
//
// Calendar days (the daily quota boundary, schedule dates) are computed in a
// single fixed UTC offset taken from configuration, never from the host's
// local zone, so the same deployment behaves identically in every region.
package caltime

import (
	"fmt"
	"sync"
	"time"
)

// DateLayout is the calendar date format used in run state and schedules.
const DateLayout = "2006-01-02"

// DefaultOffsetMinutes is UTC+05:30.
const DefaultOffsetMinutes = 330

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Zone converts instants to calendar dates in a fixed offset.
type Zone struct {
	loc   *time.Location
	clock Clock
}

// NewZone creates a zone with the given UTC offset in minutes. A nil clock
// uses the system clock.
func NewZone(offsetMinutes int, clock Clock) *Zone {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Zone{
		loc:   time.FixedZone(offsetName(offsetMinutes), offsetMinutes*60),
		clock: clock,
	}
}

func offsetName(minutes int) string {
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, minutes/60, minutes%60)
}

// Location returns the fixed-offset location.
func (z *Zone) Location() *time.Location { return z.loc }

// Now returns the current instant expressed in the zone.
func (z *Zone) Now() time.Time { return z.clock.Now().In(z.loc) }

// DateOf returns the calendar date of t in the zone.
func (z *Zone) DateOf(t time.Time) string { return t.In(z.loc).Format(DateLayout) }

// Today returns the current calendar date in the zone.
func (z *Zone) Today() string { return z.DateOf(z.clock.Now()) }

// DayBounds returns [start, end) of the calendar day containing t.
func (z *Zone) DayBounds(t time.Time) (time.Time, time.Time) {
	lt := t.In(z.loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, z.loc)
	return start, start.AddDate(0, 0, 1)
}

// At combines a calendar date (YYYY-MM-DD) and a time of day (HH:MM) into an
// instant in the zone.
func (z *Zone) At(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" 15:04", date+" "+clock, z.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %s: %w", date, clock, err)
	}
	return t, nil
}

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at t.
func NewManualClock(t time.Time) *ManualClock { return &ManualClock{now: t} }

// Now returns the frozen instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
