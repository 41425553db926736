package clock

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone database for minimal container images
)

// DefaultZone is the warehouse's wall-clock zone.
const DefaultZone = "Asia/Jakarta"

// Clock allows injecting time in services.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
	loc *time.Location
}

// NewSystem returns a clock backed by time.Now, reporting wall-clock time in loc.
func NewSystem(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

type fixedClock struct {
	now time.Time
}

// NewFixed returns a clock that always returns the same instant (useful for tests).
func NewFixed(t time.Time) Clock {
	return fixedClock{now: t}
}

func (f fixedClock) Now() time.Time {
	return f.now
}

// Stamp formats the clock's current time the way records store it:
// RFC 3339 with the zone offset, e.g. 2024-05-01T09:30:00+07:00.
func Stamp(c Clock) string {
	return c.Now().Format(time.RFC3339)
}

// Zone resolves a zone name, falling back to UTC for an empty name.
func Zone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}
	return loc, nil
}
