package core

import (
	"time"

	// Embedded zoneinfo so America/New_York resolves in slim containers
	_ "time/tzdata"
)

// Session is the regular trading window, weekdays only. Exchange holidays
// are not modelled; the broker simply returns no fills on those days.
type Session struct {
	Location *time.Location
	Open     time.Duration // since local midnight
	Close    time.Duration
}

// DefaultSession returns 09:30-16:00 America/New_York
func DefaultSession() Session {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	return Session{
		Location: loc,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
	}
}

// IsOpen reports whether t falls inside the session
func (s Session) IsOpen(t time.Time) bool {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h, m, sec := local.Clock()
	tod := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	return tod >= s.Open && tod < s.Close
}
