// Package calendar provides business-day session calendars used to align
// panel data and to translate trailing-window lookbacks into concrete dates.
package calendar

import (
	"fmt"
	"time"
)

// Calendar is an ordered set of business-day sessions.
// Sessions are normalized to midnight UTC and strictly increasing.
type Calendar struct {
	sessions []time.Time
	index    map[time.Time]int
}

// Normalize truncates t to midnight UTC.
func Normalize(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewWeekday builds a calendar containing every Monday-Friday session
// between first and last, inclusive.
func NewWeekday(first, last time.Time) *Calendar {
	first = Normalize(first)
	last = Normalize(last)

	sessions := make([]time.Time, 0, int(last.Sub(first).Hours()/24)+1)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		sessions = append(sessions, d)
	}
	return New(sessions)
}

// New builds a calendar from an explicit, strictly increasing session list.
// The sessions are normalized to midnight UTC.
func New(sessions []time.Time) *Calendar {
	c := &Calendar{
		sessions: make([]time.Time, len(sessions)),
		index:    make(map[time.Time]int, len(sessions)),
	}
	for i, s := range sessions {
		s = Normalize(s)
		c.sessions[i] = s
		c.index[s] = i
	}
	return c
}

// Sessions returns all sessions in the calendar.
func (c *Calendar) Sessions() []time.Time {
	return c.sessions
}

// Len returns the number of sessions in the calendar.
func (c *Calendar) Len() int {
	return len(c.sessions)
}

// Index returns the position of the session t, or an error if t is not a
// session of this calendar.
func (c *Calendar) Index(t time.Time) (int, error) {
	i, ok := c.index[Normalize(t)]
	if !ok {
		return 0, fmt.Errorf("%s is not a session of this calendar", Normalize(t).Format("2006-01-02"))
	}
	return i, nil
}

// SessionsBetween returns the sessions in [start, end], inclusive.
// Both endpoints must be sessions of the calendar.
func (c *Calendar) SessionsBetween(start, end time.Time) ([]time.Time, error) {
	i, err := c.Index(start)
	if err != nil {
		return nil, err
	}
	j, err := c.Index(end)
	if err != nil {
		return nil, err
	}
	if j < i {
		return nil, fmt.Errorf("end session %s precedes start session %s",
			Normalize(end).Format("2006-01-02"), Normalize(start).Format("2006-01-02"))
	}
	return c.sessions[i : j+1], nil
}

// WindowBefore returns the sessions in [start, end] extended backwards by
// extra additional sessions. It fails when the calendar does not carry
// enough history before start to satisfy the lookback.
func (c *Calendar) WindowBefore(start, end time.Time, extra int) ([]time.Time, error) {
	if extra < 0 {
		return nil, fmt.Errorf("extra sessions must be non-negative, got %d", extra)
	}
	i, err := c.Index(start)
	if err != nil {
		return nil, err
	}
	j, err := c.Index(end)
	if err != nil {
		return nil, err
	}
	if j < i {
		return nil, fmt.Errorf("end session %s precedes start session %s",
			Normalize(end).Format("2006-01-02"), Normalize(start).Format("2006-01-02"))
	}
	if i-extra < 0 {
		return nil, fmt.Errorf(
			"window of %d extra sessions before %s exceeds calendar history (%d sessions available)",
			extra, Normalize(start).Format("2006-01-02"), i)
	}
	return c.sessions[i-extra : j+1], nil
}
