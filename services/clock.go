package services

import "time"

// Clock abstracts time so day-boundary logic can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Calendar turns instants into calendar days in a fixed location.
type Calendar struct {
	Loc *time.Location
}

func (c Calendar) loc() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

// DayStart truncates t to midnight in the calendar's location.
func (c Calendar) DayStart(t time.Time) time.Time {
	t = t.In(c.loc())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc())
}

// DayBounds returns the first and last instant of t's day.
func (c Calendar) DayBounds(t time.Time) (time.Time, time.Time) {
	start := c.DayStart(t)
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// DayKey formats t's calendar day as YYYY-MM-DD.
func (c Calendar) DayKey(t time.Time) string {
	return c.DayStart(t).Format("2006-01-02")
}

// DaysBetween counts whole calendar days from a to b (b later gives a positive result).
func (c Calendar) DaysBetween(a, b time.Time) int {
	da, db := c.DayStart(a), c.DayStart(b)
	// Compare as UTC dates so DST shifts never produce fractional days.
	ua := time.Date(da.Year(), da.Month(), da.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(db.Year(), db.Month(), db.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
