// Package calendar isolates every zone-aware date computation the booking
// engine needs, so no other package ever reasons about UTC offsets itself.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultZone is the civil zone midwife templates are written in.
const DefaultZone = "Europe/London"

var ErrInvalidClockTime = errors.New("invalid clock time")

// CivilDate is a calendar date in the clock's zone.
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

// CivilParts is the full calendar representation of an instant in the
// clock's zone.
type CivilParts struct {
	Year    int
	Month   time.Month
	Day     int
	Hour    int
	Minute  int
	Weekday time.Weekday
}

func (p CivilParts) Date() CivilDate {
	return CivilDate{Year: p.Year, Month: p.Month, Day: p.Day}
}

// Clock performs conversions between absolute instants and civil wall-clock
// time in one fixed IANA zone.
type Clock struct {
	loc *time.Location
}

func NewClock(zone string) (*Clock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load civil zone %q: %w", zone, err)
	}
	return &Clock{loc: loc}, nil
}

func (c *Clock) Zone() string { return c.loc.String() }

// Parts formats an absolute instant as its calendar representation in the
// clock's zone.
func (c *Clock) Parts(t time.Time) CivilParts {
	local := t.In(c.loc)
	return CivilParts{
		Year:    local.Year(),
		Month:   local.Month(),
		Day:     local.Day(),
		Hour:    local.Hour(),
		Minute:  local.Minute(),
		Weekday: local.Weekday(),
	}
}

// Instant converts civil date/time parts in the clock's zone to an absolute
// instant. It builds a provisional UTC instant from the raw parts, measures
// the zone's UTC offset at that provisional instant, and subtracts it. The
// offset is evaluated per call, never cached, so daylight-saving transitions
// resolve correctly without a fixed offset table.
func (c *Clock) Instant(year int, month time.Month, day, hour, minute int) time.Time {
	provisional := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	_, offset := provisional.In(c.loc).Zone()
	return provisional.Add(-time.Duration(offset) * time.Second)
}

// DayBounds returns civil midnight of the instant's day and civil midnight of
// the following day, both as absolute instants.
func (c *Clock) DayBounds(t time.Time) (time.Time, time.Time) {
	d := c.Parts(t).Date()
	next := c.AddCivilDays(d, 1)
	start := c.Instant(d.Year, d.Month, d.Day, 0, 0)
	end := c.Instant(next.Year, next.Month, next.Day, 0, 0)
	return start, end
}

// AddCivilDays advances a civil date by n calendar days. The date is anchored
// at midday before adding whole days, which keeps the result stable across
// daylight-saving transitions at the day boundary.
func (c *Clock) AddCivilDays(d CivilDate, n int) CivilDate {
	base := c.Instant(d.Year, d.Month, d.Day, 12, 0)
	probe := base.Add(time.Duration(n) * 24 * time.Hour)
	return c.Parts(probe).Date()
}

// WeekdayOf reports the weekday of a civil date, probed at midday to stay
// clear of any transition at the day boundary itself.
func (c *Clock) WeekdayOf(d CivilDate) time.Weekday {
	return c.Parts(c.Instant(d.Year, d.Month, d.Day, 12, 0)).Weekday
}

// CompareCivilDays orders two civil dates lexicographically on
// (year, month, day). Day iteration terminates on this comparison rather
// than on instant subtraction, which can misjudge day counts near a
// daylight-saving transition.
func CompareCivilDays(a, b CivilDate) int {
	switch {
	case a.Year != b.Year:
		return sign(a.Year - b.Year)
	case a.Month != b.Month:
		return sign(int(a.Month) - int(b.Month))
	default:
		return sign(a.Day - b.Day)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// ParseClockTime parses an "HH:MM" wall-clock string into minutes since
// midnight. Malformed or out-of-range input is rejected, never coerced.
func ParseClockTime(s string) (int, error) {
	hourStr, minuteStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, s)
	}
	return hour*60 + minute, nil
}
