package engine

import (
	"time"
)

// =============================================================================
// DATE - Day-granularity time point
// =============================================================================
// Every business time in this system is a posting date: a calendar day with
// no meaningful intra-day component. Date normalizes to midnight UTC so
// comparisons and day arithmetic never trip over time zones or clock skew.

type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return d.Before(other) || d.Equal(other) }
func (d Date) AfterOrEqual(other Date) bool  { return d.After(other) || d.Equal(other) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return DateOf(d.Time.AddDate(0, 0, n)) }
func (d Date) AddMonths(n int) Date { return DateOf(d.Time.AddDate(0, n, 0)) }
func (d Date) AddYears(n int) Date  { return DateOf(d.Time.AddDate(n, 0, 0)) }

// Properties
func (d Date) Year() int      { return d.Time.Year() }
func (d Date) DayOfYear() int { return d.Time.YearDay() }
func (d Date) IsZero() bool   { return d.Time.IsZero() }

func (d Date) String() string { return d.Time.Format("2006-01-02") }

// DaysBetween returns the whole-day distance from one date to another.
// Negative when 'to' precedes 'from'.
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }

// =============================================================================
// CLOCK - Injectable current time
// =============================================================================
// Batch entry points take a Clock instead of calling time.Now so tests can
// pin "today" and replay multi-day schedules deterministically.

type Clock interface {
	Now() time.Time
	Today() Date
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
func (SystemClock) Today() Date    { return DateOf(time.Now()) }

// FixedClock always reports the same instant. Test helper.
type FixedClock struct {
	Instant time.Time
}

func NewFixedClock(year int, month time.Month, day int) *FixedClock {
	return &FixedClock{Instant: time.Date(year, month, day, 12, 0, 0, 0, time.UTC)}
}

func (c *FixedClock) Now() time.Time { return c.Instant }
func (c *FixedClock) Today() Date    { return DateOf(c.Instant) }

// Advance moves the clock forward, for simulating successive job runs.
func (c *FixedClock) Advance(d time.Duration) { c.Instant = c.Instant.Add(d) }
func (c *FixedClock) AdvanceDays(n int)       { c.Instant = c.Instant.AddDate(0, 0, n) }
