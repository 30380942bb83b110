// Package deadline computes business-calendar-aware SLA targets and the live
// risk and breach status derived from them. Everything here is pure: results
// depend only on the inputs and the configured calendar.
package deadline

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultWarningThreshold is the percentage of SLA used at which an open
// entity is reported at risk.
const DefaultWarningThreshold = 75.0

// maxWalkDays stops the business-day walk on calendars whose holidays leave
// no reachable business day.
const maxWalkDays = 3660

// ErrNoBusinessDay is returned when the walk cannot reach a business day.
var ErrNoBusinessDay = errors.New("no business day reachable within calendar")

// Target is the result of ComputeTarget.
type Target struct {
	SLAMinutes int       `json:"sla_minutes"`
	TargetAt   time.Time `json:"target_at"`
}

// Subject is the entity state Status needs.
type Subject struct {
	EntityType  string
	Priority    Priority
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Status is the derived deadline view of one entity at one instant.
type Status struct {
	TargetAt             time.Time `json:"target_at"`
	SLAMinutes           int       `json:"sla_minutes"`
	BusinessMinutesUsed  float64   `json:"business_minutes_used"`
	CalendarMinutesUsed  float64   `json:"calendar_minutes_used"`
	PercentageUsed       float64   `json:"percentage_used"`
	IsBreached           bool      `json:"is_breached"`
	IsAtRisk             bool      `json:"is_at_risk"`
	TimeRemainingMinutes float64   `json:"time_remaining_minutes"`
}

// Engine evaluates targets against one calendar and SLA table.
type Engine struct {
	cal      Calendar
	sla      SLATable
	warning  float64
	loc      *time.Location
	workdays map[time.Weekday]bool
	holidays map[string]bool
}

// NewEngine validates the calendar and builds an Engine. A zero
// warningThreshold selects DefaultWarningThreshold.
func NewEngine(cal Calendar, sla SLATable, warningThreshold float64) (*Engine, error) {
	if warningThreshold == 0 {
		warningThreshold = DefaultWarningThreshold
	}
	if warningThreshold < 0 || warningThreshold > 100 {
		return nil, fmt.Errorf("warning threshold %.1f outside (0,100]", warningThreshold)
	}
	if cal.BufferMinutes < 0 {
		return nil, fmt.Errorf("buffer minutes must not be negative")
	}
	if sla.Fallback <= 0 {
		return nil, fmt.Errorf("fallback SLA minutes must be positive")
	}

	e := &Engine{
		cal:      cal,
		sla:      sla,
		warning:  warningThreshold,
		loc:      cal.Location,
		workdays: make(map[time.Weekday]bool, len(cal.Workdays)),
		holidays: make(map[string]bool, len(cal.Holidays)),
	}
	if e.loc == nil {
		e.loc = time.UTC
	}

	if cal.BusinessHoursOnly {
		if len(cal.Workdays) == 0 {
			return nil, fmt.Errorf("business calendar needs at least one workday")
		}
		if cal.End.minutes() <= cal.Start.minutes() {
			return nil, fmt.Errorf("business hours end %s must be after start %s", cal.End, cal.Start)
		}
	}
	for _, d := range cal.Workdays {
		e.workdays[d] = true
	}
	for _, h := range cal.Holidays {
		if _, err := time.Parse(time.DateOnly, h); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		e.holidays[h] = true
	}
	return e, nil
}

// WarningThreshold returns the configured at-risk percentage.
func (e *Engine) WarningThreshold() float64 { return e.warning }

// ComputeTarget returns the SLA and target completion time for an entity
// created at createdAt.
func (e *Engine) ComputeTarget(entityType string, p Priority, createdAt time.Time) (Target, error) {
	sla := e.sla.Minutes(entityType, p)
	target := Target{SLAMinutes: sla}

	if !e.cal.BusinessHoursOnly {
		target.TargetAt = createdAt.Add(time.Duration(sla) * time.Minute)
		return target, nil
	}

	t := createdAt.In(e.loc).Add(time.Duration(e.cal.BufferMinutes) * time.Minute)
	remaining := time.Duration(sla) * time.Minute

	for i := 0; i < maxWalkDays; i++ {
		if !e.isBusinessDay(t) {
			t = e.nextDayStart(t)
			continue
		}
		start, end := e.window(t)
		if t.Before(start) {
			t = start
		}
		if !t.Before(end) {
			t = e.nextDayStart(t)
			continue
		}
		available := end.Sub(t)
		if remaining <= available {
			target.TargetAt = t.Add(remaining)
			return target, nil
		}
		remaining -= available
		t = e.nextDayStart(t)
	}
	return Target{}, ErrNoBusinessDay
}

// Status evaluates s at now.
func (e *Engine) Status(s Subject, now time.Time) (Status, error) {
	target, err := e.ComputeTarget(s.EntityType, s.Priority, s.CreatedAt)
	if err != nil {
		return Status{}, err
	}

	ref := now
	if s.CompletedAt != nil {
		ref = *s.CompletedAt
	}

	calendar := math.Max(ref.Sub(s.CreatedAt).Minutes(), 0)
	st := Status{
		TargetAt:             target.TargetAt,
		SLAMinutes:           target.SLAMinutes,
		CalendarMinutesUsed:  calendar,
		BusinessMinutesUsed:  e.BusinessMinutesBetween(s.CreatedAt, ref),
		TimeRemainingMinutes: target.TargetAt.Sub(ref).Minutes(),
	}
	if target.SLAMinutes > 0 {
		st.PercentageUsed = calendar / float64(target.SLAMinutes) * 100
	} else if calendar > 0 {
		st.PercentageUsed = 100
	}

	if s.CompletedAt != nil {
		st.IsBreached = s.CompletedAt.After(target.TargetAt)
	} else {
		st.IsBreached = now.After(target.TargetAt)
	}
	st.IsAtRisk = !st.IsBreached && st.PercentageUsed >= e.warning
	return st, nil
}

// BusinessMinutesBetween counts the minutes in [a, b) that fall inside
// business windows. With business hours disabled it is plain elapsed time.
func (e *Engine) BusinessMinutesBetween(a, b time.Time) float64 {
	if !b.After(a) {
		return 0
	}
	if !e.cal.BusinessHoursOnly {
		return b.Sub(a).Minutes()
	}

	var total time.Duration
	t := a.In(e.loc)
	for i := 0; i < maxWalkDays && t.Before(b); i++ {
		if e.isBusinessDay(t) {
			start, end := e.window(t)
			from, to := maxTime(t, start), minTime(b, end)
			if to.After(from) {
				total += to.Sub(from)
			}
		}
		t = e.nextDayStart(t)
	}
	return total.Minutes()
}

func (e *Engine) isBusinessDay(t time.Time) bool {
	return e.workdays[t.Weekday()] && !e.holidays[t.Format(time.DateOnly)]
}

func (e *Engine) window(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, e.cal.Start.Hour, e.cal.Start.Minute, 0, 0, e.loc)
	end := time.Date(y, m, d, e.cal.End.Hour, e.cal.End.Minute, 0, 0, e.loc)
	return start, end
}

func (e *Engine) nextDayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, e.cal.Start.Hour, e.cal.Start.Minute, 0, 0, e.loc)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
