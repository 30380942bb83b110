package deadline

import (
	"fmt"
	"strings"
	"time"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Calendar describes which days and hours count toward elapsed SLA time.
type Calendar struct {
	// BusinessHoursOnly disables the walk: targets become createdAt + SLA.
	BusinessHoursOnly bool
	Start             Clock
	End               Clock
	Workdays          []time.Weekday
	// Holidays are local dates formatted as 2006-01-02.
	Holidays []string
	// Location defaults to UTC.
	Location *time.Location
	// BufferMinutes is added to createdAt before the walk starts.
	BufferMinutes int
}

// DefaultCalendar is Monday to Friday, 08:00 to 17:00 UTC, no buffer.
func DefaultCalendar() Calendar {
	return Calendar{
		BusinessHoursOnly: true,
		Start:             Clock{Hour: 8},
		End:               Clock{Hour: 17},
		Workdays:          []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Location:          time.UTC,
	}
}

// ParseWeekday parses a full or three-letter English weekday name.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// SLATable maps entity types and priorities to SLA minutes.
type SLATable struct {
	ByEntity map[string]map[Priority]int
	Default  map[Priority]int
	Fallback int
}

// DefaultSLATable returns the priority-only defaults used when nothing is configured.
func DefaultSLATable() SLATable {
	return SLATable{
		Default: map[Priority]int{
			PriorityCritical: 60,
			PriorityHigh:     240,
			PriorityMedium:   480,
			PriorityLow:      1440,
		},
		Fallback: 480,
	}
}

// Minutes resolves the SLA for (entityType, priority): entity table, then
// priority defaults, then the fallback.
func (t SLATable) Minutes(entityType string, p Priority) int {
	if byPriority, ok := t.ByEntity[entityType]; ok {
		if m, ok := byPriority[p]; ok {
			return m
		}
	}
	if m, ok := t.Default[p]; ok {
		return m
	}
	return t.Fallback
}
