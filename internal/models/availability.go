package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ZoneAny matches every geographic zone.
const ZoneAny = "any"

// AvailabilityWindow is a recurring weekly slot, optionally bounded by an
// explicit date range, in which a technician accepts work for a zone.
type AvailabilityWindow struct {
	ID           string     `db:"id" json:"id"`
	TechnicianID string     `db:"technician_id" json:"technician_id"`
	Weekday      int        `db:"weekday" json:"weekday"`
	DateFrom     *time.Time `db:"date_from" json:"date_from,omitempty"`
	DateTo       *time.Time `db:"date_to" json:"date_to,omitempty"`
	StartTime    string     `db:"start_time" json:"start_time"`
	EndTime      string     `db:"end_time" json:"end_time"`
	Zone         string     `db:"zone" json:"zone"`
	Open         bool       `db:"open" json:"open"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// MatchesZone reports whether the window applies to the given zone.
func (w AvailabilityWindow) MatchesZone(zone string) bool {
	return w.Zone == ZoneAny || w.Zone == "" || strings.EqualFold(w.Zone, zone)
}

// CoversDate reports whether the window's date range, if any, contains day.
func (w AvailabilityWindow) CoversDate(day time.Time) bool {
	d := truncateToDay(day)
	if w.DateFrom != nil && d.Before(truncateToDay(*w.DateFrom)) {
		return false
	}
	if w.DateTo != nil && d.After(truncateToDay(*w.DateTo)) {
		return false
	}
	return true
}

// ContainsClock reports whether the minute-of-day falls in [start, end).
func (w AvailabilityWindow) ContainsClock(minute int) bool {
	start, err := ParseClock(w.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseClock(w.EndTime)
	if err != nil {
		return false
	}
	return minute >= start && minute < end
}

// ParseClock converts an "HH:MM" string to minutes since midnight.
func ParseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour*60 + minute, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
