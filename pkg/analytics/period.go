package analytics

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marshallshelly/tablelink/pkg/store"
)

// Period selects a reporting window around a date.
type Period string

const (
	Day   Period = "day"
	Week  Period = "week"
	Month Period = "month"
	Year  Period = "year"
)

// ParsePeriod accepts day, week, month or year in any case.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case Day, Week, Month, Year:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

const dateLayout = "2006-01-02"

// Window is an inclusive range of calendar days.
type Window struct {
	Period Period
	Start  time.Time
	End    time.Time
}

// WindowFor computes the window of period p containing date:
// day is the date itself, week runs Monday to Sunday, month covers the
// calendar month, year runs from January 1 up to and including date.
func WindowFor(date time.Time, p Period, loc *time.Location) (Window, error) {
	d := dayStart(date, loc)
	w := Window{Period: p}

	switch p {
	case Day:
		w.Start, w.End = d, d
	case Week:
		offset := (int(d.Weekday()) + 6) % 7
		w.Start = d.AddDate(0, 0, -offset)
		w.End = w.Start.AddDate(0, 0, 6)
	case Month:
		w.Start = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
		w.End = w.Start.AddDate(0, 1, -1)
	case Year:
		w.Start = time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, d.Location())
		w.End = d
	default:
		return Window{}, fmt.Errorf("unknown period %q", p)
	}
	return w, nil
}

// Range converts the window to a half-open instant range.
func (w Window) Range() store.Range {
	return store.Range{From: w.Start, To: w.End.AddDate(0, 0, 1)}
}

// Days lists the calendar days of the window.
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// MarshalJSON renders dates as YYYY-MM-DD.
func (w Window) MarshalJSON() ([]byte, error) {
	out := struct {
		Period    Period `json:"period,omitempty"`
		StartDate string `json:"start_date,omitempty"`
		EndDate   string `json:"end_date,omitempty"`
	}{Period: w.Period}
	if !w.Start.IsZero() {
		out.StartDate = w.Start.Format(dateLayout)
		out.EndDate = w.End.Format(dateLayout)
	}
	return json.Marshal(out)
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ParseDate reads a YYYY-MM-DD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}
