package recurrence

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// Info is the recurrence description of a component.
type Info struct {
	RRule   string // RRULE value without the "RRULE:" prefix
	RDates  []time.Time
	ExDates []time.Time
	// RecurrenceID is set on overridden instances.
	RecurrenceID *time.Time
}

// Recurring reports whether the component expands to more than one instance.
func (i Info) Recurring() bool {
	return i.RRule != "" || len(i.RDates) > 0
}

// ExtractInfo reads RRULE, RDATE, EXDATE and RECURRENCE-ID from comp.
// Unparseable dates are skipped.
func ExtractInfo(comp *ical.Component) Info {
	var info Info
	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		info.RRule = strings.TrimSpace(p.Value)
	}
	info.RDates = dateList(comp, ical.PropRecurrenceDates)
	info.ExDates = dateList(comp, ical.PropExceptionDates)
	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		if t, err := p.DateTime(time.UTC); err == nil {
			info.RecurrenceID = &t
		}
	}
	return info
}

// dateList parses every value of every property called name. Properties may
// repeat and each may hold a comma separated list.
func dateList(comp *ical.Component, name string) []time.Time {
	var result []time.Time
	for _, prop := range comp.Props.Values(name) {
		for _, v := range strings.Split(prop.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			single := ical.Prop{Name: prop.Name, Params: prop.Params, Value: v}
			t, err := single.DateTime(time.UTC)
			if err != nil {
				continue
			}
			result = append(result, t)
		}
	}
	return result
}

// Span returns the interval a single instance of comp occupies, following
// the rules for time-range queries. ok is false when comp carries no usable
// time information.
func Span(comp *ical.Component) (start, end time.Time, ok bool) {
	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart != nil {
		var err error
		if start, err = dtstart.DateTime(time.UTC); err != nil {
			return time.Time{}, time.Time{}, false
		}
	}
	allDay := dtstart != nil && dtstart.ValueType() == ical.ValueDate

	switch comp.Name {
	case ical.CompToDo:
		return todoSpan(comp, dtstart != nil, start)
	case ical.CompEvent, ical.CompJournal, ical.CompFreeBusy:
	default:
		return time.Time{}, time.Time{}, false
	}
	if dtstart == nil {
		return time.Time{}, time.Time{}, false
	}

	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil && comp.Name != ical.CompJournal {
		end, err := p.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		// a DATE event ending on its start date lasts the whole day
		if allDay && sameDate(start, end) {
			end = start.AddDate(0, 0, 1)
		}
		return start, end, true
	}
	if p := comp.Props.Get(ical.PropDuration); p != nil && comp.Name == ical.CompEvent {
		d, err := p.Duration()
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		return start, start.Add(d), true
	}
	if allDay {
		return start, start.AddDate(0, 0, 1), true
	}
	return start, start, true
}

func todoSpan(comp *ical.Component, hasStart bool, start time.Time) (time.Time, time.Time, bool) {
	var due time.Time
	hasDue := false
	if p := comp.Props.Get(ical.PropDue); p != nil {
		t, err := p.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		due, hasDue = t, true
	}

	switch {
	case hasStart && hasDue:
		return start, due, true
	case hasStart:
		if p := comp.Props.Get(ical.PropDuration); p != nil {
			if d, err := p.Duration(); err == nil {
				return start, start.Add(d), true
			}
		}
		return start, start, true
	case hasDue:
		return due, due, true
	}
	return time.Time{}, time.Time{}, false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Overlaps reports whether [start, end) intersects [rangeStart, rangeEnd).
// An instantaneous instance overlaps when it lies inside the range.
func Overlaps(start, end, rangeStart, rangeEnd time.Time) bool {
	if !end.After(start) {
		return !start.Before(rangeStart) && start.Before(rangeEnd)
	}
	return start.Before(rangeEnd) && end.After(rangeStart)
}
