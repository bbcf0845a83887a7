package caldav

import (
	"strings"
	"time"

	"github.com/cyp0633/libdav/server/caldav/recurrence"
	"github.com/emersion/go-ical"
)

// Match types of a text-match.
const (
	MatchEquals     = "equals"
	MatchContains   = "contains"
	MatchStartsWith = "starts-with"
	MatchEndsWith   = "ends-with"
)

// Test values of comp-filter and prop-filter.
const (
	TestAllOf = "allof"
	TestAnyOf = "anyof"
)

// Collations understood by text-match.
const (
	CollationOctet          = "i;octet"
	CollationASCIICasemap   = "i;ascii-casemap"
	CollationUnicodeCasemap = "i;unicode-casemap"
)

// TextMatch describes a <text-match> constraint.
type TextMatch struct {
	Collation string // "" compares octets
	MatchType string // "" means contains
	Negate    bool
	Value     string
}

// ParamFilter describes a <param-filter> inside a prop-filter.
type ParamFilter struct {
	Name         string // e.g. "PARTSTAT"
	IsNotDefined bool
	TextMatch    *TextMatch
}

// PropFilter describes a <prop-filter> inside a comp-filter.
type PropFilter struct {
	Name         string // e.g. "SUMMARY"
	IsNotDefined bool
	TimeRange    *TimeRange
	TextMatch    *TextMatch
	ParamFilters []ParamFilter
	Test         string // TestAllOf when empty
}

// TimeRange describes a <time-range>. A nil bound is open.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Filter is a <comp-filter>. The filter of a calendar-query is the
// comp-filter for VCALENDAR.
type Filter struct {
	Component    string // e.g. "VCALENDAR", "VEVENT"
	IsNotDefined bool
	TimeRange    *TimeRange
	PropFilters  []PropFilter
	Children     []Filter
	Test         string // TestAllOf when empty
}

var (
	minTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

func (tr *TimeRange) bounds() (time.Time, time.Time) {
	start, end := minTime, maxTime
	if tr.Start != nil {
		start = *tr.Start
	}
	if tr.End != nil {
		end = *tr.End
	}
	return start, end
}

// Match reports whether cal satisfies the filter. engine expands
// recurring components for time-range tests.
func (f *Filter) Match(cal *ical.Calendar, engine *recurrence.Engine) (bool, error) {
	if cal == nil {
		return f.IsNotDefined, nil
	}
	return f.match([]*ical.Component{cal.Component}, engine)
}

// match applies f to the components among candidates that carry its name.
func (f *Filter) match(candidates []*ical.Component, engine *recurrence.Engine) (bool, error) {
	var named []*ical.Component
	for _, c := range candidates {
		if c != nil && strings.EqualFold(c.Name, f.Component) {
			named = append(named, c)
		}
	}
	if f.IsNotDefined {
		return len(named) == 0, nil
	}
	for _, c := range named {
		ok, err := f.matchComponent(c, engine)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (f *Filter) matchComponent(comp *ical.Component, engine *recurrence.Engine) (bool, error) {
	var tests []func() (bool, error)
	if f.TimeRange != nil {
		tests = append(tests, func() (bool, error) {
			return componentInRange(comp, f.TimeRange, engine)
		})
	}
	for i := range f.PropFilters {
		pf := &f.PropFilters[i]
		tests = append(tests, func() (bool, error) {
			return pf.match(comp), nil
		})
	}
	for i := range f.Children {
		child := &f.Children[i]
		tests = append(tests, func() (bool, error) {
			return child.match(comp.Children, engine)
		})
	}
	return combine(f.Test, tests)
}

// combine evaluates tests lazily. An empty list matches.
func combine(test string, tests []func() (bool, error)) (bool, error) {
	if len(tests) == 0 {
		return true, nil
	}
	anyOf := test == TestAnyOf
	for _, t := range tests {
		ok, err := t()
		if err != nil {
			return false, err
		}
		if anyOf && ok {
			return true, nil
		}
		if !anyOf && !ok {
			return false, nil
		}
	}
	return !anyOf, nil
}

// componentInRange applies a time-range to an event, todo, journal or
// free-busy component, expanding recurrences.
func componentInRange(comp *ical.Component, tr *TimeRange, engine *recurrence.Engine) (bool, error) {
	rangeStart, rangeEnd := tr.bounds()
	start, end, ok := recurrence.Span(comp)
	if !ok {
		// a todo without any date matches every range
		return comp.Name == ical.CompToDo && comp.Props.Get(ical.PropDateTimeStart) == nil && comp.Props.Get(ical.PropDue) == nil, nil
	}
	info := recurrence.ExtractInfo(comp)
	if !info.Recurring() {
		return recurrence.Overlaps(start, end, rangeStart, rangeEnd), nil
	}
	if engine == nil {
		engine = recurrence.NewEngine()
	}
	return engine.HasOccurrenceInRange(start, end, info, rangeStart, rangeEnd)
}

func (pf *PropFilter) match(comp *ical.Component) bool {
	props := comp.Props.Values(strings.ToUpper(pf.Name))
	if pf.IsNotDefined {
		return len(props) == 0
	}
	for i := range props {
		if pf.matchProp(&props[i]) {
			return true
		}
	}
	return false
}

func (pf *PropFilter) matchProp(prop *ical.Prop) bool {
	var tests []func() (bool, error)
	if pf.TimeRange != nil {
		tests = append(tests, func() (bool, error) {
			t, err := prop.DateTime(time.UTC)
			if err != nil {
				return false, nil
			}
			start, end := pf.TimeRange.bounds()
			return recurrence.Overlaps(t, t, start, end), nil
		})
	}
	if pf.TextMatch != nil {
		tests = append(tests, func() (bool, error) {
			return pf.TextMatch.Match(prop.Value), nil
		})
	}
	for i := range pf.ParamFilters {
		param := &pf.ParamFilters[i]
		tests = append(tests, func() (bool, error) {
			return param.match(prop), nil
		})
	}
	ok, _ := combine(pf.Test, tests)
	return ok
}

func (p *ParamFilter) match(prop *ical.Prop) bool {
	values := prop.Params[strings.ToUpper(p.Name)]
	if p.IsNotDefined {
		return len(values) == 0
	}
	if len(values) == 0 {
		return false
	}
	if p.TextMatch == nil {
		return true
	}
	for _, v := range values {
		if p.TextMatch.Match(v) {
			return true
		}
	}
	return false
}

// Match applies the text-match to value.
func (tm *TextMatch) Match(value string) bool {
	needle := tm.Value
	if tm.Collation == CollationASCIICasemap || tm.Collation == CollationUnicodeCasemap {
		value = strings.ToLower(value)
		needle = strings.ToLower(needle)
	}

	var ok bool
	switch tm.MatchType {
	case MatchEquals:
		ok = value == needle
	case MatchStartsWith:
		ok = strings.HasPrefix(value, needle)
	case MatchEndsWith:
		ok = strings.HasSuffix(value, needle)
	default:
		ok = strings.Contains(value, needle)
	}
	return ok != tm.Negate
}
