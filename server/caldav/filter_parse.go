package caldav

import (
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

const timeRangeFormat = "20060102T150405Z"

var (
	conditionValidFilter        = dav.CalDAVName("valid-filter")
	conditionSupportedCollation = dav.CalDAVName("supported-collation")
	conditionSupportedFilter    = dav.CalDAVName("supported-filter")
)

func invalidFilter(format string, args ...any) error {
	return dav.ErrBadRequest.With(format, args...).WithCondition(conditionValidFilter)
}

// ParseFilter parses a {cal}filter element. The filter must hold exactly
// one comp-filter for VCALENDAR.
func ParseFilter(el *etree.Element) (*Filter, error) {
	if el == nil {
		return nil, invalidFilter("The calendar-query report must have a filter element")
	}
	comps := xml.FindChildren(el, dav.CalDAVName("comp-filter"))
	if len(comps) != 1 {
		return nil, invalidFilter("The filter element must contain exactly one comp-filter")
	}
	f, err := parseCompFilter(comps[0])
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(f.Component, "VCALENDAR") {
		return nil, invalidFilter("The root comp-filter must be VCALENDAR, not %s", f.Component)
	}
	if f.TimeRange != nil {
		return nil, invalidFilter("The VCALENDAR comp-filter cannot contain a time-range")
	}
	return f, nil
}

func parseCompFilter(el *etree.Element) (*Filter, error) {
	f := &Filter{
		Component: el.SelectAttrValue("name", ""),
		Test:      el.SelectAttrValue("test", TestAllOf),
	}
	if f.Component == "" {
		return nil, invalidFilter("comp-filter requires a name attribute")
	}
	if err := checkTest(f.Test); err != nil {
		return nil, err
	}
	if xml.FindChild(el, dav.CalDAVName("is-not-defined")) != nil {
		f.IsNotDefined = true
		return f, nil
	}

	if tr := xml.FindChild(el, dav.CalDAVName("time-range")); tr != nil {
		r, err := parseTimeRange(tr)
		if err != nil {
			return nil, err
		}
		f.TimeRange = r
	}
	for _, pe := range xml.FindChildren(el, dav.CalDAVName("prop-filter")) {
		pf, err := parsePropFilter(pe)
		if err != nil {
			return nil, err
		}
		f.PropFilters = append(f.PropFilters, *pf)
	}
	for _, ce := range xml.FindChildren(el, dav.CalDAVName("comp-filter")) {
		child, err := parseCompFilter(ce)
		if err != nil {
			return nil, err
		}
		f.Children = append(f.Children, *child)
	}
	return f, nil
}

func parsePropFilter(el *etree.Element) (*PropFilter, error) {
	pf := &PropFilter{
		Name: el.SelectAttrValue("name", ""),
		Test: el.SelectAttrValue("test", TestAllOf),
	}
	if pf.Name == "" {
		return nil, invalidFilter("prop-filter requires a name attribute")
	}
	if err := checkTest(pf.Test); err != nil {
		return nil, err
	}
	if xml.FindChild(el, dav.CalDAVName("is-not-defined")) != nil {
		pf.IsNotDefined = true
		return pf, nil
	}

	if tr := xml.FindChild(el, dav.CalDAVName("time-range")); tr != nil {
		r, err := parseTimeRange(tr)
		if err != nil {
			return nil, err
		}
		pf.TimeRange = r
	}
	if tm := xml.FindChild(el, dav.CalDAVName("text-match")); tm != nil {
		m, err := parseTextMatch(tm)
		if err != nil {
			return nil, err
		}
		pf.TextMatch = m
	}
	for _, pe := range xml.FindChildren(el, dav.CalDAVName("param-filter")) {
		p, err := parseParamFilter(pe)
		if err != nil {
			return nil, err
		}
		pf.ParamFilters = append(pf.ParamFilters, *p)
	}
	return pf, nil
}

func parseParamFilter(el *etree.Element) (*ParamFilter, error) {
	p := &ParamFilter{Name: el.SelectAttrValue("name", "")}
	if p.Name == "" {
		return nil, invalidFilter("param-filter requires a name attribute")
	}
	if xml.FindChild(el, dav.CalDAVName("is-not-defined")) != nil {
		p.IsNotDefined = true
		return p, nil
	}
	if tm := xml.FindChild(el, dav.CalDAVName("text-match")); tm != nil {
		m, err := parseTextMatch(tm)
		if err != nil {
			return nil, err
		}
		p.TextMatch = m
	}
	return p, nil
}

func parseTextMatch(el *etree.Element) (*TextMatch, error) {
	tm := &TextMatch{
		Collation: el.SelectAttrValue("collation", CollationASCIICasemap),
		MatchType: el.SelectAttrValue("match-type", MatchContains),
		Value:     el.Text(),
	}
	switch el.SelectAttrValue("negate-condition", "no") {
	case "yes":
		tm.Negate = true
	case "no":
	default:
		return nil, invalidFilter("negate-condition must be yes or no")
	}

	switch tm.Collation {
	case CollationOctet, CollationASCIICasemap, CollationUnicodeCasemap:
	default:
		return nil, dav.ErrForbidden.With("The collation %q is not supported", tm.Collation).WithCondition(conditionSupportedCollation)
	}
	switch tm.MatchType {
	case MatchEquals, MatchContains, MatchStartsWith, MatchEndsWith:
	default:
		return nil, dav.ErrForbidden.With("The match-type %q is not supported", tm.MatchType).WithCondition(conditionSupportedFilter)
	}
	return tm, nil
}

func parseTimeRange(el *etree.Element) (*TimeRange, error) {
	tr := &TimeRange{}
	for _, attr := range []struct {
		name string
		dst  **time.Time
	}{{"start", &tr.Start}, {"end", &tr.End}} {
		v := el.SelectAttrValue(attr.name, "")
		if v == "" {
			continue
		}
		t, err := time.Parse(timeRangeFormat, v)
		if err != nil {
			return nil, invalidFilter("The %s attribute of time-range must be a UTC date-time, got %q", attr.name, v)
		}
		*attr.dst = &t
	}
	if tr.Start == nil && tr.End == nil {
		return nil, invalidFilter("time-range requires a start or an end attribute")
	}
	if tr.Start != nil && tr.End != nil && !tr.End.After(*tr.Start) {
		return nil, invalidFilter("The end of a time-range must be after its start")
	}
	return tr, nil
}

func checkTest(test string) error {
	if test != TestAllOf && test != TestAnyOf {
		return invalidFilter("test must be allof or anyof, not %q", test)
	}
	return nil
}
