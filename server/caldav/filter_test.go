package caldav

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/caldav/recurrence"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCalendar(t *testing.T, body string) *ical.Calendar {
	t.Helper()
	body = strings.ReplaceAll(strings.TrimSpace(body), "\n", "\r\n") + "\r\n"
	cal, err := ical.NewDecoder(strings.NewReader(body)).Decode()
	require.NoError(t, err)
	return cal
}

func calendarWith(components ...string) string {
	return "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//libdav//test//EN\n" +
		strings.Join(components, "\n") + "\nEND:VCALENDAR"
}

const (
	standup = `BEGIN:VEVENT
UID:standup
DTSTAMP:20240101T000000Z
DTSTART:20240101T090000Z
DTEND:20240101T093000Z
SUMMARY:Daily Standup
RRULE:FREQ=DAILY;COUNT=10
ATTENDEE;PARTSTAT=ACCEPTED:mailto:alice@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com
BEGIN:VALARM
ACTION:DISPLAY
TRIGGER:-PT5M
END:VALARM
END:VEVENT`
	review = `BEGIN:VEVENT
UID:review
DTSTAMP:20240101T000000Z
DTSTART:20240115T140000Z
DTEND:20240115T160000Z
SUMMARY:Quarterly Review
END:VEVENT`
	chores = `BEGIN:VTODO
UID:chores
DTSTAMP:20240101T000000Z
SUMMARY:Chores
STATUS:NEEDS-ACTION
END:VTODO`
)

func ptr(t time.Time) *time.Time {
	return &t
}

func at(d, h int) *time.Time {
	return ptr(time.Date(2024, 1, d, h, 0, 0, 0, time.UTC))
}

func TestFilter_Match(t *testing.T) {
	standupCal := parseCalendar(t, calendarWith(standup))
	reviewCal := parseCalendar(t, calendarWith(review))
	choresCal := parseCalendar(t, calendarWith(chores))

	event := func(children ...Filter) Filter {
		return Filter{Component: "VEVENT", Children: children}
	}
	vcal := func(children ...Filter) *Filter {
		return &Filter{Component: "VCALENDAR", Children: children}
	}

	tests := []struct {
		name   string
		filter *Filter
		cal    *ical.Calendar
		want   bool
	}{
		{
			name:   "bare calendar filter matches anything",
			filter: vcal(),
			cal:    choresCal,
			want:   true,
		},
		{
			name:   "component present",
			filter: vcal(event()),
			cal:    reviewCal,
			want:   true,
		},
		{
			name:   "component missing",
			filter: vcal(event()),
			cal:    choresCal,
			want:   false,
		},
		{
			name:   "is-not-defined",
			filter: vcal(Filter{Component: "VEVENT", IsNotDefined: true}),
			cal:    choresCal,
			want:   true,
		},
		{
			name:   "component names are case-insensitive",
			filter: vcal(Filter{Component: "vtodo"}),
			cal:    choresCal,
			want:   true,
		},
		{
			name:   "time-range hit",
			filter: vcal(Filter{Component: "VEVENT", TimeRange: &TimeRange{Start: at(15, 0), End: at(16, 0)}}),
			cal:    reviewCal,
			want:   true,
		},
		{
			name:   "time-range miss",
			filter: vcal(Filter{Component: "VEVENT", TimeRange: &TimeRange{Start: at(16, 0), End: at(17, 0)}}),
			cal:    reviewCal,
			want:   false,
		},
		{
			name:   "open ended time-range",
			filter: vcal(Filter{Component: "VEVENT", TimeRange: &TimeRange{Start: at(15, 15)}}),
			cal:    reviewCal,
			want:   true,
		},
		{
			name:   "recurring event instance in range",
			filter: vcal(Filter{Component: "VEVENT", TimeRange: &TimeRange{Start: at(5, 0), End: at(6, 0)}}),
			cal:    standupCal,
			want:   true,
		},
		{
			name:   "recurring event after last instance",
			filter: vcal(Filter{Component: "VEVENT", TimeRange: &TimeRange{Start: at(20, 0), End: at(21, 0)}}),
			cal:    standupCal,
			want:   false,
		},
		{
			name:   "undated todo matches any range",
			filter: vcal(Filter{Component: "VTODO", TimeRange: &TimeRange{Start: at(20, 0), End: at(21, 0)}}),
			cal:    choresCal,
			want:   true,
		},
		{
			name: "text-match on summary",
			filter: vcal(Filter{Component: "VEVENT", PropFilters: []PropFilter{{
				Name:      "SUMMARY",
				TextMatch: &TextMatch{Collation: CollationASCIICasemap, Value: "standup"},
			}}}),
			cal:  standupCal,
			want: true,
		},
		{
			name: "prop-filter is-not-defined",
			filter: vcal(Filter{Component: "VEVENT", PropFilters: []PropFilter{{
				Name:         "LOCATION",
				IsNotDefined: true,
			}}}),
			cal:  reviewCal,
			want: true,
		},
		{
			name: "prop-filter on missing property",
			filter: vcal(Filter{Component: "VEVENT", PropFilters: []PropFilter{{
				Name: "LOCATION",
			}}}),
			cal:  reviewCal,
			want: false,
		},
		{
			name: "param-filter matches one of several attendees",
			filter: vcal(Filter{Component: "VEVENT", PropFilters: []PropFilter{{
				Name: "ATTENDEE",
				TextMatch: &TextMatch{
					MatchType: MatchContains,
					Value:     "bob",
				},
				ParamFilters: []ParamFilter{{
					Name:      "PARTSTAT",
					TextMatch: &TextMatch{MatchType: MatchEquals, Value: "NEEDS-ACTION"},
				}},
			}}}),
			cal:  standupCal,
			want: true,
		},
		{
			name: "param-filter conditions must hold on the same property",
			filter: vcal(Filter{Component: "VEVENT", PropFilters: []PropFilter{{
				Name:      "ATTENDEE",
				TextMatch: &TextMatch{Value: "bob"},
				ParamFilters: []ParamFilter{{
					Name:      "PARTSTAT",
					TextMatch: &TextMatch{MatchType: MatchEquals, Value: "ACCEPTED"},
				}},
			}}}),
			cal:  standupCal,
			want: false,
		},
		{
			name: "param-filter is-not-defined",
			filter: vcal(Filter{Component: "VEVENT", PropFilters: []PropFilter{{
				Name:         "ATTENDEE",
				ParamFilters: []ParamFilter{{Name: "ROLE", IsNotDefined: true}},
			}}}),
			cal:  standupCal,
			want: true,
		},
		{
			name:   "nested alarm",
			filter: vcal(event(Filter{Component: "VALARM"})),
			cal:    standupCal,
			want:   true,
		},
		{
			name:   "nested alarm missing",
			filter: vcal(event(Filter{Component: "VALARM"})),
			cal:    reviewCal,
			want:   false,
		},
		{
			name: "allof requires every condition",
			filter: vcal(Filter{
				Component:   "VEVENT",
				TimeRange:   &TimeRange{Start: at(15, 0), End: at(16, 0)},
				PropFilters: []PropFilter{{Name: "SUMMARY", TextMatch: &TextMatch{Value: "Standup"}}},
			}),
			cal:  reviewCal,
			want: false,
		},
		{
			name: "anyof accepts one condition",
			filter: vcal(Filter{
				Component:   "VEVENT",
				Test:        TestAnyOf,
				TimeRange:   &TimeRange{Start: at(15, 0), End: at(16, 0)},
				PropFilters: []PropFilter{{Name: "SUMMARY", TextMatch: &TextMatch{Value: "Standup"}}},
			}),
			cal:  reviewCal,
			want: true,
		},
		{
			name:   "nil calendar",
			filter: vcal(),
			want:   false,
		},
	}

	engine := recurrence.NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.filter.Match(tt.cal, engine)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextMatch(t *testing.T) {
	value := "This is a Sample TEXT for testing"

	tests := []struct {
		name string
		tm   TextMatch
		want bool
	}{
		{"equals", TextMatch{MatchType: MatchEquals, Value: value}, true},
		{"equals is case-sensitive by default", TextMatch{MatchType: MatchEquals, Value: strings.ToLower(value)}, false},
		{"equals with casemap", TextMatch{MatchType: MatchEquals, Value: strings.ToLower(value), Collation: CollationUnicodeCasemap}, true},
		{"contains", TextMatch{MatchType: MatchContains, Value: "Sample TEXT"}, true},
		{"contains with ascii casemap", TextMatch{MatchType: MatchContains, Value: "sample text", Collation: CollationASCIICasemap}, true},
		{"starts-with", TextMatch{MatchType: MatchStartsWith, Value: "This is"}, true},
		{"starts-with miss", TextMatch{MatchType: MatchStartsWith, Value: "Sample"}, false},
		{"ends-with", TextMatch{MatchType: MatchEndsWith, Value: "for testing"}, true},
		{"octet collation", TextMatch{MatchType: MatchEndsWith, Value: "FOR TESTING", Collation: CollationOctet}, false},
		{"negated miss", TextMatch{Value: "nonexistent", Negate: true}, true},
		{"negated hit", TextMatch{MatchType: MatchEquals, Value: value, Negate: true}, false},
		{"contains by default", TextMatch{Value: "Sample"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tm.Match(value))
		})
	}
}

func filterElement(t *testing.T, body string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<C:filter xmlns:C="urn:ietf:params:xml:ns:caldav">`+body+`</C:filter>`))
	return doc.Root()
}

func TestParseFilter(t *testing.T) {
	el := filterElement(t, `
<C:comp-filter name="VCALENDAR">
  <C:comp-filter name="VEVENT" test="anyof">
    <C:time-range start="20240101T000000Z" end="20240201T000000Z"/>
    <C:prop-filter name="SUMMARY">
      <C:text-match collation="i;octet" match-type="starts-with" negate-condition="yes">Lunch</C:text-match>
    </C:prop-filter>
    <C:prop-filter name="ATTENDEE">
      <C:param-filter name="PARTSTAT"><C:text-match>ACCEPTED</C:text-match></C:param-filter>
      <C:param-filter name="ROLE"><C:is-not-defined/></C:param-filter>
    </C:prop-filter>
    <C:comp-filter name="VALARM"><C:is-not-defined/></C:comp-filter>
  </C:comp-filter>
</C:comp-filter>`)

	f, err := ParseFilter(el)
	require.NoError(t, err)

	want := &Filter{
		Component: "VCALENDAR",
		Test:      TestAllOf,
		Children: []Filter{{
			Component: "VEVENT",
			Test:      TestAnyOf,
			TimeRange: &TimeRange{Start: at(1, 0), End: ptr(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))},
			PropFilters: []PropFilter{
				{
					Name: "SUMMARY",
					Test: TestAllOf,
					TextMatch: &TextMatch{
						Collation: CollationOctet,
						MatchType: MatchStartsWith,
						Negate:    true,
						Value:     "Lunch",
					},
				},
				{
					Name: "ATTENDEE",
					Test: TestAllOf,
					ParamFilters: []ParamFilter{
						{Name: "PARTSTAT", TextMatch: &TextMatch{Collation: CollationASCIICasemap, MatchType: MatchContains, Value: "ACCEPTED"}},
						{Name: "ROLE", IsNotDefined: true},
					},
				},
			},
			Children: []Filter{{Component: "VALARM", Test: TestAllOf, IsNotDefined: true}},
		}},
	}
	assert.Equal(t, want, f)
}

func TestParseFilter_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		status    int
		condition dav.Name
	}{
		{"no comp-filter", ``, http.StatusBadRequest, conditionValidFilter},
		{"root is not VCALENDAR", `<C:comp-filter name="VEVENT"/>`, http.StatusBadRequest, conditionValidFilter},
		{"two roots", `<C:comp-filter name="VCALENDAR"/><C:comp-filter name="VCALENDAR"/>`, http.StatusBadRequest, conditionValidFilter},
		{"missing name", `<C:comp-filter name="VCALENDAR"><C:comp-filter/></C:comp-filter>`, http.StatusBadRequest, conditionValidFilter},
		{"bad test", `<C:comp-filter name="VCALENDAR" test="someof"/>`, http.StatusBadRequest, conditionValidFilter},
		{
			"time-range on calendar",
			`<C:comp-filter name="VCALENDAR"><C:time-range start="20240101T000000Z"/></C:comp-filter>`,
			http.StatusBadRequest, conditionValidFilter,
		},
		{
			"time-range without bounds",
			`<C:comp-filter name="VCALENDAR"><C:comp-filter name="VEVENT"><C:time-range/></C:comp-filter></C:comp-filter>`,
			http.StatusBadRequest, conditionValidFilter,
		},
		{
			"floating time-range",
			`<C:comp-filter name="VCALENDAR"><C:comp-filter name="VEVENT"><C:time-range start="20240101T000000"/></C:comp-filter></C:comp-filter>`,
			http.StatusBadRequest, conditionValidFilter,
		},
		{
			"inverted time-range",
			`<C:comp-filter name="VCALENDAR"><C:comp-filter name="VEVENT"><C:time-range start="20240201T000000Z" end="20240101T000000Z"/></C:comp-filter></C:comp-filter>`,
			http.StatusBadRequest, conditionValidFilter,
		},
		{
			"unknown collation",
			`<C:comp-filter name="VCALENDAR"><C:comp-filter name="VEVENT"><C:prop-filter name="SUMMARY"><C:text-match collation="i;klingon">x</C:text-match></C:prop-filter></C:comp-filter></C:comp-filter>`,
			http.StatusForbidden, conditionSupportedCollation,
		},
		{
			"unknown match-type",
			`<C:comp-filter name="VCALENDAR"><C:comp-filter name="VEVENT"><C:prop-filter name="SUMMARY"><C:text-match match-type="regex">x</C:text-match></C:prop-filter></C:comp-filter></C:comp-filter>`,
			http.StatusForbidden, conditionSupportedFilter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(filterElement(t, tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.status, dav.StatusOf(err))
			var he *dav.HTTPError
			require.ErrorAs(t, err, &he)
			require.NotNil(t, he.Condition)
			assert.Equal(t, tt.condition, *he.Condition)
		})
	}

	_, err := ParseFilter(nil)
	assert.Error(t, err)
}
