// Package caldav turns collections into calendars. It adds the MKCALENDAR
// method, the calendar-multiget and calendar-query reports, the CalDAV
// properties and validation of iCalendar data written into calendars.
package caldav

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/caldav/recurrence"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/event"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/emersion/go-ical"
	"github.com/pkg/errors"
)

// Priority of every subscription. It runs after authentication and ACL
// checks.
const Priority = event.DefaultPriority

const methodMkcalendar = "MKCALENDAR"

// MIME type of calendar objects
const mimeTypeCalendar = "text/calendar; charset=utf-8"

// CalDAV property and report names.
var (
	PropCalendarData                = dav.CalDAVName("calendar-data")
	PropCalendarDescription         = dav.CalDAVName("calendar-description")
	PropSupportedCalendarComponents = dav.CalDAVName("supported-calendar-component-set")
	PropSupportedCalendarData       = dav.CalDAVName("supported-calendar-data")
	ReportCalendarMultiget          = dav.CalDAVName("calendar-multiget")
	ReportCalendarQuery             = dav.CalDAVName("calendar-query")
)

var (
	conditionValidCalendarData     = dav.CalDAVName("valid-calendar-data")
	conditionValidCalendarObject   = dav.CalDAVName("valid-calendar-object-resource")
	conditionSupportedCalendarComp = dav.CalDAVName("supported-calendar-component")

	defaultCalendarComponents        = []string{ical.CompEvent, ical.CompToDo, ical.CompJournal}
	supportedCalendarDataDescription = dav.Raw(`<calendar-data xmlns="urn:ietf:params:xml:ns:caldav" content-type="text/calendar" version="2.0"/>`)
)

// Plugin is the CalDAV plugin.
type Plugin struct {
	s          *server.Server
	engine     *recurrence.Engine
	components []string
	logger     *slog.Logger
}

// Option configures the plugin.
type Option func(*Plugin)

// WithEngine sets the recurrence engine used by calendar-query.
func WithEngine(e *recurrence.Engine) Option {
	return func(p *Plugin) {
		p.engine = e
	}
}

// WithComponents sets the component types calendars accept unless a
// calendar stores its own supported-calendar-component-set.
func WithComponents(components ...string) Option {
	return func(p *Plugin) {
		p.components = components
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates the plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{
		components: defaultCalendarComponents,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		p.engine = recurrence.NewEngine(recurrence.WithLogger(p.logger))
	}
	return p
}

func (p *Plugin) Name() string {
	return "caldav"
}

func (p *Plugin) Features() []string {
	return []string{"calendar-access"}
}

func (p *Plugin) Methods(string) []string {
	return []string{methodMkcalendar}
}

func (p *Plugin) Reports(string) []dav.Name {
	return []dav.Name{ReportCalendarMultiget, ReportCalendarQuery}
}

func (p *Plugin) Initialize(s *server.Server) error {
	p.s = s
	s.Subscribe(server.EventUnknownMethod, p.unknownMethod, Priority)
	s.Subscribe(server.EventReport, p.report, Priority)
	s.Subscribe(server.EventGetProperties, p.getProperties, Priority)
	s.Subscribe(server.EventBeforeCreateFile, p.beforeCreateFile, Priority)
	s.Subscribe(server.EventBeforeWriteContent, p.beforeWriteContent, Priority)
	s.ProtectProperties(PropCalendarData, PropSupportedCalendarData)
	return nil
}

func (p *Plugin) unknownMethod(_ context.Context, payload any) (bool, error) {
	ev := payload.(*server.MethodEvent)
	if ev.Method != methodMkcalendar {
		return true, nil
	}
	if err := p.httpMkcalendar(ev.Response, ev.Request, ev.Path); err != nil {
		return false, err
	}
	return false, nil
}

// IsCalendar reports whether n is a calendar collection, that is a
// directory whose stored resourcetype contains {cal}calendar.
func IsCalendar(ctx context.Context, n dav.Node) (bool, error) {
	if _, ok := dav.AsDirectory(n); !ok {
		return false, nil
	}
	ps, ok := dav.AsPropertyStore(n)
	if !ok {
		return false, nil
	}
	props, err := ps.Properties(ctx, []dav.Name{dav.PropResourceType})
	if err != nil {
		return false, errors.Wrapf(err, "read resourcetype of %s", n.Name())
	}
	rt, ok := props[dav.PropResourceType].(dav.ResourceType)
	return ok && rt.Is(dav.ResourceTypeCalendar), nil
}

// calendarOf returns the calendar collection holding the object at p, or
// nil when its parent is not a calendar.
func (p *Plugin) calendarOf(ctx context.Context, path string) (dav.Node, error) {
	parentPath, _ := tree.Split(path)
	opt, err := p.s.Tree().Lookup(ctx, parentPath)
	if err != nil {
		return nil, err
	}
	parent, ok := opt.Get()
	if !ok {
		return nil, nil
	}
	isCal, err := IsCalendar(ctx, parent)
	if err != nil || !isCal {
		return nil, err
	}
	return parent, nil
}

// supportedComponents returns the component types calendar accepts.
func (p *Plugin) supportedComponents(ctx context.Context, calendar dav.Node) []string {
	ps, ok := dav.AsPropertyStore(calendar)
	if !ok {
		return p.components
	}
	props, err := ps.Properties(ctx, []dav.Name{PropSupportedCalendarComponents})
	if err != nil {
		p.logger.Warn("failed to read supported components", "calendar", calendar.Name(), "error", err)
		return p.components
	}
	raw, ok := props[PropSupportedCalendarComponents].(dav.Raw)
	if !ok {
		return p.components
	}
	if comps := parseComponentSet(string(raw)); len(comps) > 0 {
		return comps
	}
	return p.components
}

// parseComponentSet reads the name attributes of the {cal}comp elements of a
// stored supported-calendar-component-set.
func parseComponentSet(raw string) []string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString("<set>" + raw + "</set>"); err != nil {
		return nil
	}
	var comps []string
	for _, el := range doc.Root().ChildElements() {
		if el.Tag == "comp" && el.NamespaceURI() == dav.NamespaceCalDAV {
			if name := el.SelectAttrValue("name", ""); name != "" {
				comps = append(comps, strings.ToUpper(name))
			}
		}
	}
	return comps
}

func componentSet(comps []string) dav.Raw {
	var sb strings.Builder
	for _, c := range comps {
		sb.WriteString(`<comp xmlns="urn:ietf:params:xml:ns:caldav" name="`)
		sb.WriteString(c)
		sb.WriteString(`"/>`)
	}
	return dav.Raw(sb.String())
}

func (p *Plugin) getProperties(ctx context.Context, payload any) (bool, error) {
	ev := payload.(*server.PropertiesEvent)

	isCal, err := IsCalendar(ctx, ev.Node)
	if err != nil {
		return false, err
	}
	if isCal {
		for _, name := range ev.Requested {
			switch name {
			case PropSupportedCalendarComponents:
				ev.Result.Set(name, componentSet(p.supportedComponents(ctx, ev.Node)))
			case PropSupportedCalendarData:
				ev.Result.Set(name, supportedCalendarDataDescription)
			}
		}
		return true, nil
	}

	f, ok := dav.AsFile(ev.Node)
	if !ok {
		return true, nil
	}
	wantData := slices.Contains(ev.Requested, PropCalendarData)
	wantType := slices.Contains(ev.Requested, dav.PropGetContentType) && f.ContentType() == ""
	if !wantData && !wantType {
		return true, nil
	}
	calendar, err := p.calendarOf(ctx, ev.Path)
	if err != nil || calendar == nil {
		return true, err
	}
	if wantType {
		ev.Result.Set(dav.PropGetContentType, dav.Text(mimeTypeCalendar))
	}
	if wantData {
		data, err := readAll(ctx, f)
		if err != nil {
			return false, err
		}
		ev.Result.Set(PropCalendarData, dav.Text(data))
	}
	return true, nil
}

func readAll(ctx context.Context, f dav.File) ([]byte, error) {
	rc, err := f.Get(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", f.Name())
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", f.Name())
	}
	return data, nil
}

// loadCalendar decodes the content of f.
func loadCalendar(ctx context.Context, f dav.File) (*ical.Calendar, error) {
	data, err := readAll(ctx, f)
	if err != nil {
		return nil, err
	}
	return ical.NewDecoder(bytes.NewReader(data)).Decode()
}
