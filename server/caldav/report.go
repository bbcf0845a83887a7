package caldav

import (
	"context"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

func (p *Plugin) report(ctx context.Context, payload any) (bool, error) {
	ev := payload.(*server.ReportEvent)
	var err error
	switch ev.Name {
	case ReportCalendarMultiget:
		err = p.calendarMultiget(ctx, ev)
	case ReportCalendarQuery:
		err = p.calendarQuery(ctx, ev)
	default:
		return true, nil
	}
	return false, err
}

// reportProps returns the properties a report asks for. allprop, or no
// selection at all, yields nil.
func reportProps(root *etree.Element) []dav.Name {
	prop := xml.FindChild(root, dav.DAVName("prop"))
	if prop == nil {
		return nil
	}
	var names []dav.Name
	for _, c := range prop.ChildElements() {
		names = append(names, xml.NameOf(c))
	}
	return names
}

func (p *Plugin) calendarMultiget(ctx context.Context, ev *server.ReportEvent) error {
	root := ev.Document.Root()
	names := reportProps(root)
	hrefs := xml.FindChildren(root, dav.DAVName("href"))
	if len(hrefs) == 0 {
		return dav.ErrBadRequest.With("The calendar-multiget report must contain at least one href")
	}

	responses := make([]xml.Response, 0, len(hrefs))
	for _, h := range hrefs {
		href := strings.TrimSpace(h.Text())
		path, err := p.s.CalculateURI(href)
		if err != nil {
			responses = append(responses, xml.Response{Href: href, Status: dav.StatusOf(err)})
			continue
		}
		results, err := p.s.PropertiesForPath(ctx, path, names, 0)
		if dav.IsNotFound(err) {
			responses = append(responses, xml.Response{Href: href, Status: dav.StatusOf(err)})
			continue
		}
		if err != nil {
			return err
		}
		responses = append(responses, p.s.Response(results[0], false))
	}
	return p.s.WriteMultistatus(ev.Response, responses)
}

func (p *Plugin) calendarQuery(ctx context.Context, ev *server.ReportEvent) error {
	root := ev.Document.Root()
	names := reportProps(root)
	filter, err := ParseFilter(xml.FindChild(root, dav.CalDAVName("filter")))
	if err != nil {
		return err
	}

	node, err := p.s.Tree().NodeForPath(ctx, ev.Path)
	if err != nil {
		return err
	}
	type candidate struct {
		path string
		file dav.File
	}
	var candidates []candidate
	if f, ok := dav.AsFile(node); ok {
		candidates = append(candidates, candidate{ev.Path, f})
	} else if server.HTTPDepth(ev.Request, 0) != 0 {
		children, err := p.s.Tree().Children(ctx, ev.Path)
		if err != nil {
			return err
		}
		for _, c := range children {
			if f, ok := dav.AsFile(c); ok {
				candidates = append(candidates, candidate{tree.Join(ev.Path, c.Name()), f})
			}
		}
	}

	var responses []xml.Response
	for _, c := range candidates {
		cal, err := loadCalendar(ctx, c.file)
		if err != nil {
			p.logger.Warn("skipping unreadable calendar object", "path", c.path, "error", err)
			continue
		}
		ok, err := filter.Match(cal, p.engine)
		if err != nil {
			p.logger.Warn("failed to evaluate filter", "path", c.path, "error", err)
			continue
		}
		if !ok {
			continue
		}
		results, err := p.s.PropertiesForPath(ctx, c.path, names, 0)
		if err != nil {
			return err
		}
		responses = append(responses, p.s.Response(results[0], false))
	}
	p.logger.Debug("calendar-query evaluated", "path", ev.Path, "candidates", len(candidates), "matches", len(responses))
	return p.s.WriteMultistatus(ev.Response, responses)
}
