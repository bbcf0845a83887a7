package caldav

import (
	"bytes"
	"context"
	"io"
	"slices"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/emersion/go-ical"
)

func (p *Plugin) beforeCreateFile(ctx context.Context, payload any) (bool, error) {
	ev := payload.(*server.CreateFileEvent)
	isCal, err := IsCalendar(ctx, ev.Parent)
	if err != nil || !isCal {
		return true, err
	}
	body, err := p.validateBody(ctx, ev.Parent, ev.Body)
	if err != nil {
		return false, err
	}
	ev.Body = body
	return true, nil
}

func (p *Plugin) beforeWriteContent(ctx context.Context, payload any) (bool, error) {
	ev := payload.(*server.WriteContentEvent)
	calendar, err := p.calendarOf(ctx, ev.Path)
	if err != nil || calendar == nil {
		return true, err
	}
	body, err := p.validateBody(ctx, calendar, ev.Body)
	if err != nil {
		return false, err
	}
	ev.Body = body
	return true, nil
}

// validateBody consumes body, checks it and returns a reader over the same
// bytes.
func (p *Plugin) validateBody(ctx context.Context, calendar dav.Node, body io.Reader) (io.Reader, error) {
	var data []byte
	if body != nil {
		var err error
		if data, err = io.ReadAll(body); err != nil {
			return nil, err
		}
	}
	if err := ValidateCalendarObject(data, p.supportedComponents(ctx, calendar)); err != nil {
		p.logger.Debug("rejected calendar object", "calendar", calendar.Name(), "error", err)
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// ValidateCalendarObject checks that data is a single calendar object
// resource: valid iCalendar holding components of exactly one type from
// allowed, all sharing one UID. VTIMEZONE components are ignored.
func ValidateCalendarObject(data []byte, allowed []string) error {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return dav.ErrUnsupportedMediaType.
			With("This resource only supports valid iCalendar 2.0 data. Parse error: %v", err).
			WithCondition(conditionValidCalendarData)
	}

	var compType, uid string
	for _, c := range cal.Children {
		if c.Name == ical.CompTimezone {
			continue
		}
		if compType == "" {
			compType = c.Name
		} else if c.Name != compType {
			return invalidObject("Calendar objects must contain only one component type, found %s and %s", compType, c.Name)
		}

		u, err := c.Props.Text(ical.PropUID)
		if err != nil || u == "" {
			return invalidObject("Every %s component must have a UID", c.Name)
		}
		if uid == "" {
			uid = u
		} else if u != uid {
			return invalidObject("Every component of a calendar object must have the same UID")
		}
	}
	if compType == "" {
		return invalidObject("iCalendar object must contain at least one of %v", allowed)
	}
	if !slices.Contains(allowed, compType) {
		return dav.ErrForbidden.
			With("This calendar only accepts %v, not %s", allowed, compType).
			WithCondition(conditionSupportedCalendarComp)
	}
	return nil
}

func invalidObject(format string, args ...any) error {
	return dav.ErrUnsupportedMediaType.With(format, args...).WithCondition(conditionValidCalendarObject)
}
