package caldav

import (
	"net/http"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

// calendarResourceType is the resourcetype of collections made by
// MKCALENDAR.
var calendarResourceType = []dav.Name{dav.ResourceTypeCollection, dav.ResourceTypeCalendar}

func (p *Plugin) httpMkcalendar(w http.ResponseWriter, r *http.Request, path string) error {
	doc, err := xml.ReadDocument(r.Body)
	if err != nil {
		return err
	}
	var props map[dav.Name]dav.Property
	if doc != nil {
		if props, err = xml.ParseCollectionBody(doc, dav.CalDAVName("mkcalendar")); err != nil {
			return err
		}
		delete(props, dav.PropResourceType)
	}

	created, failed, err := p.s.CreateCollection(r.Context(), path, calendarResourceType, props)
	if err != nil {
		return err
	}
	if failed != nil {
		return p.s.WriteMultistatus(w, []xml.Response{p.s.Response(failed, false)})
	}
	if created {
		p.logger.Info("calendar created", "path", path)
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}
