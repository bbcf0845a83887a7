package server

import (
	"net/http"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

// httpReport hands the parsed body to the report subscribers. The event
// returns true when nobody answered it.
func (s *Server) httpReport(w http.ResponseWriter, r *http.Request, p string) error {
	doc, err := xml.ReadDocument(r.Body)
	if err != nil {
		return err
	}
	if doc == nil {
		return dav.ErrBadRequest.With("REPORT requires a request body")
	}

	ev := &ReportEvent{
		Name:     xml.NameOf(doc.Root()),
		Document: doc,
		Path:     p,
		Request:  r,
		Response: w,
	}
	unhandled, err := s.bus.Broadcast(r.Context(), EventReport, ev)
	if err != nil {
		return err
	}
	if unhandled {
		return dav.ErrReportNotImplemented.With("The %s report is not supported", ev.Name)
	}
	return nil
}
