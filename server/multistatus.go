package server

import (
	"net/http"

	"github.com/cyp0633/libdav/internal/xml"
)

// Href returns the encoded href of p. Collections get a trailing slash.
func (s *Server) Href(p string, collection bool) string {
	h := s.baseURI + xml.EscapePath(p)
	if collection && p != "" {
		h += "/"
	}
	return h
}

// Response converts a property result into a multistatus response. With
// namesOnly the values are left out, as for a propname request.
func (s *Server) Response(rp *ResourceProps, namesOnly bool) xml.Response {
	resp := xml.Response{Href: s.Href(rp.Path, rp.Collection)}
	for _, status := range rp.Statuses() {
		ps := xml.PropStat{Status: status}
		for _, n := range rp.Names(status) {
			prop := xml.Prop{Name: n}
			if !namesOnly {
				prop.Value, _ = rp.Value(n)
			}
			ps.Props = append(ps.Props, prop)
		}
		resp.PropStats = append(resp.PropStats, ps)
	}
	return resp
}

// WriteMultistatus sends a 207 response.
func (s *Server) WriteMultistatus(w http.ResponseWriter, responses []xml.Response) error {
	ms := &xml.Multistatus{Responses: responses}
	doc := ms.ToXML(s.baseURI)

	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := doc.WriteTo(w); err != nil {
		s.logger.Error("failed to write multistatus", "error", err)
	}
	return nil
}
