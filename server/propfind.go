package server

import (
	"net/http"

	"github.com/cyp0633/libdav/internal/xml"
)

func (s *Server) httpPropfind(w http.ResponseWriter, r *http.Request, p string) error {
	doc, err := xml.ReadDocument(r.Body)
	if err != nil {
		return err
	}
	req, err := xml.ParsePropfind(doc)
	if err != nil {
		return err
	}

	results, err := s.PropertiesForPath(r.Context(), p, req.Props, propfindDepth(r))
	if err != nil {
		return err
	}
	responses := make([]xml.Response, 0, len(results))
	for _, rp := range results {
		responses = append(responses, s.Response(rp, req.PropName))
	}
	return s.WriteMultistatus(w, responses)
}
