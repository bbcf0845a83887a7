package server

import (
	"net/http"
	"strings"
)

// httpOptions advertises the methods and DAV compliance classes.
func (s *Server) httpOptions(w http.ResponseWriter, _ *http.Request, p string) error {
	h := w.Header()
	h.Set(headerAllow, strings.Join(s.allowedMethods(p), ", "))
	h.Set(headerDAV, strings.Join(s.features(), ", "))
	h.Set("MS-Author-Via", "DAV")
	h.Set("Accept-Ranges", "bytes")
	writeStatus(w, http.StatusOK)
	return nil
}
