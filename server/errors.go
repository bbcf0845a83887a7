package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
)

// sendError writes the {DAV:}error body for err unless a response has
// already been started.
func (s *Server) sendError(w *responseWriter, err error, logger *slog.Logger) {
	status := dav.StatusOf(err)
	if status >= 500 {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	if w.started() {
		return
	}

	body := &xml.ErrorBody{Message: err.Error()}
	var he *dav.HTTPError
	if errors.As(err, &he) {
		body.Exception = he.Kind
		body.Message = he.Message
		body.Code = he.Status
		body.Condition = he.Condition
	} else {
		body.Exception = strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	}
	if s.debug {
		body.Stack = fmt.Sprintf("%+v", err)
	}

	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(status)
	if _, werr := body.ToXML().WriteTo(w); werr != nil {
		logger.Error("failed to write error body", "error", werr)
	}
}

// writeStatus sends status with an empty body.
func writeStatus(w http.ResponseWriter, status int) {
	w.Header().Set(headerContentLength, "0")
	w.WriteHeader(status)
}
