package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/event"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/google/uuid"
)

const (
	// HTTP headers
	headerContentType   = "Content-Type"
	headerContentLength = "Content-Length"
	headerContentRange  = "Content-Range"
	headerLastModified  = "Last-Modified"
	headerETag          = "ETag"
	headerDAV           = "DAV"
	headerAllow         = "Allow"
	headerDepth         = "Depth"
	headerDestination   = "Destination"
	headerOverwrite     = "Overwrite"
	headerRange         = "Range"
	headerIfNoneMatch   = "If-None-Match"
	headerRequestID     = "X-Request-Id"

	// MIME types
	mimeTypeXML         = "application/xml; charset=utf-8"
	mimeTypeOctetStream = "application/octet-stream"
)

// Event names broadcast by the server.
const (
	EventBeforeMethod       = "beforeMethod"
	EventUnknownMethod      = "unknownMethod"
	EventBeforeBind         = "beforeBind"
	EventAfterBind          = "afterBind"
	EventBeforeUnbind       = "beforeUnbind"
	EventBeforeCreateFile   = "beforeCreateFile"
	EventBeforeWriteContent = "beforeWriteContent"
	EventGetProperties      = "getProperties"
	EventAfterGetProperties = "afterGetProperties"
	EventReport             = "report"
)

// methods handled by the server itself, in the order advertised by OPTIONS.
var builtinMethods = []string{
	http.MethodOptions, http.MethodGet, http.MethodHead, http.MethodDelete,
	"PROPFIND", "MKCOL", http.MethodPut, "PROPPATCH", "COPY", "MOVE", "REPORT",
}

// davFeatures are the compliance classes every server supports.
var davFeatures = []string{"1", "3", "extended-mkcol"}

type methodHandler func(w http.ResponseWriter, r *http.Request, path string) error

// handler returns the built-in handler for method.
func (s *Server) handler(method string) (methodHandler, bool) {
	switch method {
	case http.MethodOptions:
		return s.httpOptions, true
	case http.MethodGet:
		return s.httpGet, true
	case http.MethodHead:
		return s.httpHead, true
	case http.MethodDelete:
		return s.httpDelete, true
	case "PROPFIND":
		return s.httpPropfind, true
	case "MKCOL":
		return s.httpMkcol, true
	case http.MethodPut:
		return s.httpPut, true
	case "PROPPATCH":
		return s.httpProppatch, true
	case "COPY":
		return s.httpCopy, true
	case "MOVE":
		return s.httpMove, true
	case "REPORT":
		return s.httpReport, true
	}
	return nil, false
}

// Server dispatches WebDAV requests onto a node tree.
type Server struct {
	tree    tree.Tree
	bus     *event.Bus
	baseURI string
	logger  *slog.Logger
	debug   bool
	plugins []Plugin

	protected []dav.Name
}

// Option configures a Server.
type Option func(*Server)

// WithBaseURI sets the path under which the server is mounted, e.g. "/dav/".
func WithBaseURI(baseURI string) Option {
	return func(s *Server) {
		s.baseURI = baseURI
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDebugExceptions includes error chains with stack traces in error bodies.
func WithDebugExceptions(debug bool) Option {
	return func(s *Server) {
		s.debug = debug
	}
}

// WithPlugins registers plugins at construction time.
func WithPlugins(plugins ...Plugin) Option {
	return func(s *Server) {
		s.plugins = append(s.plugins, plugins...)
	}
}

// New creates a server over t.
func New(t tree.Tree, opts ...Option) (*Server, error) {
	if t == nil {
		return nil, fmt.Errorf("tree is required")
	}

	s := &Server{
		tree:    t,
		bus:     event.New(),
		baseURI: "/",
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseURI = normalizeBaseURI(s.baseURI)

	plugins := s.plugins
	s.plugins = nil
	for _, p := range plugins {
		if err := s.AddPlugin(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func normalizeBaseURI(u string) string {
	u = "/" + strings.Trim(u, "/") + "/"
	if u == "//" {
		return "/"
	}
	return u
}

// AddPlugin initializes p and keeps it for OPTIONS and report discovery.
func (s *Server) AddPlugin(p Plugin) error {
	if err := p.Initialize(s); err != nil {
		return fmt.Errorf("initialize plugin %s: %w", p.Name(), err)
	}
	s.plugins = append(s.plugins, p)
	s.logger.Debug("plugin registered", "plugin", p.Name())
	return nil
}

// Plugin returns the registered plugin called name.
func (s *Server) Plugin(name string) (Plugin, bool) {
	for _, p := range s.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Subscribe registers h for the named event.
func (s *Server) Subscribe(name string, h event.Handler, priority int) {
	s.bus.Subscribe(name, h, priority)
}

// Broadcast fires the named event.
func (s *Server) Broadcast(ctx context.Context, name string, payload any) (bool, error) {
	return s.bus.Broadcast(ctx, name, payload)
}

// Tree returns the node tree.
func (s *Server) Tree() tree.Tree {
	return s.tree
}

// BaseURI returns the mount path, always with leading and trailing slash.
func (s *Server) BaseURI() string {
	return s.baseURI
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rw := &responseWriter{ResponseWriter: w}
	requestID := r.Header.Get(headerRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := s.logger.With("request_id", requestID, "method", r.Method, "path", r.URL.Path)
	logger.Info("request received")

	defer func() {
		if v := recover(); v != nil {
			logger.Error("handler panicked", "panic", v)
			s.sendError(rw, fmt.Errorf("panic: %v", v), logger)
		}
	}()

	if err := s.invokeMethod(rw, r, logger); err != nil {
		s.sendError(rw, err, logger)
		return
	}
	logger.Debug("request completed", "status", rw.status)
}

func (s *Server) invokeMethod(w http.ResponseWriter, r *http.Request, logger *slog.Logger) error {
	p, err := s.requestPath(r.URL.Path)
	if err != nil {
		return err
	}

	ev := &MethodEvent{Method: r.Method, Path: p, Request: r, Response: w}
	ok, err := s.bus.Broadcast(r.Context(), EventBeforeMethod, ev)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("request handled by beforeMethod subscriber")
		return nil
	}
	// subscribers may replace the request, e.g. to attach a principal
	r = ev.Request

	if h, found := s.handler(r.Method); found {
		return h(w, r, p)
	}

	unhandled, err := s.bus.Broadcast(r.Context(), EventUnknownMethod, ev)
	if err != nil {
		return err
	}
	if unhandled {
		return dav.ErrNotImplemented.With("There was no handler found for this %q method", r.Method)
	}
	return nil
}

// requestPath strips the base URI from an URL path.
func (s *Server) requestPath(urlPath string) (string, error) {
	if urlPath+"/" == s.baseURI {
		return "", nil
	}
	if !strings.HasPrefix(urlPath, s.baseURI) {
		return "", dav.ErrForbidden.With("Requested uri (%s) is out of base uri (%s)", urlPath, s.baseURI)
	}
	return tree.Normalize(strings.TrimPrefix(urlPath, s.baseURI)), nil
}

// allowedMethods lists the built-in methods plus those of every plugin.
func (s *Server) allowedMethods(p string) []string {
	methods := slices.Clone(builtinMethods)
	for _, pl := range s.plugins {
		if mp, ok := pl.(MethodProvider); ok {
			for _, m := range mp.Methods(p) {
				if !slices.Contains(methods, m) {
					methods = append(methods, m)
				}
			}
		}
	}
	return methods
}

func (s *Server) features() []string {
	features := slices.Clone(davFeatures)
	for _, pl := range s.plugins {
		if fp, ok := pl.(FeatureProvider); ok {
			features = append(features, fp.Features()...)
		}
	}
	return features
}

// supportedReports aggregates the reports every plugin offers for p.
func (s *Server) supportedReports(p string) []dav.Name {
	var reports []dav.Name
	for _, pl := range s.plugins {
		if rp, ok := pl.(ReportProvider); ok {
			reports = append(reports, rp.Reports(p)...)
		}
	}
	return reports
}

// responseWriter records whether a response has been started so that the
// error boundary never writes a second one.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status != 0 {
		return
	}
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *responseWriter) started() bool {
	return w.status != 0
}
