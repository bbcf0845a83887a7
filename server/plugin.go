package server

import "github.com/cyp0633/libdav/server/dav"

// Plugin extends the server by subscribing to its events.
type Plugin interface {
	// Name identifies the plugin, e.g. "acl".
	Name() string
	// Initialize is called once when the plugin is added; subscriptions are
	// made here.
	Initialize(s *Server) error
}

// MethodProvider is implemented by plugins that handle additional HTTP
// methods through EventUnknownMethod.
type MethodProvider interface {
	Methods(path string) []string
}

// FeatureProvider is implemented by plugins that add DAV compliance tokens.
type FeatureProvider interface {
	Features() []string
}

// ReportProvider is implemented by plugins that answer REPORT requests; the
// names are advertised in {DAV:}supported-report-set.
type ReportProvider interface {
	Reports(path string) []dav.Name
}
