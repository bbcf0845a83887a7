package server

import (
	"io"
	"net/http"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

// MethodEvent is the payload of EventBeforeMethod and EventUnknownMethod.
// A subscriber that writes a response returns false. Subscribers may replace
// Request, for example with one carrying an authenticated principal.
type MethodEvent struct {
	Method   string
	Path     string
	Request  *http.Request
	Response http.ResponseWriter
}

// PathEvent is the payload of EventBeforeBind, EventAfterBind and
// EventBeforeUnbind.
type PathEvent struct {
	Path string
}

// CreateFileEvent is the payload of EventBeforeCreateFile. Subscribers that
// consume Body must replace it.
type CreateFileEvent struct {
	Path   string
	Parent dav.Directory
	Body   io.Reader
}

// WriteContentEvent is the payload of EventBeforeWriteContent. Subscribers
// that consume Body must replace it.
type WriteContentEvent struct {
	Path string
	Node dav.File
	Body io.Reader
}

// PropertiesEvent is the payload of EventGetProperties and
// EventAfterGetProperties.
type PropertiesEvent struct {
	Path      string
	Node      dav.Node
	Requested []dav.Name
	Result    *ResourceProps
}

// ReportEvent is the payload of EventReport. A subscriber that handles the
// report writes the response and returns false.
type ReportEvent struct {
	Name     dav.Name
	Document *etree.Document
	Path     string
	Request  *http.Request
	Response http.ResponseWriter
}
