package xml

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

// Namespace definitions for CalDAV and WebDAV
const (
	// DAV is the WebDAV namespace
	DAV = dav.NamespaceDAV
	// CalDAV is the CalDAV namespace
	CalDAV = dav.NamespaceCalDAV
	// CalendarServer is the Calendar Server namespace (used by some implementations)
	CalendarServer = dav.NamespaceCalendarServer
	// Sabre is the namespace of the error body details
	Sabre = dav.NamespaceSabre
)

// prefixes maps well-known namespaces to the prefix used in responses.
var prefixes = map[string]string{
	DAV:            "d",
	CalDAV:         "cal",
	CalendarServer: "cs",
	Sabre:          "s",
}

// Encoder builds a response document, declaring namespace prefixes on the
// root element as they are first used. It implements dav.Encoder.
type Encoder struct {
	root     *etree.Element
	baseURI  string
	declared map[string]string
	next     int
}

// NewDocument creates a document whose root element is name.
func NewDocument(name dav.Name, baseURI string) (*etree.Document, *Encoder) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	enc := &Encoder{baseURI: baseURI, declared: make(map[string]string)}
	enc.root = doc.CreateElement(name.Local)
	enc.root.Space = enc.prefix(name.Space)
	return doc, enc
}

// Root returns the document root element.
func (e *Encoder) Root() *etree.Element {
	return e.root
}

func (e *Encoder) prefix(space string) string {
	if space == "" {
		return ""
	}
	if p, ok := e.declared[space]; ok {
		return p
	}
	p, ok := prefixes[space]
	if !ok {
		e.next++
		p = fmt.Sprintf("x%d", e.next)
	}
	e.declared[space] = p
	e.root.CreateAttr("xmlns:"+p, space)
	return p
}

// CreateElement adds a child called name to parent.
func (e *Encoder) CreateElement(parent *etree.Element, name dav.Name) *etree.Element {
	el := parent.CreateElement(name.Local)
	el.Space = e.prefix(name.Space)
	return el
}

// Href turns a server-relative path into an href under the base URI. Paths
// that are already absolute are returned unchanged.
func (e *Encoder) Href(p string) string {
	if strings.HasPrefix(p, "/") || strings.Contains(p, "://") {
		return p
	}
	return e.baseURI + EscapePath(p)
}

// EscapePath percent-encodes every segment of p.
func EscapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// NameOf returns the namespace-qualified name of el.
func NameOf(el *etree.Element) dav.Name {
	return dav.Name{Space: el.NamespaceURI(), Local: el.Tag}
}

// FindChild returns the first child element of parent called name.
func FindChild(parent *etree.Element, name dav.Name) *etree.Element {
	for _, c := range parent.ChildElements() {
		if NameOf(c) == name {
			return c
		}
	}
	return nil
}

// FindChildren returns every child element of parent called name.
func FindChildren(parent *etree.Element, name dav.Name) []*etree.Element {
	var result []*etree.Element
	for _, c := range parent.ChildElements() {
		if NameOf(c) == name {
			result = append(result, c)
		}
	}
	return result
}
