package xml

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

// Prop is a single property inside a propstat. A nil Value renders an
// empty element.
type Prop struct {
	Name  dav.Name
	Value dav.Property
}

// PropStat groups the properties that share one status.
type PropStat struct {
	Status int
	Props  []Prop
}

// Response is one resource in a multistatus body. Href must already be
// encoded. When Status is set the response carries a status instead of
// propstats.
type Response struct {
	Href      string
	Status    int
	PropStats []PropStat
}

// Multistatus is a {DAV:}multistatus body.
type Multistatus struct {
	Responses []Response
}

// StatusLine formats an HTTP status line as used in multistatus bodies.
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// ToXML renders the multistatus. Propstats are emitted in ascending status
// order.
func (m *Multistatus) ToXML(baseURI string) *etree.Document {
	doc, enc := NewDocument(dav.DAVName("multistatus"), baseURI)
	root := enc.Root()

	for _, resp := range m.Responses {
		r := enc.CreateElement(root, dav.DAVName("response"))
		enc.CreateElement(r, dav.DAVName("href")).SetText(resp.Href)

		if resp.Status != 0 {
			enc.CreateElement(r, dav.DAVName("status")).SetText(StatusLine(resp.Status))
			continue
		}

		stats := slices.Clone(resp.PropStats)
		slices.SortStableFunc(stats, func(a, b PropStat) int { return a.Status - b.Status })
		for _, ps := range stats {
			if len(ps.Props) == 0 {
				continue
			}
			pse := enc.CreateElement(r, dav.DAVName("propstat"))
			prop := enc.CreateElement(pse, dav.DAVName("prop"))
			for _, p := range ps.Props {
				el := enc.CreateElement(prop, p.Name)
				if p.Value != nil {
					p.Value.Encode(enc, el)
				}
			}
			enc.CreateElement(pse, dav.DAVName("status")).SetText(StatusLine(ps.Status))
		}
	}

	doc.Indent(2)
	return doc
}

// ErrorBody describes a {DAV:}error document.
type ErrorBody struct {
	Exception string
	Message   string
	// Code is omitted when zero.
	Code      int
	Condition *dav.Name
	Stack     string
}

// ToXML renders the error body.
func (e *ErrorBody) ToXML() *etree.Document {
	doc, enc := NewDocument(dav.DAVName("error"), "")
	root := enc.Root()
	if e.Condition != nil {
		enc.CreateElement(root, *e.Condition)
	}
	enc.CreateElement(root, dav.Name{Space: Sabre, Local: "exception"}).SetText(e.Exception)
	enc.CreateElement(root, dav.Name{Space: Sabre, Local: "message"}).SetText(e.Message)
	if e.Code != 0 {
		enc.CreateElement(root, dav.Name{Space: Sabre, Local: "code"}).SetText(fmt.Sprint(e.Code))
	}
	if e.Stack != "" {
		enc.CreateElement(root, dav.Name{Space: Sabre, Local: "stacktrace"}).SetText(e.Stack)
	}
	doc.Indent(2)
	return doc
}
