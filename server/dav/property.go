package dav

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Encoder creates namespace-prefixed elements while a response document is
// rendered, and expands server-relative hrefs.
type Encoder interface {
	CreateElement(parent *etree.Element, name Name) *etree.Element
	Href(path string) string
}

// Property is a property value. The set of implementations is closed; each
// renders its content into the already created property element.
type Property interface {
	Encode(enc Encoder, elem *etree.Element)
	property()
}

// Mutation is one PROPPATCH instruction. A nil Value removes the property.
type Mutation struct {
	Name  Name
	Value Property
}

// Remove reports whether m removes its property.
func (m Mutation) Remove() bool {
	return m.Value == nil
}

// Text is a plain string value.
type Text string

func (t Text) Encode(_ Encoder, elem *etree.Element) {
	elem.SetText(string(t))
}

// Int is an integer value such as getcontentlength.
type Int int64

func (i Int) Encode(_ Encoder, elem *etree.Element) {
	elem.SetText(strconv.FormatInt(int64(i), 10))
}

// Href is a single {DAV:}href. Paths without a leading slash or scheme are
// resolved against the server base URI.
type Href string

func (h Href) Encode(enc Encoder, elem *etree.Element) {
	enc.CreateElement(elem, DAVName("href")).SetText(enc.Href(string(h)))
}

// HrefList is a list of {DAV:}href elements.
type HrefList []string

func (l HrefList) Encode(enc Encoder, elem *etree.Element) {
	for _, h := range l {
		enc.CreateElement(elem, DAVName("href")).SetText(enc.Href(h))
	}
}

// ResourceType lists the resource type elements of a node.
type ResourceType []Name

func (r ResourceType) Encode(enc Encoder, elem *etree.Element) {
	for _, n := range r {
		enc.CreateElement(elem, n)
	}
}

// Is reports whether n is one of the types.
func (r ResourceType) Is(n Name) bool {
	return slices.Contains(r, n)
}

// LastModified renders an RFC 1123 date in GMT.
type LastModified time.Time

func (l LastModified) Encode(_ Encoder, elem *etree.Element) {
	elem.SetText(time.Time(l).UTC().Format(http.TimeFormat))
}

// ReportSet is the value of {DAV:}supported-report-set.
type ReportSet []Name

func (r ReportSet) Encode(enc Encoder, elem *etree.Element) {
	for _, n := range r {
		sr := enc.CreateElement(elem, DAVName("supported-report"))
		rep := enc.CreateElement(sr, DAVName("report"))
		enc.CreateElement(rep, n)
	}
}

// PrivilegeSet is a list of {DAV:}privilege elements, used for
// {DAV:}current-user-privilege-set.
type PrivilegeSet []Name

func (p PrivilegeSet) Encode(enc Encoder, elem *etree.Element) {
	for _, n := range p {
		priv := enc.CreateElement(elem, DAVName("privilege"))
		enc.CreateElement(priv, n)
	}
}

// ACLProperty is the value of {DAV:}acl.
type ACLProperty []ACE

func (a ACLProperty) Encode(enc Encoder, elem *etree.Element) {
	for _, ace := range a {
		ae := enc.CreateElement(elem, DAVName("ace"))
		pe := enc.CreateElement(ae, DAVName("principal"))
		if strings.HasPrefix(ace.Principal, "{") {
			if n, err := ParseName(ace.Principal); err == nil {
				enc.CreateElement(pe, n)
			}
		} else {
			enc.CreateElement(pe, DAVName("href")).SetText(enc.Href(ace.Principal))
		}
		grant := enc.CreateElement(ae, DAVName("grant"))
		priv := enc.CreateElement(grant, DAVName("privilege"))
		enc.CreateElement(priv, ace.Privilege)
		if ace.Protected {
			enc.CreateElement(ae, DAVName("protected"))
		}
	}
}

// Raw is an opaque XML fragment, used for dead properties whose value
// contains markup. Namespaces used inside the fragment must be declared in it.
type Raw string

func (r Raw) Encode(_ Encoder, elem *etree.Element) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString("<raw>" + string(r) + "</raw>"); err != nil || doc.Root() == nil {
		elem.SetText(string(r))
		return
	}
	copyContent(doc.Root(), elem)
}

// Element is a dead property kept as its complete XML element, used when the
// property element itself carries attributes such as xml:lang. The element
// must declare its own namespace.
type Element string

func (e Element) Encode(_ Encoder, elem *etree.Element) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(string(e)); err != nil || doc.Root() == nil {
		return
	}
	root := doc.Root()
	for _, a := range root.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		elem.CreateAttr(a.FullKey(), a.Value)
	}
	copyContent(root, elem)
}

func copyContent(from, to *etree.Element) {
	for _, tok := range from.Child {
		switch t := tok.(type) {
		case *etree.Element:
			to.AddChild(t.Copy())
		case *etree.CharData:
			to.CreateText(t.Data)
		}
	}
}

func (Text) property()         {}
func (Int) property()          {}
func (Href) property()         {}
func (HrefList) property()     {}
func (ResourceType) property() {}
func (LastModified) property() {}
func (ReportSet) property()    {}
func (PrivilegeSet) property() {}
func (ACLProperty) property()  {}
func (Raw) property()          {}
func (Element) property()      {}
