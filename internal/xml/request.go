package xml

import (
	"bytes"
	"io"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/libdav/server/dav"
)

// ReadDocument parses an XML request body. An empty body yields a nil
// document and no error.
func ReadDocument(r io.Reader) (*etree.Document, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, dav.ErrBadRequest.With("Malformed XML body").Wrap(err)
	}
	if doc.Root() == nil {
		return nil, dav.ErrBadRequest.With("XML body has no root element")
	}
	return doc, nil
}

// PropfindRequest represents a PROPFIND request
type PropfindRequest struct {
	Props    []dav.Name
	AllProp  bool
	PropName bool
}

// ParsePropfind parses a PROPFIND body. A nil document asks for all
// properties.
func ParsePropfind(doc *etree.Document) (*PropfindRequest, error) {
	if doc == nil {
		return &PropfindRequest{AllProp: true}, nil
	}
	root := doc.Root()
	if NameOf(root) != dav.DAVName("propfind") {
		return nil, dav.ErrBadRequest.With("Expected {DAV:}propfind, got %s", NameOf(root))
	}

	req := &PropfindRequest{}
	if prop := FindChild(root, dav.DAVName("prop")); prop != nil {
		for _, p := range prop.ChildElements() {
			req.Props = append(req.Props, NameOf(p))
		}
	}
	if FindChild(root, dav.DAVName("propname")) != nil {
		req.PropName = true
	}
	if FindChild(root, dav.DAVName("allprop")) != nil || (len(req.Props) == 0 && !req.PropName) {
		req.AllProp = true
		req.Props = nil
	}
	return req, nil
}

// ParsePropertyUpdate parses a PROPPATCH body into mutations, keeping the
// order of the set and remove instructions.
func ParsePropertyUpdate(doc *etree.Document) ([]dav.Mutation, error) {
	if doc == nil {
		return nil, dav.ErrBadRequest.With("PROPPATCH requires a request body")
	}
	root := doc.Root()
	if NameOf(root) != dav.DAVName("propertyupdate") {
		return nil, dav.ErrBadRequest.With("Expected {DAV:}propertyupdate, got %s", NameOf(root))
	}

	var mutations []dav.Mutation
	for _, op := range root.ChildElements() {
		name := NameOf(op)
		if name != dav.DAVName("set") && name != dav.DAVName("remove") {
			continue
		}
		prop := FindChild(op, dav.DAVName("prop"))
		if prop == nil {
			continue
		}
		for _, p := range prop.ChildElements() {
			m := dav.Mutation{Name: NameOf(p)}
			if name == dav.DAVName("set") {
				m.Value = DecodeProperty(p)
			}
			mutations = append(mutations, m)
		}
	}
	return mutations, nil
}

// ParseProps decodes every property inside a {DAV:}prop element.
func ParseProps(prop *etree.Element) map[dav.Name]dav.Property {
	result := make(map[dav.Name]dav.Property)
	if prop == nil {
		return result
	}
	for _, p := range prop.ChildElements() {
		result[NameOf(p)] = DecodeProperty(p)
	}
	return result
}

// ParseCollectionBody parses an extended MKCOL or MKCALENDAR body whose root
// must be rootName. It returns the properties of every {DAV:}set element.
func ParseCollectionBody(doc *etree.Document, rootName dav.Name) (map[dav.Name]dav.Property, error) {
	root := doc.Root()
	if NameOf(root) != rootName {
		return nil, dav.ErrUnsupportedMediaType.With("The request body must be a %s request construct.", rootName)
	}
	props := make(map[dav.Name]dav.Property)
	for _, set := range FindChildren(root, dav.DAVName("set")) {
		for n, v := range ParseProps(FindChild(set, dav.DAVName("prop"))) {
			props[n] = v
		}
	}
	return props, nil
}

// DecodeProperty turns a property element from a request into a value.
// resourcetype becomes a dav.ResourceType. An element carrying attributes is
// kept whole as dav.Element, text-only elements become dav.Text and anything
// else with markup is kept as dav.Raw.
func DecodeProperty(el *etree.Element) dav.Property {
	if NameOf(el) == dav.PropResourceType {
		var rt dav.ResourceType
		for _, c := range el.ChildElements() {
			rt = append(rt, NameOf(c))
		}
		return rt
	}
	if hasAttributes(el) {
		c := el.Copy()
		qualify(el, c, "\x00")
		d := etree.NewDocument()
		d.SetRoot(c)
		if s, err := d.WriteToString(); err == nil {
			return dav.Element(s)
		}
	}
	if len(el.ChildElements()) == 0 {
		return dav.Text(el.Text())
	}

	var sb strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			c := t.Copy()
			qualify(t, c, "\x00")
			d := etree.NewDocument()
			d.SetRoot(c)
			s, err := d.WriteToString()
			if err == nil {
				sb.WriteString(s)
			}
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				d := etree.NewDocument()
				d.CreateText(t.Data)
				s, _ := d.WriteToString()
				sb.WriteString(s)
			}
		}
	}
	return dav.Raw(sb.String())
}

// hasAttributes reports whether el carries attributes other than namespace
// declarations.
func hasAttributes(el *etree.Element) bool {
	for _, a := range el.Attr {
		if a.Space != "xmlns" && !(a.Space == "" && a.Key == "xmlns") {
			return true
		}
	}
	return false
}

// qualify rewrites the detached copy c of orig so that every element
// declares its namespace as a default namespace instead of relying on
// prefixes declared by ancestors that are no longer present. Top-level
// callers pass a parentSpace that matches nothing so the root of the copy
// always carries a declaration.
func qualify(orig, c *etree.Element, parentSpace string) {
	space := orig.NamespaceURI()
	c.Space = ""
	attrs := c.Attr[:0]
	for _, a := range c.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		attrs = append(attrs, a)
	}
	c.Attr = attrs
	if space != parentSpace {
		c.CreateAttr("xmlns", space)
	}

	oc, cc := orig.ChildElements(), c.ChildElements()
	for i := range oc {
		qualify(oc[i], cc[i], space)
	}
}
