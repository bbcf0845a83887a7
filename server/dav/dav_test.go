package dav_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in      string
		want    dav.Name
		wantErr bool
	}{
		{"{DAV:}getetag", dav.PropGetETag, false},
		{"{urn:x}a", dav.Name{Space: "urn:x", Local: "a"}, false},
		{"plain", dav.Name{Local: "plain"}, false},
		{"", dav.Name{}, true},
		{"{DAV:", dav.Name{}, true},
		{"{DAV:}", dav.Name{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dav.ParseName(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "{urn:ietf:params:xml:ns:caldav}calendar", dav.ResourceTypeCalendar.String())
	assert.Panics(t, func() { dav.MustParseName("") })
}

func TestSortNames(t *testing.T) {
	names := []dav.Name{dav.PropGetETag, dav.CalDAVName("a"), dav.PropDisplayName}
	dav.SortNames(names)
	assert.Equal(t, []dav.Name{dav.PropDisplayName, dav.PropGetETag, dav.CalDAVName("a")}, names)
}

func TestHTTPError(t *testing.T) {
	err := dav.ErrNotFound.With("missing %s", "x")
	assert.Equal(t, "missing x", err.Error())
	assert.True(t, errors.Is(err, dav.ErrNotFound))
	assert.False(t, errors.Is(err, dav.ErrConflict))
	assert.True(t, dav.IsNotFound(err))
	// the sentinel is untouched
	assert.Equal(t, "Resource not found", dav.ErrNotFound.Message)

	wrapped := errors.Wrapf(err, "resolve %s", "x")
	assert.Equal(t, http.StatusNotFound, dav.StatusOf(wrapped))
	assert.True(t, dav.IsNotFound(wrapped))

	cause := fmt.Errorf("disk")
	err = dav.ErrInsufficientStorage.Wrap(cause)
	assert.Equal(t, "Insufficient storage: disk", err.Error())
	assert.True(t, errors.Is(err, cause))

	assert.Equal(t, http.StatusInternalServerError, dav.StatusOf(cause))
	assert.Equal(t, dav.ConditionNeedPrivileges, *dav.ErrNeedPrivileges.With("x").Condition)
}

func TestCapabilities(t *testing.T) {
	root := memory.NewRoot()
	f := root.AddFile("a", []byte("x"))

	caps := dav.Capabilities(f)
	assert.True(t, caps.Has(dav.CapFile|dav.CapProperties))
	assert.False(t, caps.Has(dav.CapDirectory))

	caps = dav.Capabilities(root)
	assert.True(t, caps.Has(dav.CapDirectory|dav.CapQuota))
	assert.False(t, caps.Has(dav.CapExtendedCollection))

	ext := memory.New(memory.WithExtendedCollections())
	assert.True(t, dav.Capabilities(ext).Has(dav.CapExtendedCollection))
}

func encode(t *testing.T, p dav.Property) string {
	t.Helper()
	doc, enc := xml.NewDocument(dav.DAVName("prop"), "/dav/")
	p.Encode(enc, enc.Root())
	s, err := doc.WriteToString()
	require.NoError(t, err)
	return s
}

func TestPropertyEncoding(t *testing.T) {
	modified := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	tests := []struct {
		name     string
		prop     dav.Property
		contains []string
	}{
		{"text", dav.Text("a<b"), []string{"a&lt;b"}},
		{"int", dav.Int(42), []string{">42<"}},
		{"href", dav.Href("principals/alice"), []string{"<d:href>/dav/principals/alice</d:href>"}},
		{"absolute href", dav.Href("/other/x"), []string{"<d:href>/other/x</d:href>"}},
		{"href list", dav.HrefList{"a", "b"}, []string{"/dav/a<", "/dav/b<"}},
		{"resourcetype", dav.ResourceType{dav.ResourceTypeCollection, dav.ResourceTypeCalendar}, []string{"<d:collection/>", "<cal:calendar/>"}},
		{"last modified", dav.LastModified(modified), []string{"Tue, 02 Jan 2024 02:04:05 GMT"}},
		{"privileges", dav.PrivilegeSet{dav.DAVName("read")}, []string{"<d:privilege><d:read/></d:privilege>"}},
		{
			"acl",
			dav.ACLProperty{
				{Principal: "principals/alice", Privilege: dav.DAVName("all"), Protected: true},
				{Principal: "{DAV:}authenticated", Privilege: dav.DAVName("read")},
			},
			[]string{"<d:href>/dav/principals/alice</d:href>", "<d:protected/>", "<d:authenticated/>"},
		},
		{"raw", dav.Raw(`<x:color xmlns:x="urn:x">red</x:color>`), []string{"<x:color", "red</x:color>"}},
		{"raw text", dav.Raw("not <xml"), []string{"not &lt;xml"}},
		{
			"element",
			dav.Element(`<displayname xmlns="DAV:" xml:lang="en">Home <b xmlns="urn:x">!</b></displayname>`),
			[]string{`xml:lang="en"`, ">Home <", "!</b>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encode(t, tt.prop)
			for _, c := range tt.contains {
				assert.True(t, strings.Contains(out, c), "%s not in %s", c, out)
			}
		})
	}
}

func TestMutationRemove(t *testing.T) {
	assert.True(t, dav.Mutation{Name: dav.PropDisplayName}.Remove())
	assert.False(t, dav.Mutation{Name: dav.PropDisplayName, Value: dav.Text("")}.Remove())
}
