package dav

import (
	"fmt"
	"slices"
	"strings"
)

// Namespace URIs used throughout the server.
const (
	NamespaceDAV            = "DAV:"
	NamespaceCalDAV         = "urn:ietf:params:xml:ns:caldav"
	NamespaceCalendarServer = "http://calendarserver.org/ns/"
	NamespaceSabre          = "http://sabredav.org/ns"
)

// Name is a namespace-qualified XML name. Its canonical string form is Clark
// notation: "{namespace}local".
type Name struct {
	Space string
	Local string
}

// DAVName returns a name in the DAV: namespace.
func DAVName(local string) Name {
	return Name{Space: NamespaceDAV, Local: local}
}

// CalDAVName returns a name in the CalDAV namespace.
func CalDAVName(local string) Name {
	return Name{Space: NamespaceCalDAV, Local: local}
}

// String formats the name in Clark notation.
func (n Name) String() string {
	return "{" + n.Space + "}" + n.Local
}

// ParseName parses a Clark notation string. A string without a namespace part
// yields a name with an empty Space.
func ParseName(s string) (Name, error) {
	if !strings.HasPrefix(s, "{") {
		if s == "" {
			return Name{}, fmt.Errorf("empty name")
		}
		return Name{Local: s}, nil
	}
	end := strings.Index(s, "}")
	if end < 0 || end == len(s)-1 {
		return Name{}, fmt.Errorf("malformed clark notation %q", s)
	}
	return Name{Space: s[1:end], Local: s[end+1:]}, nil
}

// SortNames sorts names by their Clark notation.
func SortNames(names []Name) {
	slices.SortFunc(names, func(a, b Name) int {
		return strings.Compare(a.String(), b.String())
	})
}

// MustParseName is ParseName for package-level tables.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Well-known property and element names.
var (
	PropGetLastModified        = DAVName("getlastmodified")
	PropGetContentLength       = DAVName("getcontentlength")
	PropGetContentType         = DAVName("getcontenttype")
	PropGetETag                = DAVName("getetag")
	PropResourceType           = DAVName("resourcetype")
	PropDisplayName            = DAVName("displayname")
	PropQuotaUsedBytes         = DAVName("quota-used-bytes")
	PropQuotaAvailableBytes    = DAVName("quota-available-bytes")
	PropSupportedReportSet     = DAVName("supported-report-set")
	PropOwner                  = DAVName("owner")
	PropGroup                  = DAVName("group")
	PropACL                    = DAVName("acl")
	PropCurrentUserPrivSet     = DAVName("current-user-privilege-set")
	PropCurrentUserPrincipal   = DAVName("current-user-principal")
	PropLockDiscovery          = DAVName("lockdiscovery")
	PropSupportedLock          = DAVName("supportedlock")
	ResourceTypeCollection     = DAVName("collection")
	ResourceTypeCalendar       = CalDAVName("calendar")
	ConditionValidResourceType = DAVName("valid-resourcetype")
	ConditionNeedPrivileges    = DAVName("need-privileges")
)
