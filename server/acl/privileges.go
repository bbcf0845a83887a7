package acl

import (
	"slices"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// Privileges understood by the plugin.
var (
	PrivRead            = dav.DAVName("read")
	PrivWrite           = dav.DAVName("write")
	PrivWriteContent    = dav.DAVName("write-content")
	PrivWriteProperties = dav.DAVName("write-properties")
	PrivBind            = dav.DAVName("bind")
	PrivUnbind          = dav.DAVName("unbind")
	PrivReadACL         = dav.DAVName("read-acl")
	PrivAll             = dav.DAVName("all")
)

// Special principals usable in an ACE.
const (
	PrincipalAll             = "{DAV:}all"
	PrincipalAuthenticated   = "{DAV:}authenticated"
	PrincipalUnauthenticated = "{DAV:}unauthenticated"
	PrincipalOwner           = "{DAV:}owner"
)

// aggregates maps an aggregate privilege to the privileges it contains.
var aggregates = map[dav.Name][]dav.Name{
	PrivAll:   {PrivRead, PrivWrite, PrivReadACL},
	PrivWrite: {PrivWriteContent, PrivWriteProperties, PrivBind, PrivUnbind},
}

// expand returns priv and everything it aggregates.
func expand(priv dav.Name) []dav.Name {
	result := []dav.Name{priv}
	for _, sub := range aggregates[priv] {
		result = append(result, expand(sub)...)
	}
	return result
}

// allPrivileges is the full expanded privilege set.
var allPrivileges = expand(PrivAll)

// matches reports whether an ACE principal applies to user. user is the
// principal path of the current user, or "" when unauthenticated. owner is
// the principal path owning the node.
func matches(acePrincipal, user, owner string) bool {
	switch acePrincipal {
	case PrincipalAll:
		return true
	case PrincipalAuthenticated:
		return user != ""
	case PrincipalUnauthenticated:
		return user == ""
	case PrincipalOwner:
		return user != "" && tree.Normalize(owner) == user
	}
	return user != "" && tree.Normalize(acePrincipal) == user
}

// granted collects the expanded privileges the ACEs give to user.
func granted(aces []dav.ACE, user, owner string) []dav.Name {
	var privs []dav.Name
	for _, ace := range aces {
		if !matches(ace.Principal, user, owner) {
			continue
		}
		for _, p := range expand(ace.Privilege) {
			if !slices.Contains(privs, p) {
				privs = append(privs, p)
			}
		}
	}
	dav.SortNames(privs)
	return privs
}
