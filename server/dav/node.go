package dav

import (
	"context"
	"io"
	"time"
)

// Node is a resource in the DAV tree. Every node has a name and may be
// renamed or deleted; everything else is an optional capability expressed
// by the interfaces below.
type Node interface {
	Name() string
	// LastModified returns the zero time when the backend does not know it.
	LastModified() time.Time
	SetName(ctx context.Context, name string) error
	Delete(ctx context.Context) error
}

// File is a node with content.
type File interface {
	Node
	Get(ctx context.Context) (io.ReadCloser, error)
	Put(ctx context.Context, data io.Reader) error
	// Size returns -1 when unknown.
	Size() int64
	// ETag returns the quoted entity tag, or "" when unknown.
	ETag() string
	// ContentType returns "" when unknown.
	ContentType() string
}

// Directory is a collection node.
type Directory interface {
	Node
	Children(ctx context.Context) ([]Node, error)
	CreateFile(ctx context.Context, name string, data io.Reader) error
	CreateDirectory(ctx context.Context, name string) error
}

// ChildLookup is implemented by directories that can find a child without
// listing every member. Child must return an error matching ErrNotFound
// when no child of that name exists.
type ChildLookup interface {
	Child(ctx context.Context, name string) (Node, error)
}

// PropertyStore exposes dead properties of a node.
type PropertyStore interface {
	// Properties returns the values the node has for names. An empty names
	// slice asks for every property the node stores.
	Properties(ctx context.Context, names []Name) (map[Name]Property, error)
	// UpdateProperties applies mutations atomically. A nil result means every
	// mutation succeeded. Otherwise the result holds a status per property;
	// mutations missing from it are reported as 424 Failed Dependency.
	UpdateProperties(ctx context.Context, mutations []Mutation) (map[Name]int, error)
}

// Quota reports storage usage for a node.
type Quota interface {
	QuotaInfo(ctx context.Context) (used, available int64, err error)
}

// ACL exposes access control information of a node.
type ACL interface {
	Owner() string
	Group() string
	ACL() []ACE
	SetACL(ctx context.Context, aces []ACE) error
}

// ExtendedCollection is implemented by directories that can create a
// collection with a resource type and initial properties in one step.
type ExtendedCollection interface {
	CreateExtendedCollection(ctx context.Context, name string, resourceType []Name, props map[Name]Property) error
}

// ACE is a single access control entry.
type ACE struct {
	// Principal is a principal href or one of the special principals
	// {DAV:}all, {DAV:}authenticated, {DAV:}unauthenticated, {DAV:}owner.
	Principal string
	Privilege Name
	Protected bool
}

// Capability is a bit set of the optional interfaces a node implements.
type Capability uint

const (
	CapFile Capability = 1 << iota
	CapDirectory
	CapProperties
	CapQuota
	CapACL
	CapExtendedCollection
)

// Has reports whether c contains every bit of other.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// Capabilities returns the capability set of n.
func Capabilities(n Node) Capability {
	var c Capability
	if _, ok := n.(File); ok {
		c |= CapFile
	}
	if _, ok := n.(Directory); ok {
		c |= CapDirectory
	}
	if _, ok := n.(PropertyStore); ok {
		c |= CapProperties
	}
	if _, ok := n.(Quota); ok {
		c |= CapQuota
	}
	if _, ok := n.(ACL); ok {
		c |= CapACL
	}
	if _, ok := n.(ExtendedCollection); ok {
		c |= CapExtendedCollection
	}
	return c
}

func AsFile(n Node) (File, bool) {
	f, ok := n.(File)
	return f, ok
}

func AsDirectory(n Node) (Directory, bool) {
	d, ok := n.(Directory)
	return d, ok
}

func AsPropertyStore(n Node) (PropertyStore, bool) {
	p, ok := n.(PropertyStore)
	return p, ok
}

func AsQuota(n Node) (Quota, bool) {
	q, ok := n.(Quota)
	return q, ok
}

func AsACL(n Node) (ACL, bool) {
	a, ok := n.(ACL)
	return a, ok
}

func AsExtendedCollection(n Node) (ExtendedCollection, bool) {
	e, ok := n.(ExtendedCollection)
	return e, ok
}

// Child returns the child of dir called name. Directories implementing
// ChildLookup are asked directly, others are searched linearly.
func Child(ctx context.Context, dir Directory, name string) (Node, error) {
	if l, ok := dir.(ChildLookup); ok {
		return l.Child(ctx, name)
	}
	children, err := dir.Children(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, ErrNotFound.With("%s not found in %s", name, dir.Name())
}

// ChildExists reports whether dir has a child called name.
func ChildExists(ctx context.Context, dir Directory, name string) (bool, error) {
	_, err := Child(ctx, dir, name)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}
