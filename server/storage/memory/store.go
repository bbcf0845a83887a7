// memory based node backend, used for tests and ephemeral servers
package memory

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cyp0633/libdav/server/dav"
)

// Option configures a memory tree.
type Option func(*store)

// WithQuota limits the total size of file content. Zero means unlimited.
func WithQuota(limit int64) Option {
	return func(s *store) {
		s.limit = limit
	}
}

// WithExtendedCollections makes every collection support extended MKCOL.
func WithExtendedCollections() Option {
	return func(s *store) {
		s.extended = true
	}
}

// WithOwner sets the owner principal reported for every node.
func WithOwner(owner string) Option {
	return func(s *store) {
		s.owner = owner
	}
}

// WithClock replaces time.Now for modification times.
func WithClock(now func() time.Time) Option {
	return func(s *store) {
		s.now = now
	}
}

// store is shared by all nodes of one tree.
type store struct {
	mu       sync.RWMutex
	limit    int64
	used     int64
	extended bool
	owner    string
	now      func() time.Time
}

func generateETag(data []byte) string {
	hash := sha1.Sum(data)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

// New creates an empty tree and returns its root collection.
func New(opts ...Option) dav.Directory {
	return wrap(newRoot(opts...))
}

// NewRoot is New for callers that want to seed content directly.
func NewRoot(opts ...Option) *Directory {
	return newRoot(opts...)
}

func newRoot(opts ...Option) *Directory {
	s := &store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return &Directory{
		entry:    entry{st: s, modified: s.now()},
		children: make(map[string]dav.Node),
	}
}

// wrap returns the node that represents d to callers: d itself, or an
// ExtendedDirectory when the tree supports extended collections.
func wrap(d *Directory) dav.Directory {
	if d.st.extended {
		return &ExtendedDirectory{Directory: d}
	}
	return d
}

// Node returns the dav representation of d.
func (d *Directory) Node() dav.Directory {
	return wrap(d)
}
