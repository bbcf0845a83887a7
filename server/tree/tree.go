// Package tree resolves request paths to nodes and implements the structural
// operations (copy, move, delete, create) on top of the node capabilities.
package tree

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/samber/mo"
)

// Depth values for Copy.
const (
	DepthZero     = 0
	DepthInfinity = -1
)

// Tree is the view of the node hierarchy the server works with.
type Tree interface {
	NodeForPath(ctx context.Context, path string) (dav.Node, error)
	// Lookup returns None when the path does not resolve.
	Lookup(ctx context.Context, path string) (mo.Option[dav.Node], error)
	NodeExists(ctx context.Context, path string) (bool, error)
	Children(ctx context.Context, path string) ([]dav.Node, error)
	Copy(ctx context.Context, src, dst string, depth int) error
	Move(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Put updates the file at path or creates it. created reports which.
	Put(ctx context.Context, path string, data io.Reader) (created bool, err error)
	CreateDirectory(ctx context.Context, path string) error
	// MarkDirty drops cached nodes at path and below.
	MarkDirty(path string)
}

// Option configures a tree.
type Option func(*Base)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Base) {
		b.logger = logger
	}
}

// WithCache enables caching of resolved nodes for ttl. A zero ttl disables
// the cache.
func WithCache(ttl time.Duration) Option {
	return func(b *Base) {
		if ttl <= 0 {
			b.cache = nil
			return
		}
		b.cache = cache.New(ttl, 2*ttl)
	}
}

// Base resolves paths and implements every operation except Copy and Move,
// which fail with dav.ErrNotImplemented. Backends with native copy and move
// embed Base and supply their own.
type Base struct {
	root   dav.Directory
	logger *slog.Logger
	cache  *cache.Cache
}

// NewBase creates a Base over root.
func NewBase(root dav.Directory, opts ...Option) *Base {
	b := &Base{
		root:   root,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Root returns the root collection.
func (t *Base) Root() dav.Directory {
	return t.root
}

func (t *Base) cached(p string) (dav.Node, bool) {
	if t.cache == nil {
		return nil, false
	}
	v, ok := t.cache.Get(p)
	if !ok {
		return nil, false
	}
	return v.(dav.Node), true
}

func (t *Base) remember(p string, n dav.Node) {
	if t.cache != nil {
		t.cache.Set(p, n, cache.DefaultExpiration)
	}
}

// NodeForPath walks from the root to p one segment at a time.
func (t *Base) NodeForPath(ctx context.Context, p string) (dav.Node, error) {
	p = Normalize(p)
	if p == "" {
		return t.root, nil
	}
	if n, ok := t.cached(p); ok {
		return n, nil
	}

	parentPath, name := Split(p)
	parent, err := t.NodeForPath(ctx, parentPath)
	if err != nil {
		return nil, err
	}
	dir, ok := dav.AsDirectory(parent)
	if !ok {
		return nil, dav.ErrNotFound.With("Could not find node at path: %s", p)
	}
	n, err := dav.Child(ctx, dir, name)
	if err != nil {
		if dav.IsNotFound(err) {
			return nil, dav.ErrNotFound.With("Could not find node at path: %s", p)
		}
		return nil, errors.Wrapf(err, "resolve %s", p)
	}
	t.remember(p, n)
	return n, nil
}

func (t *Base) Lookup(ctx context.Context, p string) (mo.Option[dav.Node], error) {
	n, err := t.NodeForPath(ctx, p)
	if err != nil {
		if dav.IsNotFound(err) {
			return mo.None[dav.Node](), nil
		}
		return mo.None[dav.Node](), err
	}
	return mo.Some(n), nil
}

func (t *Base) NodeExists(ctx context.Context, p string) (bool, error) {
	opt, err := t.Lookup(ctx, p)
	if err != nil {
		return false, err
	}
	return opt.IsPresent(), nil
}

// Children lists the members of the collection at p. Non-collections have
// no members.
func (t *Base) Children(ctx context.Context, p string) ([]dav.Node, error) {
	n, err := t.NodeForPath(ctx, p)
	if err != nil {
		return nil, err
	}
	dir, ok := dav.AsDirectory(n)
	if !ok {
		return nil, nil
	}
	children, err := dir.Children(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", p)
	}
	for _, c := range children {
		t.remember(Join(p, c.Name()), c)
	}
	return children, nil
}

func (t *Base) Copy(context.Context, string, string, int) error {
	return dav.ErrNotImplemented.With("Copy is not supported by this tree")
}

func (t *Base) Move(context.Context, string, string) error {
	return dav.ErrNotImplemented.With("Move is not supported by this tree")
}

func (t *Base) Delete(ctx context.Context, p string) error {
	n, err := t.NodeForPath(ctx, p)
	if err != nil {
		return err
	}
	if err := n.Delete(ctx); err != nil {
		return errors.Wrapf(err, "delete %s", p)
	}
	t.MarkDirty(p)
	return nil
}

func (t *Base) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	n, err := t.NodeForPath(ctx, p)
	if err != nil {
		return nil, err
	}
	f, ok := dav.AsFile(n)
	if !ok {
		return nil, dav.ErrNotImplemented.With("%s is not a file", p)
	}
	return f.Get(ctx)
}

func (t *Base) Put(ctx context.Context, p string, data io.Reader) (bool, error) {
	opt, err := t.Lookup(ctx, p)
	if err != nil {
		return false, err
	}
	if n, ok := opt.Get(); ok {
		f, ok := dav.AsFile(n)
		if !ok {
			return false, dav.ErrConflict.With("PUT is not allowed on non-files.")
		}
		if err := f.Put(ctx, data); err != nil {
			return false, errors.Wrapf(err, "write %s", p)
		}
		t.MarkDirty(p)
		return false, nil
	}

	parentPath, name := Split(p)
	dir, err := t.parentDirectory(ctx, parentPath)
	if err != nil {
		return false, err
	}
	if err := dir.CreateFile(ctx, name, data); err != nil {
		return false, errors.Wrapf(err, "create %s", p)
	}
	t.MarkDirty(p)
	return true, nil
}

func (t *Base) CreateDirectory(ctx context.Context, p string) error {
	parentPath, name := Split(p)
	dir, err := t.parentDirectory(ctx, parentPath)
	if err != nil {
		return err
	}
	if err := dir.CreateDirectory(ctx, name); err != nil {
		return errors.Wrapf(err, "mkdir %s", p)
	}
	t.MarkDirty(p)
	return nil
}

func (t *Base) parentDirectory(ctx context.Context, p string) (dav.Directory, error) {
	n, err := t.NodeForPath(ctx, p)
	if err != nil {
		if dav.IsNotFound(err) {
			return nil, dav.ErrConflict.With("Parent node does not exist")
		}
		return nil, err
	}
	dir, ok := dav.AsDirectory(n)
	if !ok {
		return nil, dav.ErrConflict.With("Parent node is not a collection")
	}
	return dir, nil
}

func (t *Base) MarkDirty(p string) {
	if t.cache == nil {
		return
	}
	p = Normalize(p)
	if p == "" {
		t.cache.Flush()
		return
	}
	t.cache.Delete(p)
	prefix := p + "/"
	for k := range t.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			t.cache.Delete(k)
		}
	}
}
