// Package fs serves a directory tree of an afero filesystem. Dead properties
// live in a propstore.Store keyed by the path below the root, and content
// types are sniffed from the file content.
package fs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage/propstore"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Option configures the backend.
type Option func(*backend)

// WithPropertyStore sets where dead properties are kept. Without it they
// are held in memory and lost on restart.
func WithPropertyStore(ps propstore.Store) Option {
	return func(b *backend) {
		b.props = ps
	}
}

// WithExtendedCollections lets collections be created with a resource type
// and initial properties in one step, which MKCALENDAR needs.
func WithExtendedCollections() Option {
	return func(b *backend) {
		b.extended = true
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type backend struct {
	fs       afero.Fs
	props    propstore.Store
	extended bool
	logger   *slog.Logger
}

// New returns the root collection of fsys.
func New(fsys afero.Fs, opts ...Option) dav.Directory {
	b := &backend{
		fs:     fsys,
		props:  propstore.NewMemory(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.directory("")
}

// NewOS serves the directory root of the local filesystem.
func NewOS(root string, opts ...Option) (dav.Directory, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), opts...), nil
}

func (b *backend) directory(p string) dav.Directory {
	d := &Directory{node{b: b, path: p}}
	if b.extended {
		return &ExtendedDirectory{d}
	}
	return d
}

func (b *backend) nodeFor(p string, info os.FileInfo) dav.Node {
	if info.IsDir() {
		return b.directory(p)
	}
	return &File{node{b: b, path: p}}
}

// translate maps backend errors onto dav errors.
func translate(err error, p string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return dav.ErrNotFound.With("%s not found", p).Wrap(err)
	case errors.Is(err, os.ErrExist):
		return dav.ErrMethodNotAllowed.With("%s already exists", p).Wrap(err)
	case errors.Is(err, os.ErrPermission):
		return dav.ErrForbidden.With("Permission denied on %s", p).Wrap(err)
	}
	return errors.Wrapf(err, "filesystem operation on %s", p)
}

// node is what files and directories have in common. path is relative to
// the root, "" being the root itself.
type node struct {
	b    *backend
	path string
}

func (n *node) osPath() string {
	return "/" + n.path
}

func (n *node) Name() string {
	if n.path == "" {
		return ""
	}
	return path.Base(n.path)
}

func (n *node) LastModified() time.Time {
	info, err := n.b.fs.Stat(n.osPath())
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (n *node) SetName(ctx context.Context, name string) error {
	if n.path == "" {
		return dav.ErrForbidden.With("The root cannot be renamed")
	}
	dst := path.Join(path.Dir(n.osPath()), name)[1:]
	if exists, err := afero.Exists(n.b.fs, "/"+dst); err != nil {
		return translate(err, dst)
	} else if exists {
		return dav.ErrConflict.With("%s already exists", name)
	}
	if err := n.b.fs.Rename(n.osPath(), "/"+dst); err != nil {
		return translate(err, n.path)
	}
	if err := n.b.props.Move(ctx, n.path, dst); err != nil {
		n.b.logger.Error("failed to move properties", "from", n.path, "to", dst, "error", err)
		return err
	}
	n.path = dst
	return nil
}

func (n *node) Delete(ctx context.Context) error {
	if n.path == "" {
		return dav.ErrForbidden.With("The root cannot be deleted")
	}
	if err := n.b.fs.RemoveAll(n.osPath()); err != nil {
		return translate(err, n.path)
	}
	return n.b.props.Delete(ctx, n.path)
}

func (n *node) Properties(ctx context.Context, names []dav.Name) (map[dav.Name]dav.Property, error) {
	return n.b.props.Get(ctx, n.path, names)
}

// UpdateProperties stores dead properties. resourcetype is rejected, in
// which case nothing is applied.
func (n *node) UpdateProperties(ctx context.Context, mutations []dav.Mutation) (map[dav.Name]int, error) {
	for _, m := range mutations {
		if m.Name == dav.PropResourceType {
			return map[dav.Name]int{m.Name: 403}, nil
		}
	}
	if err := n.b.props.Update(ctx, n.path, mutations); err != nil {
		return nil, err
	}
	return nil, nil
}

// File is a regular file.
type File struct {
	node
}

func (f *File) Get(_ context.Context) (io.ReadCloser, error) {
	fh, err := f.b.fs.Open(f.osPath())
	if err != nil {
		return nil, translate(err, f.path)
	}
	return fh, nil
}

func (f *File) Put(_ context.Context, data io.Reader) error {
	return writeFile(f.b.fs, f.osPath(), data, os.O_WRONLY|os.O_TRUNC)
}

func writeFile(fsys afero.Fs, p string, data io.Reader, flag int) error {
	fh, err := fsys.OpenFile(p, flag, 0o644)
	if err != nil {
		return translate(err, strings.TrimPrefix(p, "/"))
	}
	if _, err := io.Copy(fh, data); err != nil {
		fh.Close()
		return errors.Wrapf(err, "write %s", p)
	}
	return errors.Wrapf(fh.Close(), "close %s", p)
}

func (f *File) Size() int64 {
	info, err := f.b.fs.Stat(f.osPath())
	if err != nil {
		return -1
	}
	return info.Size()
}

// ETag derives the tag from modification time and size.
func (f *File) ETag() string {
	info, err := f.b.fs.Stat(f.osPath())
	if err != nil {
		return ""
	}
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

// ContentType sniffs the content. An empty file has no content type.
func (f *File) ContentType() string {
	if f.Size() <= 0 {
		return ""
	}
	fh, err := f.b.fs.Open(f.osPath())
	if err != nil {
		return ""
	}
	defer fh.Close()
	mt, err := mimetype.DetectReader(fh)
	if err != nil {
		f.b.logger.Debug("content type detection failed", "path", f.path, "error", err)
		return ""
	}
	return mt.String()
}

// Directory is a filesystem directory.
type Directory struct {
	node
}

func (d *Directory) child(name string) string {
	if d.path == "" {
		return name
	}
	return d.path + "/" + name
}

func (d *Directory) Children(_ context.Context) ([]dav.Node, error) {
	infos, err := afero.ReadDir(d.b.fs, d.osPath())
	if err != nil {
		return nil, translate(err, d.path)
	}
	slices.SortFunc(infos, func(a, b os.FileInfo) int { return strings.Compare(a.Name(), b.Name()) })
	nodes := make([]dav.Node, 0, len(infos))
	for _, info := range infos {
		nodes = append(nodes, d.b.nodeFor(d.child(info.Name()), info))
	}
	return nodes, nil
}

func (d *Directory) Child(_ context.Context, name string) (dav.Node, error) {
	p := d.child(name)
	info, err := d.b.fs.Stat("/" + p)
	if err != nil {
		return nil, translate(err, p)
	}
	return d.b.nodeFor(p, info), nil
}

func (d *Directory) CreateFile(_ context.Context, name string, data io.Reader) error {
	return writeFile(d.b.fs, "/"+d.child(name), data, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
}

func (d *Directory) CreateDirectory(_ context.Context, name string) error {
	p := d.child(name)
	return translate(d.b.fs.Mkdir("/"+p, 0o755), p)
}

// ExtendedDirectory is a Directory that accepts extended MKCOL. The
// resource type of created collections is kept as a dead property.
type ExtendedDirectory struct {
	*Directory
}

func (d *ExtendedDirectory) CreateExtendedCollection(ctx context.Context, name string, resourceType []dav.Name, props map[dav.Name]dav.Property) error {
	if err := d.CreateDirectory(ctx, name); err != nil {
		return err
	}
	p := d.child(name)
	mutations := []dav.Mutation{{Name: dav.PropResourceType, Value: dav.ResourceType(resourceType)}}
	for n, v := range props {
		mutations = append(mutations, dav.Mutation{Name: n, Value: v})
	}
	if err := d.b.props.Update(ctx, p, mutations); err != nil {
		if rerr := d.b.fs.Remove("/" + p); rerr != nil {
			d.b.logger.Error("failed to remove collection after property error", "path", p, "error", rerr)
		}
		return err
	}
	return nil
}
