package memory

import (
	"bytes"
	"context"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/cyp0633/libdav/server/dav"
)

// entry holds what files and directories have in common.
type entry struct {
	st       *store
	name     string
	parent   *Directory
	modified time.Time
	props    map[dav.Name]dav.Property
	aces     []dav.ACE
}

func (e *entry) Name() string {
	e.st.mu.RLock()
	defer e.st.mu.RUnlock()
	return e.name
}

func (e *entry) LastModified() time.Time {
	e.st.mu.RLock()
	defer e.st.mu.RUnlock()
	return e.modified
}

func (e *entry) SetName(_ context.Context, name string) error {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()

	if e.parent == nil {
		return dav.ErrForbidden.With("The root cannot be renamed")
	}
	if _, exists := e.parent.children[name]; exists {
		return dav.ErrConflict.With("%s already exists", name)
	}
	n := e.parent.children[e.name]
	delete(e.parent.children, e.name)
	e.parent.children[name] = n
	e.name = name
	e.parent.modified = e.st.now()
	return nil
}

func (e *entry) Delete(_ context.Context) error {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()

	if e.parent == nil {
		return dav.ErrForbidden.With("The root cannot be deleted")
	}
	n := e.parent.children[e.name]
	e.st.used -= sizeOf(n)
	delete(e.parent.children, e.name)
	e.parent.modified = e.st.now()
	e.parent = nil
	return nil
}

// sizeOf returns the content size stored below n. Callers hold the lock.
func sizeOf(n dav.Node) int64 {
	switch v := n.(type) {
	case *File:
		return int64(len(v.data))
	case *ExtendedDirectory:
		return sizeOf(v.Directory)
	case *Directory:
		var total int64
		for _, c := range v.children {
			total += sizeOf(c)
		}
		return total
	}
	return 0
}

func (e *entry) Properties(_ context.Context, names []dav.Name) (map[dav.Name]dav.Property, error) {
	e.st.mu.RLock()
	defer e.st.mu.RUnlock()

	if len(names) == 0 {
		return maps.Clone(e.props), nil
	}
	result := make(map[dav.Name]dav.Property)
	for _, n := range names {
		if v, ok := e.props[n]; ok {
			result[n] = v
		}
	}
	return result, nil
}

// UpdateProperties stores dead properties. resourcetype is rejected, in
// which case nothing is applied.
func (e *entry) UpdateProperties(_ context.Context, mutations []dav.Mutation) (map[dav.Name]int, error) {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()

	var failed map[dav.Name]int
	for _, m := range mutations {
		if m.Name == dav.PropResourceType {
			if failed == nil {
				failed = make(map[dav.Name]int)
			}
			failed[m.Name] = 403
		}
	}
	if failed != nil {
		return failed, nil
	}

	if e.props == nil {
		e.props = make(map[dav.Name]dav.Property)
	}
	for _, m := range mutations {
		if m.Remove() {
			delete(e.props, m.Name)
		} else {
			e.props[m.Name] = m.Value
		}
	}
	return nil, nil
}

func (e *entry) Owner() string {
	return e.st.owner
}

func (e *entry) Group() string {
	return ""
}

func (e *entry) ACL() []dav.ACE {
	e.st.mu.RLock()
	defer e.st.mu.RUnlock()
	return append([]dav.ACE(nil), e.aces...)
}

func (e *entry) SetACL(_ context.Context, aces []dav.ACE) error {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	e.aces = append([]dav.ACE(nil), aces...)
	return nil
}

// File is an in-memory file.
type File struct {
	entry
	data        []byte
	etag        string
	contentType string
}

func (f *File) Get(_ context.Context) (io.ReadCloser, error) {
	f.st.mu.RLock()
	defer f.st.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (f *File) Put(_ context.Context, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	f.st.mu.Lock()
	defer f.st.mu.Unlock()

	delta := int64(len(b) - len(f.data))
	if f.st.limit > 0 && f.st.used+delta > f.st.limit {
		return dav.ErrInsufficientStorage.With("Quota exceeded")
	}
	f.st.used += delta
	f.data = b
	f.etag = generateETag(b)
	f.modified = f.st.now()
	return nil
}

func (f *File) Size() int64 {
	f.st.mu.RLock()
	defer f.st.mu.RUnlock()
	return int64(len(f.data))
}

func (f *File) ETag() string {
	f.st.mu.RLock()
	defer f.st.mu.RUnlock()
	return f.etag
}

func (f *File) ContentType() string {
	f.st.mu.RLock()
	defer f.st.mu.RUnlock()
	return f.contentType
}

// SetContentType sets the value reported by ContentType.
func (f *File) SetContentType(ct string) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.contentType = ct
}

// Directory is an in-memory collection.
type Directory struct {
	entry
	children map[string]dav.Node
}

func (d *Directory) Children(_ context.Context) ([]dav.Node, error) {
	d.st.mu.RLock()
	defer d.st.mu.RUnlock()

	names := make([]string, 0, len(d.children))
	for n := range d.children {
		names = append(names, n)
	}
	slices.Sort(names)
	result := make([]dav.Node, 0, len(names))
	for _, n := range names {
		result = append(result, d.children[n])
	}
	return result, nil
}

func (d *Directory) Child(_ context.Context, name string) (dav.Node, error) {
	d.st.mu.RLock()
	defer d.st.mu.RUnlock()

	n, ok := d.children[name]
	if !ok {
		return nil, dav.ErrNotFound.With("%s not found", name)
	}
	return n, nil
}

func (d *Directory) CreateFile(_ context.Context, name string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	d.st.mu.Lock()
	defer d.st.mu.Unlock()

	if _, exists := d.children[name]; exists {
		return dav.ErrMethodNotAllowed.With("%s already exists", name)
	}
	if d.st.limit > 0 && d.st.used+int64(len(b)) > d.st.limit {
		return dav.ErrInsufficientStorage.With("Quota exceeded")
	}
	d.st.used += int64(len(b))
	d.children[name] = d.newFile(name, b)
	d.modified = d.st.now()
	return nil
}

func (d *Directory) CreateDirectory(_ context.Context, name string) error {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()

	if _, exists := d.children[name]; exists {
		return dav.ErrMethodNotAllowed.With("%s already exists", name)
	}
	d.children[name] = wrap(d.newDirectory(name))
	d.modified = d.st.now()
	return nil
}

func (d *Directory) QuotaInfo(_ context.Context) (int64, int64, error) {
	d.st.mu.RLock()
	defer d.st.mu.RUnlock()

	if d.st.limit <= 0 {
		return d.st.used, -1, nil
	}
	return d.st.used, d.st.limit - d.st.used, nil
}

func (d *Directory) newFile(name string, data []byte) *File {
	return &File{
		entry: entry{st: d.st, name: name, parent: d, modified: d.st.now()},
		data:  data,
		etag:  generateETag(data),
	}
}

func (d *Directory) newDirectory(name string) *Directory {
	return &Directory{
		entry:    entry{st: d.st, name: name, parent: d, modified: d.st.now()},
		children: make(map[string]dav.Node),
	}
}

// AddFile seeds a file, replacing any existing child called name.
func (d *Directory) AddFile(name string, data []byte) *File {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()

	d.st.used -= sizeOf(d.children[name])
	f := d.newFile(name, data)
	d.children[name] = f
	d.st.used += int64(len(data))
	return f
}

// AddDirectory seeds a collection, replacing any existing child called name.
func (d *Directory) AddDirectory(name string) *Directory {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()

	d.st.used -= sizeOf(d.children[name])
	sub := d.newDirectory(name)
	d.children[name] = wrap(sub)
	return sub
}

// ExtendedDirectory is a Directory that accepts extended MKCOL.
type ExtendedDirectory struct {
	*Directory
}

func (d *ExtendedDirectory) CreateExtendedCollection(_ context.Context, name string, resourceType []dav.Name, props map[dav.Name]dav.Property) error {
	d.st.mu.Lock()
	defer d.st.mu.Unlock()

	if _, exists := d.children[name]; exists {
		return dav.ErrMethodNotAllowed.With("%s already exists", name)
	}
	sub := d.newDirectory(name)
	sub.props = maps.Clone(props)
	if sub.props == nil {
		sub.props = make(map[dav.Name]dav.Property)
	}
	sub.props[dav.PropResourceType] = dav.ResourceType(append([]dav.Name(nil), resourceType...))
	d.children[name] = wrap(sub)
	d.modified = d.st.now()
	return nil
}
