// Package s3 serves a bucket, or a key prefix of it, as a collection tree.
// Files are objects; a collection is the key prefix ending in "/", with an
// empty marker object so that empty collections survive. Dead properties
// live in a propstore.Store.
package s3

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage/propstore"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// API is the part of the S3 client the backend uses. *s3.Client
// implements it.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Option configures the backend.
type Option func(*backend)

// WithPrefix serves only the keys below prefix.
func WithPrefix(prefix string) Option {
	return func(b *backend) {
		b.prefix = strings.Trim(prefix, "/")
		if b.prefix != "" {
			b.prefix += "/"
		}
	}
}

// WithPropertyStore sets where dead properties are kept.
func WithPropertyStore(ps propstore.Store) Option {
	return func(b *backend) {
		b.props = ps
	}
}

// WithExtendedCollections lets collections be created with a resource type
// and initial properties in one step.
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
	api      API
	bucket   string
	prefix   string
	props    propstore.Store
	extended bool
	logger   *slog.Logger
}

// New returns the root collection of bucket.
func New(api API, bucket string, opts ...Option) dav.Directory {
	b := &backend{
		api:    api,
		bucket: bucket,
		props:  propstore.NewMemory(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.directory("")
}

func (b *backend) directory(p string) dav.Directory {
	d := &Directory{node{b: b, path: p}}
	if b.extended {
		return &ExtendedDirectory{d}
	}
	return d
}

func (b *backend) fileKey(p string) string {
	return b.prefix + p
}

func (b *backend) dirKey(p string) string {
	if p == "" {
		return b.prefix
	}
	return b.prefix + p + "/"
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (b *backend) wrap(err error, op, p string) error {
	if isNotFound(err) {
		return dav.ErrNotFound.With("%s not found", p).Wrap(err)
	}
	b.logger.Error("object store request failed", "op", op, "path", p, "error", err)
	return errors.Wrapf(err, "%s %s", op, p)
}

// keysUnder lists every key starting with prefix.
func (b *backend) keysUnder(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// dirExists reports whether anything, marker included, lives below p.
func (b *backend) dirExists(ctx context.Context, p string) (bool, error) {
	out, err := b.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

func (b *backend) copyObject(ctx context.Context, src, dst string) error {
	source := (&url.URL{Path: b.bucket + "/" + src}).EscapedPath()
	_, err := b.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(source),
	})
	return err
}

func (b *backend) deleteObject(ctx context.Context, key string) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	return err
}

type node struct {
	b    *backend
	path string
}

func (n *node) Name() string {
	if n.path == "" {
		return ""
	}
	return path.Base(n.path)
}

func (n *node) target(name string) string {
	if dir := path.Dir(n.path); dir != "." {
		return dir + "/" + name
	}
	return name
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

// File is an object.
type File struct {
	node
	size        int64
	etag        string
	contentType string
	modified    time.Time
}

func (b *backend) fileFromHead(p string, out *s3.HeadObjectOutput) *File {
	return &File{
		node:        node{b: b, path: p},
		size:        aws.ToInt64(out.ContentLength),
		etag:        aws.ToString(out.ETag),
		contentType: aws.ToString(out.ContentType),
		modified:    aws.ToTime(out.LastModified),
	}
}

func (f *File) LastModified() time.Time {
	return f.modified
}

func (f *File) Size() int64 {
	return f.size
}

func (f *File) ETag() string {
	return f.etag
}

func (f *File) ContentType() string {
	return f.contentType
}

func (f *File) Get(ctx context.Context) (io.ReadCloser, error) {
	out, err := f.b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.b.bucket),
		Key:    aws.String(f.b.fileKey(f.path)),
	})
	if err != nil {
		return nil, f.b.wrap(err, "get", f.path)
	}
	return out.Body, nil
}

func (f *File) Put(ctx context.Context, data io.Reader) error {
	out, err := f.b.put(ctx, f.path, data)
	if err != nil {
		return err
	}
	f.size, f.etag, f.contentType, f.modified = out.size, out.etag, out.contentType, out.modified
	return nil
}

// put uploads data as the object for p. The body is buffered because
// request signing needs a seekable payload.
func (b *backend) put(ctx context.Context, p string, data io.Reader) (*File, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return nil, errors.Wrapf(err, "read body for %s", p)
	}
	ct := ""
	if len(body) > 0 {
		ct = mimetype.Detect(body).String()
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fileKey(p)),
		Body:   bytes.NewReader(body),
	}
	if ct != "" {
		in.ContentType = aws.String(ct)
	}
	out, err := b.api.PutObject(ctx, in)
	if err != nil {
		return nil, b.wrap(err, "put", p)
	}
	return &File{
		node:        node{b: b, path: p},
		size:        int64(len(body)),
		etag:        aws.ToString(out.ETag),
		contentType: ct,
		modified:    time.Now(),
	}, nil
}

func (f *File) SetName(ctx context.Context, name string) error {
	dst := f.target(name)
	if _, err := f.b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.b.bucket),
		Key:    aws.String(f.b.fileKey(dst)),
	}); err == nil {
		return dav.ErrConflict.With("%s already exists", name)
	} else if !isNotFound(err) {
		return f.b.wrap(err, "head", dst)
	}

	if err := f.b.copyObject(ctx, f.b.fileKey(f.path), f.b.fileKey(dst)); err != nil {
		return f.b.wrap(err, "copy", f.path)
	}
	if err := f.b.deleteObject(ctx, f.b.fileKey(f.path)); err != nil {
		return f.b.wrap(err, "delete", f.path)
	}
	if err := f.b.props.Move(ctx, f.path, dst); err != nil {
		return err
	}
	f.path = dst
	return nil
}

func (f *File) Delete(ctx context.Context) error {
	if err := f.b.deleteObject(ctx, f.b.fileKey(f.path)); err != nil {
		return f.b.wrap(err, "delete", f.path)
	}
	return f.b.props.Delete(ctx, f.path)
}

// Directory is a key prefix.
type Directory struct {
	node
}

func (d *Directory) child(name string) string {
	if d.path == "" {
		return name
	}
	return d.path + "/" + name
}

func (d *Directory) LastModified() time.Time {
	return time.Time{}
}

func (d *Directory) Children(ctx context.Context) ([]dav.Node, error) {
	prefix := d.b.dirKey(d.path)
	pages := s3.NewListObjectsV2Paginator(d.b.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var nodes []dav.Node
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, d.b.wrap(err, "list", d.path)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				nodes = append(nodes, d.b.directory(d.child(name)))
			}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			nodes = append(nodes, &File{
				node:     node{b: d.b, path: d.child(strings.TrimPrefix(key, prefix))},
				size:     aws.ToInt64(obj.Size),
				etag:     aws.ToString(obj.ETag),
				modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	slices.SortFunc(nodes, func(a, b dav.Node) int { return strings.Compare(a.Name(), b.Name()) })
	return nodes, nil
}

func (d *Directory) Child(ctx context.Context, name string) (dav.Node, error) {
	p := d.child(name)
	out, err := d.b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.b.bucket),
		Key:    aws.String(d.b.fileKey(p)),
	})
	if err == nil {
		return d.b.fileFromHead(p, out), nil
	}
	if !isNotFound(err) {
		return nil, d.b.wrap(err, "head", p)
	}
	exists, err := d.b.dirExists(ctx, p)
	if err != nil {
		return nil, d.b.wrap(err, "list", p)
	}
	if !exists {
		return nil, dav.ErrNotFound.With("%s not found", p)
	}
	return d.b.directory(p), nil
}

func (d *Directory) CreateFile(ctx context.Context, name string, data io.Reader) error {
	if exists, err := dav.ChildExists(ctx, d, name); err != nil {
		return err
	} else if exists {
		return dav.ErrMethodNotAllowed.With("%s already exists", name)
	}
	_, err := d.b.put(ctx, d.child(name), data)
	return err
}

func (d *Directory) CreateDirectory(ctx context.Context, name string) error {
	if exists, err := dav.ChildExists(ctx, d, name); err != nil {
		return err
	} else if exists {
		return dav.ErrMethodNotAllowed.With("%s already exists", name)
	}
	p := d.child(name)
	_, err := d.b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.b.bucket),
		Key:    aws.String(d.b.dirKey(p)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return d.b.wrap(err, "mkdir", p)
	}
	return nil
}

// SetName copies every object below the collection to the new prefix and
// deletes the originals.
func (d *Directory) SetName(ctx context.Context, name string) error {
	if d.path == "" {
		return dav.ErrForbidden.With("The root cannot be renamed")
	}
	dst := d.target(name)
	exists, err := d.b.dirExists(ctx, dst)
	if err != nil {
		return d.b.wrap(err, "list", dst)
	}
	if exists {
		return dav.ErrConflict.With("%s already exists", name)
	}

	src := d.b.dirKey(d.path)
	keys, err := d.b.keysUnder(ctx, src)
	if err != nil {
		return d.b.wrap(err, "list", d.path)
	}
	for _, key := range keys {
		if err := d.b.copyObject(ctx, key, d.b.dirKey(dst)+strings.TrimPrefix(key, src)); err != nil {
			return d.b.wrap(err, "copy", key)
		}
	}
	for _, key := range keys {
		if err := d.b.deleteObject(ctx, key); err != nil {
			return d.b.wrap(err, "delete", key)
		}
	}
	if err := d.b.props.Move(ctx, d.path, dst); err != nil {
		return err
	}
	d.path = dst
	return nil
}

func (d *Directory) Delete(ctx context.Context) error {
	if d.path == "" {
		return dav.ErrForbidden.With("The root cannot be deleted")
	}
	keys, err := d.b.keysUnder(ctx, d.b.dirKey(d.path))
	if err != nil {
		return d.b.wrap(err, "list", d.path)
	}
	for _, key := range keys {
		if err := d.b.deleteObject(ctx, key); err != nil {
			return d.b.wrap(err, "delete", key)
		}
	}
	return d.b.props.Delete(ctx, d.path)
}

// ExtendedDirectory is a Directory that accepts extended MKCOL.
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
		if derr := d.b.deleteObject(ctx, d.b.dirKey(p)); derr != nil {
			d.b.logger.Error("failed to remove collection after property error", "path", p, "error", derr)
		}
		return err
	}
	return nil
}
