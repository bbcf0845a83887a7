package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/libdav/server/dav"
)

// headerProperties are the properties mirrored into GET and HEAD headers.
var headerProperties = []dav.Name{
	dav.PropGetContentType,
	dav.PropGetContentLength,
	dav.PropGetLastModified,
	dav.PropGetETag,
}

// httpHeaders derives entity headers for p from its properties.
func (s *Server) httpHeaders(ctx context.Context, p string) (http.Header, error) {
	results, err := s.PropertiesForPath(ctx, p, headerProperties, 0)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	rp := results[0]
	if v, ok := rp.Value(dav.PropGetContentType); ok {
		if t, ok := v.(dav.Text); ok && t != "" {
			h.Set(headerContentType, string(t))
		}
	}
	if v, ok := rp.Value(dav.PropGetContentLength); ok {
		if n, ok := v.(dav.Int); ok {
			h.Set(headerContentLength, strconv.FormatInt(int64(n), 10))
		}
	}
	if v, ok := rp.Value(dav.PropGetLastModified); ok {
		if t, ok := v.(dav.LastModified); ok {
			h.Set(headerLastModified, time.Time(t).UTC().Format(http.TimeFormat))
		}
	}
	if v, ok := rp.Value(dav.PropGetETag); ok {
		if t, ok := v.(dav.Text); ok && t != "" {
			h.Set(headerETag, string(t))
		}
	}
	if h.Get(headerContentType) == "" {
		h.Set(headerContentType, mimeTypeOctetStream)
	}
	return h, nil
}

func copyHeaders(w http.ResponseWriter, h http.Header) {
	for k, v := range h {
		w.Header()[k] = v
	}
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func (s *Server) httpGet(w http.ResponseWriter, r *http.Request, p string) error {
	ctx := r.Context()
	node, err := s.tree.NodeForPath(ctx, p)
	if err != nil {
		return err
	}
	f, ok := dav.AsFile(node)
	if !ok {
		return dav.ErrNotImplemented.With("GET is only implemented on File objects")
	}

	headers, err := s.httpHeaders(ctx, p)
	if err != nil {
		return err
	}
	if inm := r.Header.Get(headerIfNoneMatch); inm != "" {
		if etag := headers.Get(headerETag); etag != "" && etagMatches(inm, etag) {
			headers.Del(headerContentLength)
			copyHeaders(w, headers)
			w.WriteHeader(http.StatusNotModified)
			return nil
		}
	}

	body, err := f.Get(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	size := int64(-1)
	if cl := headers.Get(headerContentLength); cl != "" {
		size, _ = strconv.ParseInt(cl, 10, 64)
	}

	if rng, ok := httpRange(r); ok && size >= 0 {
		start, end, err := rng.resolve(size)
		if err != nil {
			return err
		}
		if err := skip(body, start); err != nil {
			return err
		}
		length := end - start + 1
		headers.Set(headerContentLength, strconv.FormatInt(length, 10))
		headers.Set(headerContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		copyHeaders(w, headers)
		w.WriteHeader(http.StatusPartialContent)
		_, err = io.CopyN(w, body, length)
		return err
	}

	copyHeaders(w, headers)
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, body)
	return err
}

// skip advances body by n bytes.
func skip(body io.Reader, n int64) error {
	if n == 0 {
		return nil
	}
	if seeker, ok := body.(io.Seeker); ok {
		_, err := seeker.Seek(n, io.SeekStart)
		return err
	}
	_, err := io.CopyN(io.Discard, body, n)
	return err
}

// httpHead answers with the GET headers. Nodes without content still get a
// plain 200.
func (s *Server) httpHead(w http.ResponseWriter, r *http.Request, p string) error {
	ctx := r.Context()
	node, err := s.tree.NodeForPath(ctx, p)
	if err != nil {
		return err
	}
	if _, ok := dav.AsFile(node); ok {
		headers, err := s.httpHeaders(ctx, p)
		if err != nil {
			return err
		}
		copyHeaders(w, headers)
	}
	w.WriteHeader(http.StatusOK)
	return nil
}
