package server

import (
	"context"
	"io"
	"net/http"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/pkg/errors"
)

// httpPut updates an existing file (200) or creates a new one (201).
func (s *Server) httpPut(w http.ResponseWriter, r *http.Request, p string) error {
	ctx := r.Context()
	opt, err := s.tree.Lookup(ctx, p)
	if err != nil {
		return err
	}

	node, exists := opt.Get()
	if !exists {
		ok, err := s.CreateFile(ctx, p, r.Body)
		if err != nil || !ok {
			return err
		}
		s.setETag(ctx, w, p)
		writeStatus(w, http.StatusCreated)
		return nil
	}

	if r.Header.Get(headerIfNoneMatch) != "" {
		return dav.ErrPreconditionFailed.With("An If-None-Match header was specified, but the ETag matched (or * was specified).")
	}
	f, ok := dav.AsFile(node)
	if !ok {
		return dav.ErrConflict.With("PUT is not allowed on non-files.")
	}

	ev := &WriteContentEvent{Path: p, Node: f, Body: r.Body}
	ok, err = s.bus.Broadcast(ctx, EventBeforeWriteContent, ev)
	if err != nil || !ok {
		return err
	}
	if err := f.Put(ctx, ev.Body); err != nil {
		return errors.Wrapf(err, "write %s", p)
	}
	s.tree.MarkDirty(p)
	s.setETag(ctx, w, p)
	writeStatus(w, http.StatusOK)
	return nil
}

// setETag sends the ETag of the freshly written file when the backend
// knows it.
func (s *Server) setETag(ctx context.Context, w http.ResponseWriter, p string) {
	n, err := s.tree.NodeForPath(ctx, p)
	if err != nil {
		return
	}
	if f, ok := dav.AsFile(n); ok && f.ETag() != "" {
		w.Header().Set(headerETag, f.ETag())
	}
}

// CreateFile creates a new file at p with data, firing the bind events.
// It reports false when a subscriber vetoed the creation.
func (s *Server) CreateFile(ctx context.Context, p string, data io.Reader) (bool, error) {
	p = tree.Normalize(p)
	ok, err := s.bus.Broadcast(ctx, EventBeforeBind, &PathEvent{Path: p})
	if err != nil || !ok {
		return false, err
	}

	parentPath, name := tree.Split(p)
	parent, err := s.tree.NodeForPath(ctx, parentPath)
	if err != nil {
		if dav.IsNotFound(err) {
			return false, dav.ErrConflict.With("Files can only be created as children of collections")
		}
		return false, err
	}
	dir, isDir := dav.AsDirectory(parent)
	if !isDir {
		return false, dav.ErrConflict.With("Files can only be created as children of collections")
	}

	ev := &CreateFileEvent{Path: p, Parent: dir, Body: data}
	ok, err = s.bus.Broadcast(ctx, EventBeforeCreateFile, ev)
	if err != nil || !ok {
		return false, err
	}
	if err := dir.CreateFile(ctx, name, ev.Body); err != nil {
		return false, errors.Wrapf(err, "create %s", p)
	}
	s.tree.MarkDirty(p)

	if _, err := s.bus.Broadcast(ctx, EventAfterBind, &PathEvent{Path: p}); err != nil {
		return false, err
	}
	return true, nil
}
