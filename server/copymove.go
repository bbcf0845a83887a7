package server

import (
	"context"
	"net/http"
	"net/url"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// copyMoveInfo holds the resolved preconditions of a COPY or MOVE.
type copyMoveInfo struct {
	source            string
	destination       string
	destinationExists bool
	destinationParent dav.Directory
}

// CalculateURI turns a Destination header, either a full URL or an absolute
// path, into a path relative to the base URI.
func (s *Server) CalculateURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", dav.ErrBadRequest.With("Invalid destination uri: %s", uri).Wrap(err)
	}
	return s.requestPath(u.Path)
}

func (s *Server) copyMoveInfo(ctx context.Context, r *http.Request, p string) (*copyMoveInfo, error) {
	dest := r.Header.Get(headerDestination)
	if dest == "" {
		return nil, dav.ErrBadRequest.With("The destination header was not supplied")
	}
	dst, err := s.CalculateURI(dest)
	if err != nil {
		return nil, err
	}
	overwrite, err := httpOverwrite(r)
	if err != nil {
		return nil, err
	}

	if _, err := s.tree.NodeForPath(ctx, p); err != nil {
		return nil, err
	}
	if dst == p {
		return nil, dav.ErrForbidden.With("Source and destination uri are identical.")
	}
	if tree.IsDescendant(dst, p) {
		return nil, dav.ErrConflict.With("The destination may not be part of the same subtree as the source path.")
	}
	if tree.IsDescendant(p, dst) {
		return nil, dav.ErrConflict.With("The destination may not be an ancestor of the source path.")
	}

	parentPath, _ := tree.Split(dst)
	parent, err := s.tree.NodeForPath(ctx, parentPath)
	if err != nil {
		if dav.IsNotFound(err) {
			return nil, dav.ErrConflict.With("The destination node is not found")
		}
		return nil, err
	}
	dir, ok := dav.AsDirectory(parent)
	if !ok {
		return nil, dav.ErrUnsupportedMediaType.With("The destination node is not a collection")
	}

	existing, err := s.tree.Lookup(ctx, dst)
	if err != nil {
		return nil, err
	}
	if existing.IsPresent() && !overwrite {
		return nil, dav.ErrPreconditionFailed.With("The destination node already exists, and the overwrite header is set to false")
	}

	return &copyMoveInfo{
		source:            p,
		destination:       dst,
		destinationExists: existing.IsPresent(),
		destinationParent: dir,
	}, nil
}

// clearDestination removes an existing destination. It reports false when a
// subscriber vetoed the removal.
func (s *Server) clearDestination(ctx context.Context, info *copyMoveInfo) (bool, error) {
	if !info.destinationExists {
		return true, nil
	}
	ok, err := s.bus.Broadcast(ctx, EventBeforeUnbind, &PathEvent{Path: info.destination})
	if err != nil || !ok {
		return false, err
	}
	if err := s.tree.Delete(ctx, info.destination); err != nil {
		return false, err
	}
	return true, nil
}

func (info *copyMoveInfo) status() int {
	if info.destinationExists {
		return http.StatusNoContent
	}
	return http.StatusCreated
}

func (s *Server) httpCopy(w http.ResponseWriter, r *http.Request, p string) error {
	ctx := r.Context()
	info, err := s.copyMoveInfo(ctx, r, p)
	if err != nil {
		return err
	}
	if ok, err := s.clearDestination(ctx, info); err != nil || !ok {
		return err
	}
	ok, err := s.bus.Broadcast(ctx, EventBeforeBind, &PathEvent{Path: info.destination})
	if err != nil || !ok {
		return err
	}

	depth := tree.DepthInfinity
	if HTTPDepth(r, tree.DepthInfinity) == 0 {
		depth = tree.DepthZero
	}
	if err := s.tree.Copy(ctx, info.source, info.destination, depth); err != nil {
		return err
	}

	if _, err := s.bus.Broadcast(ctx, EventAfterBind, &PathEvent{Path: info.destination}); err != nil {
		return err
	}
	writeStatus(w, info.status())
	return nil
}

func (s *Server) httpMove(w http.ResponseWriter, r *http.Request, p string) error {
	ctx := r.Context()
	info, err := s.copyMoveInfo(ctx, r, p)
	if err != nil {
		return err
	}
	if ok, err := s.clearDestination(ctx, info); err != nil || !ok {
		return err
	}
	ok, err := s.bus.Broadcast(ctx, EventBeforeUnbind, &PathEvent{Path: info.source})
	if err != nil || !ok {
		return err
	}
	ok, err = s.bus.Broadcast(ctx, EventBeforeBind, &PathEvent{Path: info.destination})
	if err != nil || !ok {
		return err
	}

	if err := s.tree.Move(ctx, info.source, info.destination); err != nil {
		return err
	}

	if _, err := s.bus.Broadcast(ctx, EventAfterBind, &PathEvent{Path: info.destination}); err != nil {
		return err
	}
	writeStatus(w, info.status())
	return nil
}
