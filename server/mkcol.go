package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/pkg/errors"
)

func (s *Server) httpMkcol(w http.ResponseWriter, r *http.Request, p string) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	resourceType := []dav.Name{dav.ResourceTypeCollection}
	var props map[dav.Name]dav.Property
	if len(bytes.TrimSpace(body)) > 0 {
		ct := strings.ToLower(r.Header.Get(headerContentType))
		if !strings.HasPrefix(ct, "application/xml") && !strings.HasPrefix(ct, "text/xml") {
			return dav.ErrUnsupportedMediaType.With("The request body for the MKCOL request must have an xml Content-Type")
		}
		doc, err := xml.ReadDocument(bytes.NewReader(body))
		if err != nil {
			return err
		}
		if props, err = xml.ParseCollectionBody(doc, dav.DAVName("mkcol")); err != nil {
			return err
		}
		rt, ok := props[dav.PropResourceType].(dav.ResourceType)
		if !ok {
			return dav.ErrBadRequest.With("The mkcol request must include a {DAV:}resourcetype property")
		}
		delete(props, dav.PropResourceType)
		resourceType = rt
		if !rt.Is(dav.ResourceTypeCollection) {
			return dav.ErrInvalidResourceType.With("The resourcetype must include {DAV:}collection")
		}
	}

	created, failed, err := s.CreateCollection(r.Context(), p, resourceType, props)
	if err != nil {
		return err
	}
	if failed != nil {
		return s.WriteMultistatus(w, []xml.Response{s.Response(failed, false)})
	}
	if created {
		writeStatus(w, http.StatusCreated)
	}
	return nil
}

// CreateCollection creates a collection at p with the given resource types
// and initial properties. created is false when a subscriber vetoed the bind.
// When the properties could not be stored the collection is removed again
// and failed holds the per-property statuses.
func (s *Server) CreateCollection(ctx context.Context, p string, resourceType []dav.Name, props map[dav.Name]dav.Property) (created bool, failed *ResourceProps, err error) {
	p = tree.Normalize(p)
	if p == "" {
		return false, nil, dav.ErrMethodNotAllowed.With("The resource you tried to create already exists")
	}
	parentPath, name := tree.Split(p)

	parent, err := s.tree.NodeForPath(ctx, parentPath)
	if err != nil {
		if dav.IsNotFound(err) {
			return false, nil, dav.ErrConflict.With("Parent node does not exist")
		}
		return false, nil, err
	}
	dir, ok := dav.AsDirectory(parent)
	if !ok {
		return false, nil, dav.ErrConflict.With("Parent node is not a collection")
	}
	exists, err := dav.ChildExists(ctx, dir, name)
	if err != nil {
		return false, nil, err
	}
	if exists {
		return false, nil, dav.ErrMethodNotAllowed.With("The resource you tried to create already exists")
	}

	ok, err = s.bus.Broadcast(ctx, EventBeforeBind, &PathEvent{Path: p})
	if err != nil || !ok {
		return false, nil, err
	}

	if ext, isExt := dav.AsExtendedCollection(dir); isExt {
		if err := ext.CreateExtendedCollection(ctx, name, resourceType, props); err != nil {
			return false, nil, errors.Wrapf(err, "create collection %s", p)
		}
		s.tree.MarkDirty(p)
	} else {
		if len(resourceType) > 1 {
			return false, nil, dav.ErrInvalidResourceType.With("The {DAV:}resourcetype you specified is not supported here.")
		}
		if err := dir.CreateDirectory(ctx, name); err != nil {
			return false, nil, errors.Wrapf(err, "create collection %s", p)
		}
		s.tree.MarkDirty(p)

		if len(props) > 0 {
			rp, err := s.UpdateProperties(ctx, p, propMutations(props))
			if err != nil || len(rp.Names(http.StatusOK)) != len(props) {
				s.logger.Warn("rolling back collection, properties rejected", "path", p, "error", err)
				if _, uerr := s.bus.Broadcast(ctx, EventBeforeUnbind, &PathEvent{Path: p}); uerr != nil {
					return false, nil, uerr
				}
				if derr := s.tree.Delete(ctx, p); derr != nil {
					return false, nil, derr
				}
				if err != nil {
					return false, nil, err
				}
				return false, rp, nil
			}
		}
	}

	if _, err := s.bus.Broadcast(ctx, EventAfterBind, &PathEvent{Path: p}); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// propMutations turns a property map into set mutations in name order.
func propMutations(props map[dav.Name]dav.Property) []dav.Mutation {
	names := make([]dav.Name, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	dav.SortNames(names)
	mutations := make([]dav.Mutation, len(names))
	for i, n := range names {
		mutations[i] = dav.Mutation{Name: n, Value: props[n]}
	}
	return mutations
}
