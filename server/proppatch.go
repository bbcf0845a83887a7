package server

import (
	"context"
	"net/http"

	"github.com/cyp0633/libdav/internal/xml"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// protectedProperties can never be changed through PROPPATCH.
var protectedProperties = []dav.Name{
	dav.PropGetContentLength,
	dav.PropGetETag,
	dav.PropGetLastModified,
	dav.PropLockDiscovery,
	dav.PropResourceType,
	dav.PropSupportedLock,
	dav.PropQuotaAvailableBytes,
	dav.PropQuotaUsedBytes,
	dav.PropSupportedReportSet,
	dav.PropCurrentUserPrivSet,
	dav.PropACL,
}

// ProtectProperties marks additional properties as read-only.
func (s *Server) ProtectProperties(names ...dav.Name) {
	s.protected = append(s.protected, names...)
}

func (s *Server) isProtected(n dav.Name) bool {
	for _, p := range protectedProperties {
		if p == n {
			return true
		}
	}
	for _, p := range s.protected {
		if p == n {
			return true
		}
	}
	return false
}

func (s *Server) httpProppatch(w http.ResponseWriter, r *http.Request, p string) error {
	doc, err := xml.ReadDocument(r.Body)
	if err != nil {
		return err
	}
	mutations, err := xml.ParsePropertyUpdate(doc)
	if err != nil {
		return err
	}
	rp, err := s.UpdateProperties(r.Context(), p, mutations)
	if err != nil {
		return err
	}
	return s.WriteMultistatus(w, []xml.Response{s.Response(rp, false)})
}

// UpdateProperties applies mutations to the node at p as a single unit and
// returns the status of every property. If any mutation is rejected up
// front, none are applied and the others are reported as 424.
func (s *Server) UpdateProperties(ctx context.Context, p string, mutations []dav.Mutation) (*ResourceProps, error) {
	p = tree.Normalize(p)
	node, err := s.tree.NodeForPath(ctx, p)
	if err != nil {
		return nil, err
	}

	rp := NewResourceProps(p)
	_, rp.Collection = dav.AsDirectory(node)

	failed := false
	for _, m := range mutations {
		if s.isProtected(m.Name) {
			rp.SetStatus(m.Name, http.StatusForbidden)
			failed = true
		}
	}

	store, ok := dav.AsPropertyStore(node)
	if !ok {
		for _, m := range mutations {
			rp.SetStatus(m.Name, http.StatusForbidden)
		}
		return rp, nil
	}
	if failed {
		for _, m := range missing(rp, mutationNames(mutations)) {
			rp.SetStatus(m, http.StatusFailedDependency)
		}
		return rp, nil
	}

	result, err := store.UpdateProperties(ctx, mutations)
	if err != nil {
		return nil, err
	}
	for _, m := range mutations {
		switch status, ok := result[m.Name]; {
		case result == nil:
			rp.SetStatus(m.Name, http.StatusOK)
		case ok:
			rp.SetStatus(m.Name, status)
		default:
			rp.SetStatus(m.Name, http.StatusFailedDependency)
		}
	}
	return rp, nil
}

func mutationNames(mutations []dav.Mutation) []dav.Name {
	names := make([]dav.Name, len(mutations))
	for i, m := range mutations {
		names[i] = m.Name
	}
	return names
}
