package server

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/samber/mo"
)

// defaultProperties are returned for allprop requests.
var defaultProperties = []dav.Name{
	dav.PropGetLastModified,
	dav.PropGetContentLength,
	dav.PropResourceType,
	dav.PropQuotaUsedBytes,
	dav.PropQuotaAvailableBytes,
	dav.PropGetETag,
	dav.PropGetContentType,
}

// ResourceProps is the property result for one resource. Each property name
// has exactly one status; only properties with status 200 carry a value.
type ResourceProps struct {
	Path       string
	Collection bool
	status     map[dav.Name]int
	values     map[dav.Name]dav.Property
}

// NewResourceProps creates an empty result for p.
func NewResourceProps(p string) *ResourceProps {
	return &ResourceProps{
		Path:   p,
		status: make(map[dav.Name]int),
		values: make(map[dav.Name]dav.Property),
	}
}

// Set records a found property.
func (r *ResourceProps) Set(name dav.Name, value dav.Property) {
	r.status[name] = http.StatusOK
	r.values[name] = value
}

// SetStatus records a non-200 status for name, dropping any value.
func (r *ResourceProps) SetStatus(name dav.Name, status int) {
	if status == http.StatusOK {
		if _, ok := r.values[name]; ok {
			return
		}
	}
	r.status[name] = status
	delete(r.values, name)
}

// Remove forgets name entirely.
func (r *ResourceProps) Remove(name dav.Name) {
	delete(r.status, name)
	delete(r.values, name)
}

// Has reports whether name already has a status.
func (r *ResourceProps) Has(name dav.Name) bool {
	_, ok := r.status[name]
	return ok
}

// Status returns the status of name.
func (r *ResourceProps) Status(name dav.Name) (int, bool) {
	s, ok := r.status[name]
	return s, ok
}

// Value returns the value of a found property.
func (r *ResourceProps) Value(name dav.Name) (dav.Property, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names returns the names with the given status, sorted.
func (r *ResourceProps) Names(status int) []dav.Name {
	var names []dav.Name
	for n, s := range r.status {
		if s == status {
			names = append(names, n)
		}
	}
	dav.SortNames(names)
	return names
}

// Statuses returns every status present, ascending.
func (r *ResourceProps) Statuses() []int {
	var statuses []int
	for _, s := range r.status {
		if !slices.Contains(statuses, s) {
			statuses = append(statuses, s)
		}
	}
	slices.Sort(statuses)
	return statuses
}

// Downgrade moves every found property to status, e.g. 403.
func (r *ResourceProps) Downgrade(status int) {
	for n, s := range r.status {
		if s == http.StatusOK {
			r.SetStatus(n, status)
		}
	}
}

// Resolver computes a live property. It returns errUnresolved when the
// property does not apply to the node.
type Resolver func(ctx context.Context, env *propEnv) mo.Result[dav.Property]

var errUnresolved = errors.New("property not available")

// propEnv gives resolvers lazy access to the node being described.
type propEnv struct {
	s    *Server
	path string
	node dav.Node

	quotaLoaded bool
	used, avail int64
	quotaErr    error
}

func (e *propEnv) quota(ctx context.Context) (int64, int64, error) {
	if !e.quotaLoaded {
		e.quotaLoaded = true
		q, ok := dav.AsQuota(e.node)
		if !ok {
			e.quotaErr = errUnresolved
		} else {
			e.used, e.avail, e.quotaErr = q.QuotaInfo(ctx)
		}
	}
	return e.used, e.avail, e.quotaErr
}

func unresolved() mo.Result[dav.Property] {
	return mo.Err[dav.Property](errUnresolved)
}

// computedProperties is the table of live properties.
var computedProperties = map[dav.Name]Resolver{
	dav.PropGetLastModified: func(_ context.Context, env *propEnv) mo.Result[dav.Property] {
		t := env.node.LastModified()
		if t.IsZero() {
			return unresolved()
		}
		return mo.Ok[dav.Property](dav.LastModified(t))
	},
	dav.PropGetContentLength: func(_ context.Context, env *propEnv) mo.Result[dav.Property] {
		f, ok := dav.AsFile(env.node)
		if !ok || f.Size() < 0 {
			return unresolved()
		}
		return mo.Ok[dav.Property](dav.Int(f.Size()))
	},
	dav.PropResourceType: func(_ context.Context, env *propEnv) mo.Result[dav.Property] {
		if _, ok := dav.AsDirectory(env.node); ok {
			return mo.Ok[dav.Property](dav.ResourceType{dav.ResourceTypeCollection})
		}
		return mo.Ok[dav.Property](dav.ResourceType{})
	},
	dav.PropQuotaUsedBytes: func(ctx context.Context, env *propEnv) mo.Result[dav.Property] {
		used, _, err := env.quota(ctx)
		if err != nil {
			return mo.Err[dav.Property](err)
		}
		return mo.Ok[dav.Property](dav.Int(used))
	},
	dav.PropQuotaAvailableBytes: func(ctx context.Context, env *propEnv) mo.Result[dav.Property] {
		_, avail, err := env.quota(ctx)
		if err != nil {
			return mo.Err[dav.Property](err)
		}
		if avail < 0 {
			return unresolved()
		}
		return mo.Ok[dav.Property](dav.Int(avail))
	},
	dav.PropGetETag: func(_ context.Context, env *propEnv) mo.Result[dav.Property] {
		f, ok := dav.AsFile(env.node)
		if !ok || f.ETag() == "" {
			return unresolved()
		}
		return mo.Ok[dav.Property](dav.Text(f.ETag()))
	},
	dav.PropGetContentType: func(_ context.Context, env *propEnv) mo.Result[dav.Property] {
		f, ok := dav.AsFile(env.node)
		if !ok || f.ContentType() == "" {
			return unresolved()
		}
		return mo.Ok[dav.Property](dav.Text(f.ContentType()))
	},
	dav.PropSupportedReportSet: func(_ context.Context, env *propEnv) mo.Result[dav.Property] {
		return mo.Ok[dav.Property](dav.ReportSet(env.s.supportedReports(env.path)))
	},
}

// PropertiesForPath resolves names for the node at p and, with depth 1, for
// each of its children. An empty names list selects the allprop set, in
// which case missing properties are omitted instead of reported as 404.
func (s *Server) PropertiesForPath(ctx context.Context, p string, names []dav.Name, depth int) ([]*ResourceProps, error) {
	p = tree.Normalize(p)
	if depth != 0 {
		depth = 1
	}

	allProps := len(names) == 0
	if allProps {
		names = defaultProperties
	}
	names = slices.Clone(names)
	wantResourceType := slices.Contains(names, dav.PropResourceType)
	if !wantResourceType {
		names = append(names, dav.PropResourceType)
	}

	node, err := s.tree.NodeForPath(ctx, p)
	if err != nil {
		return nil, err
	}
	type target struct {
		path string
		node dav.Node
	}
	targets := []target{{p, node}}
	if depth == 1 {
		children, err := s.tree.Children(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			targets = append(targets, target{tree.Join(p, c.Name()), c})
		}
	}

	result := make([]*ResourceProps, 0, len(targets))
	for _, t := range targets {
		rp, err := s.resolveProperties(ctx, t.path, t.node, names, allProps)
		if err != nil {
			return nil, err
		}
		if !wantResourceType {
			rp.Remove(dav.PropResourceType)
		}

		ev := &PropertiesEvent{Path: t.path, Node: t.node, Requested: names, Result: rp}
		if _, err := s.bus.Broadcast(ctx, EventAfterGetProperties, ev); err != nil {
			return nil, err
		}
		result = append(result, rp)
	}
	return result, nil
}

func (s *Server) resolveProperties(ctx context.Context, p string, node dav.Node, names []dav.Name, allProps bool) (*ResourceProps, error) {
	rp := NewResourceProps(p)

	if ps, ok := dav.AsPropertyStore(node); ok {
		values, err := ps.Properties(ctx, names)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if v, ok := values[n]; ok {
				rp.Set(n, v)
			}
		}
	}

	if pending := missing(rp, names); len(pending) > 0 {
		ev := &PropertiesEvent{Path: p, Node: node, Requested: pending, Result: rp}
		if _, err := s.bus.Broadcast(ctx, EventGetProperties, ev); err != nil {
			return nil, err
		}
	}

	env := &propEnv{s: s, path: p, node: node}
	for _, n := range missing(rp, names) {
		resolver, ok := computedProperties[n]
		if !ok {
			continue
		}
		res := resolver(ctx, env)
		if v, err := res.Get(); err == nil {
			rp.Set(n, v)
		} else if !errors.Is(err, errUnresolved) {
			status := dav.StatusOf(err)
			s.logger.Error("failed to compute property", "path", p, "property", n.String(), "error", err)
			rp.SetStatus(n, status)
		}
	}

	if !allProps {
		for _, n := range missing(rp, names) {
			rp.SetStatus(n, http.StatusNotFound)
		}
	}

	if rt, ok := rp.Value(dav.PropResourceType); ok {
		if t, ok := rt.(dav.ResourceType); ok && t.Is(dav.ResourceTypeCollection) {
			rp.Collection = true
		}
	}
	return rp, nil
}

// missing returns the names without a status yet.
func missing(rp *ResourceProps, names []dav.Name) []dav.Name {
	var result []dav.Name
	for _, n := range names {
		if !rp.Has(n) {
			result = append(result, n)
		}
	}
	return result
}
