// Package propstore persists dead properties for backends that have no
// place to keep them next to the content, such as plain filesystems and
// object stores. Properties are keyed by the node path relative to the tree
// root.
package propstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/pkg/errors"
)

// Store keeps dead properties per path.
type Store interface {
	// Get returns the stored values for names. An empty names slice returns
	// everything stored for path.
	Get(ctx context.Context, path string, names []dav.Name) (map[dav.Name]dav.Property, error)
	// Update applies mutations to path in one step.
	Update(ctx context.Context, path string, mutations []dav.Mutation) error
	// Delete drops the properties of path and everything below it.
	Delete(ctx context.Context, path string) error
	// Move re-keys the properties of src and everything below it to dst,
	// replacing whatever dst had.
	Move(ctx context.Context, src, dst string) error
	Close() error
}

// record is the persisted form of a property value.
type record struct {
	Kind  string   `json:"kind"`
	Value string   `json:"value,omitempty"`
	Items []string `json:"items,omitempty"`
}

const (
	kindText         = "text"
	kindRaw          = "raw"
	kindElement      = "element"
	kindHref         = "href"
	kindHrefList     = "hrefs"
	kindResourceType = "resourcetype"
)

func encodeProperty(p dav.Property) ([]byte, error) {
	var r record
	switch v := p.(type) {
	case dav.Text:
		r = record{Kind: kindText, Value: string(v)}
	case dav.Raw:
		r = record{Kind: kindRaw, Value: string(v)}
	case dav.Element:
		r = record{Kind: kindElement, Value: string(v)}
	case dav.Href:
		r = record{Kind: kindHref, Value: string(v)}
	case dav.HrefList:
		r = record{Kind: kindHrefList, Items: v}
	case dav.ResourceType:
		r = record{Kind: kindResourceType}
		for _, n := range v {
			r.Items = append(r.Items, n.String())
		}
	default:
		return nil, fmt.Errorf("property type %T cannot be stored", p)
	}
	return json.Marshal(r)
}

func decodeProperty(data []byte) (dav.Property, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "decode property")
	}
	switch r.Kind {
	case kindText:
		return dav.Text(r.Value), nil
	case kindRaw:
		return dav.Raw(r.Value), nil
	case kindElement:
		return dav.Element(r.Value), nil
	case kindHref:
		return dav.Href(r.Value), nil
	case kindHrefList:
		return dav.HrefList(r.Items), nil
	case kindResourceType:
		rt := make(dav.ResourceType, 0, len(r.Items))
		for _, s := range r.Items {
			n, err := dav.ParseName(s)
			if err != nil {
				return nil, errors.Wrap(err, "decode resourcetype")
			}
			rt = append(rt, n)
		}
		return rt, nil
	}
	return nil, fmt.Errorf("unknown property kind %q", r.Kind)
}

// under reports whether p is root or lies below it.
func under(p, root string) bool {
	return root == "" || p == root || strings.HasPrefix(p, root+"/")
}

// rebase replaces the src prefix of p with dst.
func rebase(p, src, dst string) string {
	rest := strings.TrimPrefix(p, src)
	if dst == "" {
		return strings.TrimPrefix(rest, "/")
	}
	if src == "" && rest != "" {
		return dst + "/" + rest
	}
	return dst + rest
}

// Memory is a Store kept in process memory.
type Memory struct {
	mu    sync.RWMutex
	props map[string]map[dav.Name]dav.Property
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{props: make(map[string]map[dav.Name]dav.Property)}
}

func (m *Memory) Get(_ context.Context, path string, names []dav.Name) (map[dav.Name]dav.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.props[path]
	if len(names) == 0 {
		return maps.Clone(stored), nil
	}
	result := make(map[dav.Name]dav.Property)
	for _, n := range names {
		if v, ok := stored[n]; ok {
			result[n] = v
		}
	}
	return result, nil
}

func (m *Memory) Update(_ context.Context, path string, mutations []dav.Mutation) error {
	for _, mu := range mutations {
		if mu.Remove() {
			continue
		}
		if _, err := encodeProperty(mu.Value); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.props[path]
	if stored == nil {
		stored = make(map[dav.Name]dav.Property)
		m.props[path] = stored
	}
	for _, mu := range mutations {
		if mu.Remove() {
			delete(stored, mu.Name)
		} else {
			stored[mu.Name] = mu.Value
		}
	}
	if len(stored) == 0 {
		delete(m.props, path)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.props {
		if under(p, path) {
			delete(m.props, p)
		}
	}
	return nil
}

func (m *Memory) Move(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p := range m.props {
		if under(p, dst) {
			delete(m.props, p)
		}
	}
	moved := make(map[string]map[dav.Name]dav.Property)
	for p, v := range m.props {
		if under(p, src) {
			moved[rebase(p, src, dst)] = v
			delete(m.props, p)
		}
	}
	maps.Copy(m.props, moved)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
