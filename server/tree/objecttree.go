package tree

import (
	"context"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/pkg/errors"
)

// ObjectTree implements Copy and Move generically on top of the node
// capabilities, so it works with any backend.
type ObjectTree struct {
	*Base
}

// NewObjectTree creates an ObjectTree over root.
func NewObjectTree(root dav.Directory, opts ...Option) *ObjectTree {
	return &ObjectTree{Base: NewBase(root, opts...)}
}

// Copy copies src to dst. The destination must not exist and its parent must
// be a collection. With depth DepthZero only the collection itself is copied.
func (t *ObjectTree) Copy(ctx context.Context, src, dst string, depth int) error {
	src, dst = Normalize(src), Normalize(dst)
	source, err := t.NodeForPath(ctx, src)
	if err != nil {
		return err
	}
	parentPath, name := Split(dst)
	parent, err := t.parentDirectory(ctx, parentPath)
	if err != nil {
		return err
	}

	t.logger.Debug("copying node", "source", src, "destination", dst, "depth", depth)
	if err := t.copyNode(ctx, source, parent, name, depth); err != nil {
		return err
	}
	t.MarkDirty(dst)
	return nil
}

func (t *ObjectTree) copyNode(ctx context.Context, source dav.Node, parent dav.Directory, name string, depth int) error {
	if f, ok := dav.AsFile(source); ok {
		rc, err := f.Get(ctx)
		if err != nil {
			return errors.Wrapf(err, "read %s", source.Name())
		}
		err = parent.CreateFile(ctx, name, rc)
		rc.Close()
		if err != nil {
			return errors.Wrapf(err, "create %s", name)
		}
	} else if dir, ok := dav.AsDirectory(source); ok {
		if err := t.createCollectionLike(ctx, dir, parent, name); err != nil {
			return err
		}
		if depth != DepthZero {
			dest, err := dav.Child(ctx, parent, name)
			if err != nil {
				return err
			}
			destDir, ok := dav.AsDirectory(dest)
			if !ok {
				return dav.ErrConflict.With("%s is not a collection after creation", name)
			}
			children, err := dir.Children(ctx)
			if err != nil {
				return errors.Wrapf(err, "list %s", source.Name())
			}
			for _, c := range children {
				if err := t.copyNode(ctx, c, destDir, c.Name(), depth); err != nil {
					return err
				}
			}
		}
	} else {
		return dav.ErrNotImplemented.With("Cannot copy node %s", source.Name())
	}

	return t.copyProperties(ctx, source, parent, name)
}

// createCollectionLike recreates dir under parent, keeping a non-plain
// resource type when the parent supports extended collections.
func (t *ObjectTree) createCollectionLike(ctx context.Context, dir dav.Directory, parent dav.Directory, name string) error {
	if ext, ok := dav.AsExtendedCollection(parent); ok {
		if ps, ok := dav.AsPropertyStore(dir); ok {
			props, err := ps.Properties(ctx, []dav.Name{dav.PropResourceType})
			if err != nil {
				return errors.Wrapf(err, "read resourcetype of %s", dir.Name())
			}
			if rt, ok := props[dav.PropResourceType].(dav.ResourceType); ok && len(rt) > 1 {
				return ext.CreateExtendedCollection(ctx, name, rt, nil)
			}
		}
	}
	if err := parent.CreateDirectory(ctx, name); err != nil {
		return errors.Wrapf(err, "mkdir %s", name)
	}
	return nil
}

func (t *ObjectTree) copyProperties(ctx context.Context, source dav.Node, parent dav.Directory, name string) error {
	sp, ok := dav.AsPropertyStore(source)
	if !ok {
		return nil
	}
	dest, err := dav.Child(ctx, parent, name)
	if err != nil {
		return err
	}
	dp, ok := dav.AsPropertyStore(dest)
	if !ok {
		return nil
	}
	props, err := sp.Properties(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "read properties of %s", source.Name())
	}
	names := make([]dav.Name, 0, len(props))
	for n := range props {
		if n != dav.PropResourceType {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil
	}
	dav.SortNames(names)
	mutations := make([]dav.Mutation, 0, len(names))
	for _, n := range names {
		mutations = append(mutations, dav.Mutation{Name: n, Value: props[n]})
	}
	result, err := dp.UpdateProperties(ctx, mutations)
	if err != nil {
		return errors.Wrapf(err, "write properties of %s", name)
	}
	for n, status := range result {
		if status >= 300 {
			t.logger.Warn("property not copied", "node", name, "property", n.String(), "status", status)
		}
	}
	return nil
}

// Move renames src when both paths share a parent and otherwise copies it to
// dst and deletes the original.
func (t *ObjectTree) Move(ctx context.Context, src, dst string) error {
	src, dst = Normalize(src), Normalize(dst)
	srcParent, _ := Split(src)
	dstParent, dstName := Split(dst)

	if srcParent == dstParent {
		n, err := t.NodeForPath(ctx, src)
		if err != nil {
			return err
		}
		if err := n.SetName(ctx, dstName); err != nil {
			return errors.Wrapf(err, "rename %s", src)
		}
	} else {
		if err := t.Copy(ctx, src, dst, DepthInfinity); err != nil {
			return err
		}
		n, err := t.NodeForPath(ctx, src)
		if err != nil {
			return err
		}
		if err := n.Delete(ctx); err != nil {
			return errors.Wrapf(err, "delete %s", src)
		}
	}
	t.MarkDirty(src)
	t.MarkDirty(dst)
	return nil
}
