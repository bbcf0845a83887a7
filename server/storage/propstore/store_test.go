package propstore

import (
	"context"
	"testing"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	displayName = dav.PropDisplayName
	color       = dav.MustParseName("{http://apple.com/ns/ical/}calendar-color")
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadger("", InMemory())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return map[string]Store{"memory": NewMemory(), "badger": b}
}

func set(n dav.Name, v dav.Property) dav.Mutation {
	return dav.Mutation{Name: n, Value: v}
}

func TestStore_GetUpdate(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Update(ctx, "cal", []dav.Mutation{
				set(displayName, dav.Text("Work")),
				set(color, dav.Raw(`<x xmlns="urn:x">#ff0000</x>`)),
				set(dav.PropResourceType, dav.ResourceType{dav.ResourceTypeCollection, dav.ResourceTypeCalendar}),
				set(dav.DAVName("owner"), dav.Href("principals/alice")),
				set(dav.DAVName("comment"), dav.Element(`<comment xmlns="DAV:" xml:lang="en">hi</comment>`)),
			}))

			all, err := s.Get(ctx, "cal", nil)
			require.NoError(t, err)
			assert.Len(t, all, 5)
			assert.Equal(t, dav.Element(`<comment xmlns="DAV:" xml:lang="en">hi</comment>`), all[dav.DAVName("comment")])
			assert.Equal(t, dav.Text("Work"), all[displayName])
			assert.Equal(t, dav.Raw(`<x xmlns="urn:x">#ff0000</x>`), all[color])
			assert.Equal(t, dav.Href("principals/alice"), all[dav.DAVName("owner")])
			rt, ok := all[dav.PropResourceType].(dav.ResourceType)
			require.True(t, ok)
			assert.True(t, rt.Is(dav.ResourceTypeCalendar))

			some, err := s.Get(ctx, "cal", []dav.Name{displayName, dav.DAVName("missing")})
			require.NoError(t, err)
			assert.Equal(t, map[dav.Name]dav.Property{displayName: dav.Text("Work")}, some)

			require.NoError(t, s.Update(ctx, "cal", []dav.Mutation{{Name: displayName}}))
			some, err = s.Get(ctx, "cal", []dav.Name{displayName})
			require.NoError(t, err)
			assert.Empty(t, some)

			none, err := s.Get(ctx, "other", nil)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_RejectsComputedValues(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(ctx, "a", []dav.Mutation{
				set(displayName, dav.Text("a")),
				set(dav.PropGetContentLength, dav.Int(3)),
			})
			assert.Error(t, err)

			got, err := s.Get(ctx, "a", nil)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_TreeOperations(t *testing.T) {
	ctx := context.Background()
	seed := func(t *testing.T, s Store) {
		for _, p := range []string{"a", "a/b", "a/b/c.ics", "ab", "x"} {
			require.NoError(t, s.Update(ctx, p, []dav.Mutation{set(displayName, dav.Text(p))}))
		}
	}
	get := func(t *testing.T, s Store, p string) dav.Property {
		got, err := s.Get(ctx, p, []dav.Name{displayName})
		require.NoError(t, err)
		return got[displayName]
	}

	for name, s := range stores(t) {
		t.Run(name+"/delete", func(t *testing.T) {
			seed(t, s)
			require.NoError(t, s.Delete(ctx, "a"))
			assert.Nil(t, get(t, s, "a"))
			assert.Nil(t, get(t, s, "a/b/c.ics"))
			assert.Equal(t, dav.Text("ab"), get(t, s, "ab"))
			require.NoError(t, s.Delete(ctx, ""))
			assert.Nil(t, get(t, s, "x"))
		})
	}
	for name, s := range stores(t) {
		t.Run(name+"/move", func(t *testing.T) {
			seed(t, s)
			require.NoError(t, s.Move(ctx, "a", "x"))
			assert.Nil(t, get(t, s, "a"))
			assert.Equal(t, dav.Text("a"), get(t, s, "x"))
			assert.Equal(t, dav.Text("a/b/c.ics"), get(t, s, "x/b/c.ics"))
			assert.Equal(t, dav.Text("ab"), get(t, s, "ab"))
		})
	}
}

func TestRebase(t *testing.T) {
	tests := []struct {
		p, src, dst, want string
	}{
		{"a", "a", "b", "b"},
		{"a/x", "a", "b", "b/x"},
		{"a/x", "a", "", "x"},
		{"x", "", "b", "b/x"},
		{"", "", "b", "b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rebase(tt.p, tt.src, tt.dst), "%+v", tt)
	}
}
