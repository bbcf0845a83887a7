package acl_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/acl"
	"github.com/cyp0633/libdav/server/auth"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/storage/memory"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// userHeader carries the test user; the subscriber below stands in for the
// auth plugin.
const userHeader = "X-Test-User"

func withUser(_ context.Context, payload any) (bool, error) {
	ev := payload.(*server.MethodEvent)
	if u := ev.Request.Header.Get(userHeader); u != "" {
		ev.Request = ev.Request.WithContext(auth.WithPrincipal(ev.Request.Context(), &auth.Principal{ID: u}))
	}
	return true, nil
}

// newACLServer seeds a tree owned by alice where every authenticated user
// may read, and bob may additionally write shared/notes.txt.
func newACLServer(t *testing.T, opts ...acl.Option) (*server.Server, *acl.Plugin) {
	t.Helper()
	ctx := context.Background()
	root := memory.NewRoot(memory.WithOwner("principals/alice"))
	shared := root.AddDirectory("shared")
	shared.AddFile("a.txt", []byte("a"))
	notes := shared.AddFile("notes.txt", []byte("n"))

	require.NoError(t, root.SetACL(ctx, []dav.ACE{
		{Principal: acl.PrincipalOwner, Privilege: acl.PrivAll, Protected: true},
		{Principal: acl.PrincipalAuthenticated, Privilege: acl.PrivRead},
	}))
	require.NoError(t, notes.SetACL(ctx, []dav.ACE{
		{Principal: "principals/bob", Privilege: acl.PrivRead},
		{Principal: "principals/bob", Privilege: acl.PrivWriteContent},
	}))

	p := acl.New(opts...)
	s, err := server.New(tree.NewObjectTree(root.Node()), server.WithPlugins(p))
	require.NoError(t, err)
	s.Subscribe(server.EventBeforeMethod, withUser, auth.Priority)
	return s, p
}

func serve(s *server.Server, method, target, user, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestACLEnforcement(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		target         string
		user           string
		headers        map[string]string
		expectedStatus int
	}{
		{"owner reads", http.MethodGet, "/shared/a.txt", "alice", nil, http.StatusOK},
		{"authenticated reads", http.MethodGet, "/shared/a.txt", "bob", nil, http.StatusOK},
		{"anonymous cannot read", http.MethodGet, "/shared/a.txt", "", nil, http.StatusForbidden},
		{"owner writes", http.MethodPut, "/shared/a.txt", "alice", nil, http.StatusOK},
		{"reader cannot write", http.MethodPut, "/shared/a.txt", "bob", nil, http.StatusForbidden},
		{"file ACL grants write", http.MethodPut, "/shared/notes.txt", "bob", nil, http.StatusOK},
		{"file ACL replaces inherited read", http.MethodGet, "/shared/notes.txt", "carol", nil, http.StatusForbidden},
		{"reader cannot bind", http.MethodPut, "/shared/new.txt", "bob", nil, http.StatusForbidden},
		{"owner binds", http.MethodPut, "/shared/new.txt", "alice", nil, http.StatusCreated},
		{"reader cannot unbind", http.MethodDelete, "/shared/a.txt", "bob", nil, http.StatusForbidden},
		{"owner unbinds", http.MethodDelete, "/shared/a.txt", "alice", nil, http.StatusNoContent},
		{"reader cannot mkcol", "MKCOL", "/shared/dir", "bob", nil, http.StatusForbidden},
		{"reader copies out but cannot bind", "COPY", "/shared/a.txt", "bob", map[string]string{"Destination": "/shared/b.txt"}, http.StatusForbidden},
		{"owner moves", "MOVE", "/shared/a.txt", "alice", map[string]string{"Destination": "/shared/b.txt"}, http.StatusCreated},
		{"reader cannot proppatch", "PROPPATCH", "/shared", "bob", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newACLServer(t)
			rec := serve(s, tt.method, tt.target, tt.user, "", tt.headers)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), "need-privileges")
			}
		})
	}
}

func TestACLUnprotected(t *testing.T) {
	root := memory.NewRoot()
	root.AddFile("a.txt", []byte("a"))

	for allow, want := range map[bool]int{false: http.StatusForbidden, true: http.StatusOK} {
		s, err := server.New(tree.NewObjectTree(root.Node()), server.WithPlugins(acl.New(acl.WithAllowUnprotected(allow))))
		require.NoError(t, err)
		rec := serve(s, http.MethodGet, "/a.txt", "", "", nil)
		assert.Equal(t, want, rec.Code, "allow unprotected %v", allow)
	}
}

func TestACLProperties(t *testing.T) {
	s, p := newACLServer(t)
	body := `<D:propfind xmlns:D="DAV:"><D:prop>
		<D:owner/><D:acl/><D:current-user-principal/><D:current-user-privilege-set/>
	</D:prop></D:propfind>`

	rec := serve(s, "PROPFIND", "/", "alice", body, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "<d:href>/principals/alice</d:href>")
	assert.Contains(t, out, "<d:href>/principals/alice/</d:href>")
	assert.Contains(t, out, "<d:protected/>")
	assert.Contains(t, out, "<d:write-content/>")
	assert.NotContains(t, out, "HTTP/1.1 403")

	rec = serve(s, "PROPFIND", "/", "bob", body, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	out = rec.Body.String()
	assert.Contains(t, out, "HTTP/1.1 403 Forbidden")
	assert.NotContains(t, out, "<d:write-content/>")

	ctx := auth.WithPrincipal(context.Background(), &auth.Principal{ID: "bob"})
	privs, err := p.CurrentUserPrivileges(ctx, "shared/notes.txt")
	require.NoError(t, err)
	assert.ElementsMatch(t, []dav.Name{acl.PrivRead, acl.PrivWriteContent}, privs)
	assert.Equal(t, "principals/bob", p.CurrentUserPrincipal(ctx))
	assert.Equal(t, "", p.CurrentUserPrincipal(context.Background()))
}

func TestACLReadDeniedDowngradesProperties(t *testing.T) {
	s, _ := newACLServer(t)

	rec := serve(s, "PROPFIND", "/shared", "carol", "", map[string]string{"Depth": "1"})

	require.Equal(t, http.StatusMultiStatus, rec.Code)
	out := rec.Body.String()
	// notes.txt only grants bob, so carol sees nothing but 403s there
	idx := strings.Index(out, "/shared/notes.txt")
	require.Greater(t, idx, 0)
	rest := out[idx:]
	end := strings.Index(rest, "</d:response>")
	assert.Contains(t, rest[:end], "HTTP/1.1 403 Forbidden")
	assert.NotContains(t, rest[:end], "HTTP/1.1 200 OK")

	pl, ok := s.Plugin("acl")
	require.True(t, ok)
	assert.Equal(t, []string{"access-control"}, pl.(*acl.Plugin).Features())
}
