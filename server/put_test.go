package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlePutCreateThenUpdate(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodPut, "/dav/docs/new.txt", "first", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.Equal(t, "first", content(t, s, "docs/new.txt"))

	rec = do(s, http.MethodPut, "/dav/docs/new.txt", "second", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "second", content(t, s, "docs/new.txt"))

	// the same PUT again is still an update
	rec = do(s, http.MethodPut, "/dav/docs/new.txt", "second", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "second", content(t, s, "docs/new.txt"))
}

func TestHandlePut(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		headers        map[string]string
		setup          func(s *Server)
		expectedStatus int
		check          func(t *testing.T, s *Server)
	}{
		{
			name:           "If-None-Match on existing file",
			target:         "/dav/docs/a.txt",
			headers:        map[string]string{"If-None-Match": "*"},
			expectedStatus: http.StatusPreconditionFailed,
			check: func(t *testing.T, s *Server) {
				assert.Equal(t, "0123456789", content(t, s, "docs/a.txt"))
			},
		},
		{
			name:           "If-None-Match on new file",
			target:         "/dav/docs/fresh.txt",
			headers:        map[string]string{"If-None-Match": "*"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "collection",
			target:         "/dav/docs",
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "missing parent",
			target:         "/dav/nope/x.txt",
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "parent is a file",
			target:         "/dav/docs/a.txt/x.txt",
			expectedStatus: http.StatusConflict,
		},
		{
			name:   "create vetoed",
			target: "/dav/docs/veto.txt",
			setup: func(s *Server) {
				s.Subscribe(EventBeforeBind, func(context.Context, any) (bool, error) { return false, nil }, 100)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, s *Server) {
				assert.False(t, exists(t, s, "docs/veto.txt"))
			},
		},
		{
			name:   "create rejected",
			target: "/dav/docs/bad.txt",
			setup: func(s *Server) {
				s.Subscribe(EventBeforeCreateFile, func(context.Context, any) (bool, error) {
					return false, dav.ErrUnsupportedMediaType.With("nope")
				}, 100)
			},
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:   "body replaced before write",
			target: "/dav/docs/a.txt",
			setup: func(s *Server) {
				s.Subscribe(EventBeforeWriteContent, func(_ context.Context, payload any) (bool, error) {
					ev := payload.(*WriteContentEvent)
					b, err := io.ReadAll(ev.Body)
					if err != nil {
						return false, err
					}
					ev.Body = strings.NewReader(strings.ToUpper(string(b)))
					return true, nil
				}, 100)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, s *Server) {
				assert.Equal(t, "BODY", content(t, s, "docs/a.txt"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			if tt.setup != nil {
				tt.setup(s)
			}
			rec := do(s, http.MethodPut, tt.target, "body", tt.headers)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.check != nil {
				tt.check(t, s)
			}
		})
	}
}

func TestCreateFileEvents(t *testing.T) {
	s, _ := newTestServer(t)
	var events []string
	for _, name := range []string{EventBeforeBind, EventBeforeCreateFile, EventAfterBind} {
		s.Subscribe(name, func(_ context.Context, payload any) (bool, error) {
			switch ev := payload.(type) {
			case *PathEvent:
				events = append(events, name+" "+ev.Path)
			case *CreateFileEvent:
				events = append(events, name+" "+ev.Path)
			}
			return true, nil
		}, 100)
	}

	ok, err := s.CreateFile(context.Background(), "/docs/c.txt", strings.NewReader("c"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{
		"beforeBind docs/c.txt",
		"beforeCreateFile docs/c.txt",
		"afterBind docs/c.txt",
	}, events)
}

func TestHandleDelete(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := do(s, http.MethodDelete, "/dav/docs/a.txt", "", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, exists(t, s, "docs/a.txt"))
	})

	t.Run("collection", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := do(s, http.MethodDelete, "/dav/docs", "", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, exists(t, s, "docs/sub/b.txt"))
	})

	t.Run("missing", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := do(s, http.MethodDelete, "/dav/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("vetoed", func(t *testing.T) {
		s, _ := newTestServer(t)
		var unbound string
		s.Subscribe(EventBeforeUnbind, func(_ context.Context, payload any) (bool, error) {
			unbound = payload.(*PathEvent).Path
			return false, nil
		}, 100)
		do(s, http.MethodDelete, "/dav/docs/a.txt", "", nil)
		assert.Equal(t, "docs/a.txt", unbound)
		assert.True(t, exists(t, s, "docs/a.txt"))
	})
}
