package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/storage/memory"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := New(reg)
	require.NoError(t, err)

	s, err := server.New(tree.NewObjectTree(memory.New()), server.WithPlugins(p))
	require.NoError(t, err)
	// a veto after the counter still counts
	s.Subscribe(server.EventBeforeMethod, func(_ context.Context, payload any) (bool, error) {
		ev := payload.(*server.MethodEvent)
		if ev.Method == http.MethodDelete {
			ev.Response.WriteHeader(http.StatusUnauthorized)
			return false, nil
		}
		return true, nil
	}, 10)

	for _, m := range []string{"PROPFIND", "PROPFIND", http.MethodDelete} {
		s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(m, "/", nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(p.requests.WithLabelValues("PROPFIND")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues(http.MethodDelete)))
	assert.Equal(t, 2, testutil.CollectAndCount(p.requests))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
