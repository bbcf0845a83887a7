package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleGet(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/dav/docs/a.txt", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
}

func TestHandleGetErrors(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		expectedStatus int
	}{
		{"collection", "/dav/docs", http.StatusNotImplemented},
		{"missing", "/dav/docs/nope.txt", http.StatusNotFound},
		{"below a file", "/dav/docs/a.txt/x", http.StatusNotFound},
		{"missing ancestor", "/dav/nope/a.txt", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			rec := do(s, http.MethodGet, tt.target, "", nil)
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestHandleGetRange(t *testing.T) {
	tests := []struct {
		name           string
		rangeHeader    string
		expectedStatus int
		expectedBody   string
		expectedRange  string
	}{
		{
			name:           "first byte",
			rangeHeader:    "bytes=0-0",
			expectedStatus: http.StatusPartialContent,
			expectedBody:   "0",
			expectedRange:  "bytes 0-0/10",
		},
		{
			name:           "open end",
			rangeHeader:    "bytes=5-",
			expectedStatus: http.StatusPartialContent,
			expectedBody:   "56789",
			expectedRange:  "bytes 5-9/10",
		},
		{
			name:           "suffix",
			rangeHeader:    "bytes=-3",
			expectedStatus: http.StatusPartialContent,
			expectedBody:   "789",
			expectedRange:  "bytes 7-9/10",
		},
		{
			name:           "end clamped",
			rangeHeader:    "bytes=8-100",
			expectedStatus: http.StatusPartialContent,
			expectedBody:   "89",
			expectedRange:  "bytes 8-9/10",
		},
		{
			name:           "start beyond length",
			rangeHeader:    "bytes=20-",
			expectedStatus: http.StatusRequestedRangeNotSatisfiable,
		},
		{
			name:           "start beyond int64",
			rangeHeader:    "bytes=99999999999999999999-",
			expectedStatus: http.StatusRequestedRangeNotSatisfiable,
		},
		{
			name:           "end beyond int64",
			rangeHeader:    "bytes=8-99999999999999999999",
			expectedStatus: http.StatusPartialContent,
			expectedBody:   "89",
			expectedRange:  "bytes 8-9/10",
		},
		{
			name:           "end before start",
			rangeHeader:    "bytes=5-2",
			expectedStatus: http.StatusRequestedRangeNotSatisfiable,
		},
		{
			name:           "multiple ranges ignored",
			rangeHeader:    "bytes=0-1,3-4",
			expectedStatus: http.StatusOK,
			expectedBody:   "0123456789",
		},
		{
			name:           "other unit ignored",
			rangeHeader:    "items=0-1",
			expectedStatus: http.StatusOK,
			expectedBody:   "0123456789",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			rec := do(s, http.MethodGet, "/dav/docs/a.txt", "", map[string]string{"Range": tt.rangeHeader})

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus >= 400 {
				assert.Contains(t, rec.Body.String(), "RequestedRangeNotSatisfiable")
				return
			}
			assert.Equal(t, tt.expectedBody, rec.Body.String())
			assert.Equal(t, tt.expectedRange, rec.Header().Get("Content-Range"))
		})
	}
}

func TestHandleGetIfNoneMatch(t *testing.T) {
	s, _ := newTestServer(t)
	etag := do(s, http.MethodGet, "/dav/docs/a.txt", "", nil).Header().Get("ETag")

	tests := []struct {
		header         string
		expectedStatus int
	}{
		{etag, http.StatusNotModified},
		{"*", http.StatusNotModified},
		{`"other", ` + etag, http.StatusNotModified},
		{"W/" + etag, http.StatusNotModified},
		{`"other"`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			rec := do(s, http.MethodGet, "/dav/docs/a.txt", "", map[string]string{"If-None-Match": tt.header})
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusNotModified {
				assert.Empty(t, rec.Body.String())
				assert.Equal(t, etag, rec.Header().Get("ETag"))
			}
		})
	}
}

func TestHandleHead(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("file", func(t *testing.T) {
		rec := do(s, http.MethodHead, "/dav/docs/a.txt", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("Content-Length"))
		assert.NotEmpty(t, rec.Header().Get("ETag"))
		assert.Empty(t, rec.Body.String())
	})

	t.Run("collection", func(t *testing.T) {
		rec := do(s, http.MethodHead, "/dav/docs", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		rec := do(s, http.MethodHead, "/dav/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
