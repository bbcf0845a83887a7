package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyp0633/libdav/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.BaseURI = "/dav/"
	cfg.CalDAV.Enabled = true
	cfg.Metrics.Enabled = true
	return cfg
}

func serve(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	a, err := build(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	ts := httptest.NewServer(a.handler)
	t.Cleanup(ts.Close)
	return ts
}

func send(t *testing.T, method, url, body string, setup func(*http.Request)) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if setup != nil {
		setup(req)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestBuild_MemoryCalendar(t *testing.T) {
	ts := serve(t, testConfig(t))

	resp, _ := send(t, "MKCALENDAR", ts.URL+"/dav/home/", "", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	event := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nBEGIN:VEVENT\r\nUID:a\r\nDTSTAMP:20250101T000000Z\r\nDTSTART:20250101T100000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	resp, _ = send(t, http.MethodPut, ts.URL+"/dav/home/a.ics", event, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := send(t, http.MethodGet, ts.URL+"/dav/home/a.ics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, event, body)

	resp, body = send(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `libdav_requests_total{method="MKCALENDAR"} 1`)
	assert.Contains(t, body, `libdav_requests_total{method="PUT"} 1`)
}

func TestBuild_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	ts := serve(t, cfg)

	resp, _ := send(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBuild_Auth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.Realm = "test"
	cfg.Auth.Users = []config.UserConfig{{Name: "alice", PasswordHash: string(hash)}}
	ts := serve(t, cfg)

	resp, _ := send(t, "PROPFIND", ts.URL+"/dav/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `realm="test"`)

	resp, _ = send(t, "PROPFIND", ts.URL+"/dav/", "", func(r *http.Request) {
		r.SetBasicAuth("alice", "wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = send(t, "PROPFIND", ts.URL+"/dav/", "", func(r *http.Request) {
		r.SetBasicAuth("alice", "secret")
		r.Header.Set("Depth", "0")
	})
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
}

func TestBuild_InvalidHash(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.Users = []config.UserConfig{{Name: "bob", PasswordHash: "plain"}}

	_, err := build(context.Background(), cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestBuild_FilesystemWithBadger(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(root, 0o755))

	cfg := testConfig(t)
	cfg.Backend.Type = "filesystem"
	cfg.Backend.Filesystem = map[string]any{"root": root}
	cfg.Properties.Type = "badger"
	cfg.Properties.Badger.Path = filepath.Join(dir, "props")
	ts := serve(t, cfg)

	resp, _ := send(t, "MKCALENDAR", ts.URL+"/dav/cal/", "", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.DirExists(t, filepath.Join(root, "cal"))

	resp, body := send(t, "PROPFIND", ts.URL+"/dav/cal/",
		`<?xml version="1.0"?><d:propfind xmlns:d="DAV:"><d:prop><d:resourcetype/></d:prop></d:propfind>`,
		func(r *http.Request) { r.Header.Set("Depth", "0") })
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(t, body, "<cal:calendar/>")
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "davserver.log")
	logger, closer, err := newLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	logger.Debug("hello", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)

	_, _, err = newLogger(config.LoggingConfig{Level: "loud", Format: "text", Output: "stdout"})
	assert.Error(t, err)
}

func TestCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "davserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  base_uri: /dav/\n"), 0o644))
	assert.NoError(t, (&CheckConfigCmd{Config: path}).Run())

	require.NoError(t, os.WriteFile(path, []byte("backend:\n  type: tape\n"), 0o644))
	assert.Error(t, (&CheckConfigCmd{Config: path}).Run())
}
