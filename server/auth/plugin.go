// Package auth authenticates requests with HTTP Basic credentials before
// any method runs.
package auth

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cyp0633/libdav/server"
	"github.com/pkg/errors"
)

// Priority of the beforeMethod subscription. It runs ahead of the ACL
// plugin, which needs the principal.
const Priority = 10

// Plugin enforces authentication on every request.
type Plugin struct {
	authenticator Authenticator
	realm         string
	public        []string
	logger        *slog.Logger
}

// Option configures the plugin.
type Option func(*Plugin)

// WithRealm sets the realm sent in WWW-Authenticate.
func WithRealm(realm string) Option {
	return func(p *Plugin) {
		if realm != "" {
			p.realm = realm
		}
	}
}

// WithPublicPaths lets requests whose URL path starts with one of prefixes
// through without credentials.
func WithPublicPaths(prefixes ...string) Option {
	return func(p *Plugin) {
		p.public = append(p.public, prefixes...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates the plugin.
func New(authenticator Authenticator, opts ...Option) *Plugin {
	p := &Plugin{
		authenticator: authenticator,
		realm:         "libdav",
		public:        []string{"/.well-known/"},
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string {
	return "auth"
}

func (p *Plugin) Initialize(s *server.Server) error {
	s.Subscribe(server.EventBeforeMethod, p.beforeMethod, Priority)
	return nil
}

func (p *Plugin) beforeMethod(ctx context.Context, payload any) (bool, error) {
	ev := payload.(*server.MethodEvent)
	r := ev.Request

	for _, prefix := range p.public {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true, nil
		}
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		p.logger.Debug("no credentials supplied", "path", r.URL.Path)
		p.challenge(ev.Response)
		return false, nil
	}
	creds, err := parseBasicAuth(header)
	if err != nil {
		p.logger.Info("malformed credentials", "error", err)
		p.challenge(ev.Response)
		return false, nil
	}

	principal, err := p.authenticator.Authenticate(ctx, creds)
	if err != nil {
		p.logger.Info("authentication failed", "username", creds.Username, "error", err)
		p.challenge(ev.Response)
		return false, nil
	}

	ev.Request = r.WithContext(WithPrincipal(r.Context(), principal))
	return true, nil
}

// challenge sends WWW-Authenticate header
func (p *Plugin) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+p.realm+`", charset="UTF-8"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// parseBasicAuth decodes the credentials of a Basic Authorization header.
func parseBasicAuth(header string) (Credentials, error) {
	scheme, value, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Basic") {
		return Credentials{}, errors.Wrapf(ErrMalformedCredentials, "unsupported scheme %q", scheme)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return Credentials{}, errors.Wrapf(ErrMalformedCredentials, "decode: %v", err)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, errors.Wrap(ErrMalformedCredentials, "missing password separator")
	}
	return Credentials{Username: username, Password: password}, nil
}
