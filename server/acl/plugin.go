// Package acl enforces WebDAV access control lists through server events.
package acl

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/auth"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// Priority of every subscription. It runs after authentication.
const Priority = 20

// methodPrivileges lists the privilege a method needs on an existing target.
// Bind and unbind are checked through their own events.
var methodPrivileges = map[string]dav.Name{
	http.MethodGet:     PrivRead,
	http.MethodHead:    PrivRead,
	http.MethodOptions: PrivRead,
	"PROPFIND":         PrivRead,
	"REPORT":           PrivRead,
	"COPY":             PrivRead,
	http.MethodPut:     PrivWriteContent,
	"PROPPATCH":        PrivWriteProperties,
}

// Plugin is the ACL plugin.
type Plugin struct {
	s                *server.Server
	allowUnprotected bool
	principalPrefix  string
	logger           *slog.Logger
}

// Option configures the plugin.
type Option func(*Plugin)

// WithAllowUnprotected grants every privilege on nodes without any ACL in
// their ancestry. By default such nodes are inaccessible.
func WithAllowUnprotected(allow bool) Option {
	return func(p *Plugin) {
		p.allowUnprotected = allow
	}
}

// WithPrincipalPrefix sets the collection holding user principals,
// "principals" by default.
func WithPrincipalPrefix(prefix string) Option {
	return func(p *Plugin) {
		p.principalPrefix = tree.Normalize(prefix)
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
func New(opts ...Option) *Plugin {
	p := &Plugin{
		principalPrefix: "principals",
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string {
	return "acl"
}

func (p *Plugin) Features() []string {
	return []string{"access-control"}
}

func (p *Plugin) Initialize(s *server.Server) error {
	p.s = s
	s.Subscribe(server.EventBeforeMethod, p.beforeMethod, Priority)
	s.Subscribe(server.EventBeforeBind, p.beforeBind, Priority)
	s.Subscribe(server.EventBeforeUnbind, p.beforeUnbind, Priority)
	s.Subscribe(server.EventGetProperties, p.getProperties, Priority)
	s.Subscribe(server.EventAfterGetProperties, p.afterGetProperties, Priority)
	s.ProtectProperties(dav.PropOwner, dav.PropGroup, dav.PropCurrentUserPrincipal)
	return nil
}

// CurrentUserPrincipal returns the principal path of the request user, or
// "" for anonymous requests.
func (p *Plugin) CurrentUserPrincipal(ctx context.Context) string {
	principal := auth.PrincipalFromContext(ctx)
	if principal == nil {
		return ""
	}
	return tree.Join(p.principalPrefix, principal.ID)
}

// CurrentUserPrivileges returns the expanded privileges of the request user
// on p. Nodes without entries inherit the ACL of their nearest ancestor that
// has one. Missing nodes are judged by their parent.
func (p *Plugin) CurrentUserPrivileges(ctx context.Context, path string) ([]dav.Name, error) {
	path = tree.Normalize(path)
	for {
		opt, err := p.s.Tree().Lookup(ctx, path)
		if err != nil {
			return nil, err
		}
		if node, ok := opt.Get(); ok {
			if a, ok := dav.AsACL(node); ok {
				if aces := a.ACL(); len(aces) > 0 {
					return granted(aces, p.CurrentUserPrincipal(ctx), a.Owner()), nil
				}
			}
		}
		if path == "" {
			break
		}
		path, _ = tree.Split(path)
	}
	if p.allowUnprotected {
		return allPrivileges, nil
	}
	return nil, nil
}

// CheckPrivilege fails with dav.ErrNeedPrivileges unless the request user
// holds priv on path.
func (p *Plugin) CheckPrivilege(ctx context.Context, path string, priv dav.Name) error {
	privs, err := p.CurrentUserPrivileges(ctx, path)
	if err != nil {
		return err
	}
	if slices.Contains(privs, priv) {
		return nil
	}
	p.logger.Info("access denied", "path", path, "privilege", priv.String(), "principal", p.CurrentUserPrincipal(ctx))
	return dav.ErrNeedPrivileges.With("User did not have the required privileges (%s) for path \"%s\"", priv, path)
}

func (p *Plugin) beforeMethod(ctx context.Context, payload any) (bool, error) {
	ev := payload.(*server.MethodEvent)
	priv, ok := methodPrivileges[ev.Method]
	if !ok {
		return true, nil
	}
	// new resources are checked by beforeBind
	exists, err := p.s.Tree().NodeExists(ctx, ev.Path)
	if err != nil || !exists {
		return true, err
	}
	if err := p.CheckPrivilege(ev.Request.Context(), ev.Path, priv); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Plugin) beforeBind(ctx context.Context, payload any) (bool, error) {
	parent, _ := tree.Split(payload.(*server.PathEvent).Path)
	if err := p.CheckPrivilege(ctx, parent, PrivBind); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Plugin) beforeUnbind(ctx context.Context, payload any) (bool, error) {
	parent, _ := tree.Split(payload.(*server.PathEvent).Path)
	if err := p.CheckPrivilege(ctx, parent, PrivUnbind); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Plugin) getProperties(ctx context.Context, payload any) (bool, error) {
	ev := payload.(*server.PropertiesEvent)
	a, hasACL := dav.AsACL(ev.Node)

	for _, name := range ev.Requested {
		switch name {
		case dav.PropOwner:
			if hasACL && a.Owner() != "" {
				ev.Result.Set(name, dav.Href(a.Owner()))
			}
		case dav.PropGroup:
			if hasACL && a.Group() != "" {
				ev.Result.Set(name, dav.Href(a.Group()))
			}
		case dav.PropACL:
			if hasACL {
				ev.Result.Set(name, dav.ACLProperty(a.ACL()))
			}
		case dav.PropCurrentUserPrincipal:
			if user := p.CurrentUserPrincipal(ctx); user != "" {
				ev.Result.Set(name, dav.Href(user+"/"))
			} else {
				ev.Result.Set(name, dav.Raw(`<d:unauthenticated xmlns:d="DAV:"/>`))
			}
		case dav.PropCurrentUserPrivSet:
			privs, err := p.CurrentUserPrivileges(ctx, ev.Path)
			if err != nil {
				return false, err
			}
			ev.Result.Set(name, dav.PrivilegeSet(privs))
		}
	}
	return true, nil
}

func (p *Plugin) afterGetProperties(ctx context.Context, payload any) (bool, error) {
	ev := payload.(*server.PropertiesEvent)
	privs, err := p.CurrentUserPrivileges(ctx, ev.Path)
	if err != nil {
		return false, err
	}
	if !slices.Contains(privs, PrivRead) {
		ev.Result.Downgrade(http.StatusForbidden)
		return true, nil
	}
	if !slices.Contains(privs, PrivReadACL) {
		if status, _ := ev.Result.Status(dav.PropACL); status == http.StatusOK {
			ev.Result.SetStatus(dav.PropACL, http.StatusForbidden)
		}
	}
	return true, nil
}
