package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/cyp0633/libdav/internal/config"
	"github.com/cyp0633/libdav/server"
	"github.com/cyp0633/libdav/server/acl"
	"github.com/cyp0633/libdav/server/auth"
	authmemory "github.com/cyp0633/libdav/server/auth/memory"
	"github.com/cyp0633/libdav/server/caldav"
	"github.com/cyp0633/libdav/server/caldav/recurrence"
	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/metrics"
	"github.com/cyp0633/libdav/server/storage/fs"
	"github.com/cyp0633/libdav/server/storage/memory"
	"github.com/cyp0633/libdav/server/storage/propstore"
	"github.com/cyp0633/libdav/server/storage/s3"
	"github.com/cyp0633/libdav/server/tree"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app is a fully wired server.
type app struct {
	handler http.Handler
	closers []io.Closer
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	props, err := openPropertyStore(cfg.Properties, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, props)

	root, err := openBackend(ctx, cfg.Backend, props, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	t := tree.NewObjectTree(root, tree.WithCache(cfg.Cache.TTL), tree.WithLogger(logger))

	reg := prometheus.NewRegistry()
	plugins, err := buildPlugins(cfg, reg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	s, err := server.New(t,
		server.WithBaseURI(cfg.Server.BaseURI),
		server.WithLogger(logger),
		server.WithDebugExceptions(cfg.Server.DebugExceptions),
		server.WithPlugins(plugins...),
	)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "create server")
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.BaseURI, s)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	a.handler = mux
	return a, nil
}

func openPropertyStore(cfg config.PropertiesConfig, logger *slog.Logger) (propstore.Store, error) {
	if cfg.Type == "badger" {
		return propstore.OpenBadger(cfg.Badger.Path, propstore.WithLogger(logger))
	}
	return propstore.NewMemory(), nil
}

func openBackend(ctx context.Context, cfg config.BackendConfig, props propstore.Store, logger *slog.Logger) (dav.Directory, error) {
	logger = logger.With("backend", cfg.Type)
	switch cfg.Type {
	case "filesystem":
		opts, err := cfg.FilesystemOptions()
		if err != nil {
			return nil, err
		}
		logger.Info("serving filesystem", "root", opts.Root)
		return fs.NewOS(opts.Root,
			fs.WithPropertyStore(props),
			fs.WithExtendedCollections(),
			fs.WithLogger(logger),
		)
	case "s3":
		opts, err := cfg.S3Options()
		if err != nil {
			return nil, err
		}
		client, err := s3.NewClient(ctx, s3.ClientConfig{
			Region:          opts.Region,
			Endpoint:        opts.Endpoint,
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			UsePathStyle:    opts.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("serving bucket", "bucket", opts.Bucket, "prefix", opts.Prefix)
		return s3.New(client, opts.Bucket,
			s3.WithPrefix(opts.Prefix),
			s3.WithPropertyStore(props),
			s3.WithExtendedCollections(),
			s3.WithLogger(logger),
		), nil
	}
	logger.Warn("serving an in-memory tree, content is lost on exit")
	return memory.New(memory.WithExtendedCollections()), nil
}

func buildPlugins(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) ([]server.Plugin, error) {
	var plugins []server.Plugin

	if cfg.Metrics.Enabled {
		m, err := metrics.New(reg)
		if err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
		plugins = append(plugins, m)
	}

	if cfg.Auth.Enabled {
		users := authmemory.New(authmemory.WithLogger(logger))
		for _, u := range cfg.Auth.Users {
			if err := users.AddHashedUser(u.Name, u.PasswordHash); err != nil {
				return nil, err
			}
		}
		plugins = append(plugins, auth.New(users, auth.WithRealm(cfg.Auth.Realm), auth.WithLogger(logger)))
	}

	if cfg.ACL.Enabled {
		plugins = append(plugins, acl.New(acl.WithAllowUnprotected(cfg.ACL.AllowUnprotected), acl.WithLogger(logger)))
	}

	if cfg.CalDAV.Enabled {
		engine := recurrence.NewEngine(
			recurrence.WithCache(cfg.Cache.TTL),
			recurrence.WithMaxOccurrences(cfg.CalDAV.MaxOccurrences),
			recurrence.WithLogger(logger),
		)
		opts := []caldav.Option{caldav.WithEngine(engine), caldav.WithLogger(logger)}
		if len(cfg.CalDAV.Components) > 0 {
			opts = append(opts, caldav.WithComponents(cfg.CalDAV.Components...))
		}
		plugins = append(plugins, caldav.New(opts...))
	}
	return plugins, nil
}
