/*
Package server maps HTTP requests onto a tree of DAV nodes. It implements the
WebDAV methods, resolves and serializes properties, and hosts plugins that
extend it through an event bus.

# Basic Usage

The simplest way to use this package is with the in-memory backend:

	root := memory.New(memory.WithExtendedCollections())
	srv, err := server.New(tree.NewObjectTree(root),
		server.WithBaseURI("/dav/"),
		server.WithPlugins(caldav.New()),
	)
	if err != nil {
		log.Fatal(err)
	}
	http.Handle("/dav/", srv)
	http.ListenAndServe(":8080", nil)

# Backends

A backend provides nodes. Every node implements dav.Node and opts into
further capabilities by implementing the matching interface:

  - dav.File: readable and writable content
  - dav.Directory: members, plus dav.ChildLookup for direct lookups
  - dav.PropertyStore: dead properties
  - dav.Quota, dav.ACL and dav.ExtendedCollection

Packages under server/storage provide memory, filesystem (afero) and S3
backends.

# Plugins

A plugin subscribes to events in Initialize. Handlers run in priority order
and any of them can stop a broadcast:

	s.Subscribe(server.EventBeforeMethod, func(ctx context.Context, payload any) (bool, error) {
		ev := payload.(*server.MethodEvent)
		if ev.Method == http.MethodDelete {
			return false, dav.ErrForbidden.With("read-only")
		}
		return true, nil
	}, 50)

Plugins may also add methods, reports and DAV compliance classes to OPTIONS
by implementing MethodProvider, ReportProvider and FeatureProvider.

# Error Handling

Handlers return errors. Errors that wrap a *dav.HTTPError are written with
its status and condition element. Anything else becomes a 500 response.
*/
package server
