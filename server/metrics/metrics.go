// Package metrics counts requests with Prometheus collectors.
package metrics

import (
	"context"

	"github.com/cyp0633/libdav/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Plugin counts every request before any other subscriber can veto it.
type Plugin struct {
	requests *prometheus.CounterVec
}

// New creates the plugin and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Plugin, error) {
	p := &Plugin{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "libdav",
			Name:      "requests_total",
			Help:      "WebDAV requests received, by method.",
		}, []string{"method"}),
	}
	if err := reg.Register(p.requests); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plugin) Name() string {
	return "metrics"
}

func (p *Plugin) Initialize(s *server.Server) error {
	s.Subscribe(server.EventBeforeMethod, p.beforeMethod, 0)
	return nil
}

func (p *Plugin) beforeMethod(_ context.Context, payload any) (bool, error) {
	ev := payload.(*server.MethodEvent)
	p.requests.WithLabelValues(ev.Method).Inc()
	return true, nil
}
