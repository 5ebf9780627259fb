// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported alongside the server's
// own Stats counters (spec.md's supplemented observability surface): Stats
// answers LUSERS, Metrics answers a scrape.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal prometheus.Counter
	ClientsCurrent   prometheus.Gauge
	CommandsTotal    *prometheus.CounterVec
	FederationLinks  prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ironhold",
			Name:      "connections_total",
			Help:      "Total number of accepted client connections.",
		}),
		ClientsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ironhold",
			Name:      "clients_current",
			Help:      "Number of currently registered clients.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironhold",
			Name:      "commands_total",
			Help:      "Total number of commands dispatched, by verb.",
		}, []string{"command"}),
		FederationLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ironhold",
			Name:      "federation_links",
			Help:      "Number of direct server-to-server links currently established.",
		}),
	}
	m.registry.MustRegister(m.ConnectionsTotal, m.ClientsCurrent, m.CommandsTotal, m.FederationLinks)
	return m
}

// setupMetricsListener starts or stops the Prometheus scrape endpoint to
// match config, the same start/stop-on-diff pattern as setupPprofListener.
func (server *Server) setupMetricsListener(config *Config) {
	addr := ""
	if config.Debug.MetricsListener != nil {
		addr = *config.Debug.MetricsListener
	}

	if server.metricsServer != nil {
		if addr == "" || addr != server.metricsServer.Addr {
			server.logger.Info("server", "Stopping metrics listener", server.metricsServer.Addr)
			server.metricsServer.Close()
			server.metricsServer = nil
		}
	}

	if addr != "" && server.metricsServer == nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(server.metrics.registry, promhttp.HandlerOpts{}))
		ms := http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := ms.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				server.logger.Error("server", "metrics listener failed", err.Error())
			}
		}()
		server.metricsServer = &ms
		server.logger.Info("server", "Started metrics listener", server.metricsServer.Addr)
	}
}
