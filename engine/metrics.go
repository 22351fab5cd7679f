package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	routedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Number of push events routed, by kind.",
	}, []string{"kind"})

	sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "engine",
		Name:      "sends_total",
		Help:      "Number of settled sends, by outcome.",
	}, []string{"outcome"})

	openSurfaces = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "minichat",
		Subsystem: "engine",
		Name:      "open_surfaces",
		Help:      "Number of open surfaces across all managers.",
	})
)

func init() {
	prometheus.MustRegister(routedEvents, sends, openSurfaces)
}
