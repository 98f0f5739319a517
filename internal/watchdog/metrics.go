package watchdog

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazyd",
			Subsystem: "watchdog",
			Name:      "ticks_total",
			Help:      "Watchdog ticks by result",
		},
		[]string{"result"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazyd",
			Subsystem: "watchdog",
			Name:      "actions_total",
			Help:      "Load/unload calls issued by the watchdog",
		},
		[]string{"action", "result"},
	)

	loadedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lazyd",
			Subsystem: "watchdog",
			Name:      "loaded",
			Help:      "Watchdog belief that a worker is loaded (1) or not (0)",
		},
		[]string{"worker_id"},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal, actionsTotal, loadedGauge)
}

func setLoaded(id string, loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	loadedGauge.WithLabelValues(id).Set(v)
}
