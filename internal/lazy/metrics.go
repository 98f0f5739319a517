package lazy

import "github.com/prometheus/client_golang/prometheus"

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazyd",
			Subsystem: "lazy",
			Name:      "activations_total",
			Help:      "Lazy worker activations by result",
		},
		[]string{"result"},
	)

	unloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lazyd",
			Subsystem: "lazy",
			Name:      "unloads_total",
			Help:      "Lazy worker unloads",
		},
	)
)

func init() {
	prometheus.MustRegister(activationsTotal, unloadsTotal)
}
