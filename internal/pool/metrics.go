package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the distributor's Prometheus instruments.
type Metrics struct {
	epochs  prometheus.Counter
	rewards *prometheus.CounterVec
}

// NewMetrics creates and registers the instruments. A nil reg uses the
// default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_epochs_settled_total",
			Help:      "Pool epochs settled by this process",
		}),
		rewards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_rewards_paid_total",
				Help:      "Reward paid out in settled epochs, by recipient kind",
			},
			[]string{"recipient"},
		),
	}
	reg.MustRegister(m.epochs, m.rewards)
	return m
}

func (m *Metrics) settled(sum Summary) {
	m.epochs.Inc()
	m.rewards.WithLabelValues("user").Add(sum.User)
	m.rewards.WithLabelValues("bot").Add(sum.Bot)
}
