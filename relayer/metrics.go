package relayer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	records     *prometheus.CounterVec
	enqueued    *prometheus.CounterVec
	submissions *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	failed      prometheus.Counter
	unroutable  prometheus.Counter
}

func newMetrics(namespace string, registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_seen",
			Help:      "Number of committed records read from chains",
		}, []string{"kind"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_enqueued",
			Help:      "Number of deliveries added to the outbox",
		}, []string{"kind"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions",
			Help:      "Number of transactions submitted, by result",
		}, []string{"result"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_acknowledged",
			Help:      "Number of deliveries acknowledged by the destination",
		}, []string{"kind"}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed",
			Help:      "Number of deliveries given up on",
		}),
		unroutable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_unroutable",
			Help:      "Number of records naming a chain the relayer does not serve",
		}),
	}
	if registerer == nil {
		return m, nil
	}
	err := errors.Join(
		registerer.Register(m.records),
		registerer.Register(m.enqueued),
		registerer.Register(m.submissions),
		registerer.Register(m.delivered),
		registerer.Register(m.failed),
		registerer.Register(m.unroutable),
	)
	return m, err
}
