package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	height       prometheus.Gauge
	blockTxs     prometheus.Histogram
	txResults    *prometheus.CounterVec
	records      *prometheus.CounterVec
	commitFails  prometheus.Counter
	subscribers  prometheus.Gauge
	checkRejects *prometheus.CounterVec
}

func newMetrics(namespace string, registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_height",
			Help:      "Last committed block height",
		}),
		blockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_txs",
			Help:      "Transactions per executed block",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		txResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs",
			Help:      "Executed transactions by result",
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Committed relay records by kind",
		}, []string{"kind"}),
		commitFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_failures",
			Help:      "Commits that returned an error",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "record_subscribers",
			Help:      "Open record streams",
		}),
		checkRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checktx_rejected",
			Help:      "Transactions rejected at mempool admission",
		}, []string{"context"}),
	}
	if registerer == nil {
		return m, nil
	}
	err := errors.Join(
		registerer.Register(m.height),
		registerer.Register(m.blockTxs),
		registerer.Register(m.txResults),
		registerer.Register(m.records),
		registerer.Register(m.commitFails),
		registerer.Register(m.subscribers),
		registerer.Register(m.checkRejects),
	)
	return m, err
}
