package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uplink",
		Name:      "upload_outcomes_total",
		Help:      "Upload attempts by outcome (successful/failed/skipped).",
	}, []string{"outcome"})

	uploadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uplink",
		Name:      "uploaded_bytes_total",
		Help:      "Compressed transfer file bytes accepted by the collector.",
	})
)

func init() {
	prometheus.MustRegister(uploadOutcomes, uploadedBytes)
}
