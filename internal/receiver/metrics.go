package receiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "receiver_frame_received_count",
		Help: "The number of accepted beacon frames.",
	})

	dc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receiver_frame_dropped_count",
		Help: "The number of dropped advertisements (per reason).",
	}, []string{"reason"})

	ec = promauto.NewCounter(prometheus.CounterOpts{
		Name: "receiver_record_evicted_count",
		Help: "The number of emitter records evicted as stale.",
	})
)

func frameReceivedCounter() prometheus.Counter {
	return fc
}

func frameDroppedCounter(reason string) prometheus.Counter {
	return dc.With(prometheus.Labels{"reason": reason})
}

func recordEvictedCounter() prometheus.Counter {
	return ec
}
