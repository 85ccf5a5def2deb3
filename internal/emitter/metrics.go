package emitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ac = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emitter_advertisement_count",
		Help: "The number of advertisements handed to the peripheral.",
	})

	tec = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emitter_transmission_error_count",
		Help: "The number of advertisements refused by the peripheral.",
	})
)

func advertisementCounter() prometheus.Counter {
	return ac
}

func transmissionErrorCounter() prometheus.Counter {
	return tec
}
