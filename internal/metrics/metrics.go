// Registers:
//
//	#OIV2_trades_processed_total
//	#OIV2_events_dropped_total
//	#OIV2_alerts_admitted_total
//	#OIV2_alerts_emitted_total
//	#OIV2_notify_failures_total
//	#go_* and process_* system metrics
//
// Exposes them on /metrics using the Prometheus HTTP handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once            sync.Once
	tradesProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	alertsAdmitted  *prometheus.CounterVec
	alertsEmitted   *prometheus.CounterVec
	notifyFailures  *prometheus.CounterVec
)

func Init(address string) {
	once.Do(func() {
		tradesProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OIV2_trades_processed_total",
				Help: "Number of trade events accepted into the sliding window",
			},
			[]string{"symbol"},
		)

		eventsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OIV2_events_dropped_total",
				Help: "Number of feed events dropped at the boundary or on backpressure",
			},
			[]string{"stream", "reason"},
		)

		alertsAdmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OIV2_alerts_admitted_total",
				Help: "Number of alert candidates admitted to the scheduler",
			},
			[]string{"symbol", "side"},
		)

		alertsEmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OIV2_alerts_emitted_total",
				Help: "Number of alerts flushed to the notification sink",
			},
			[]string{"symbol", "direction"},
		)

		notifyFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "OIV2_notify_failures_total",
				Help: "Number of notification deliveries that failed",
			},
			[]string{"symbol"},
		)

		_ = prometheus.Register(tradesProcessed)
		_ = prometheus.Register(eventsDropped)
		_ = prometheus.Register(alertsAdmitted)
		_ = prometheus.Register(alertsEmitted)
		_ = prometheus.Register(notifyFailures)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if address == "" {
			address = "0.0.0.0:2112"
		}

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(address, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementTradeProcessed increases the processed counter for a symbol.
func IncrementTradeProcessed(symbol string) {
	if tradesProcessed != nil {
		tradesProcessed.WithLabelValues(symbol).Inc()
	}
}

// IncrementEventDropped increases the dropped counter for a stream/reason pair.
func IncrementEventDropped(stream, reason string) {
	if eventsDropped != nil {
		eventsDropped.WithLabelValues(stream, reason).Inc()
	}
}

// IncrementAlertAdmitted increases the admitted counter for a key.
func IncrementAlertAdmitted(symbol, side string) {
	if alertsAdmitted != nil {
		alertsAdmitted.WithLabelValues(symbol, side).Inc()
	}
}

// IncrementAlertEmitted increases the emitted counter.
func IncrementAlertEmitted(symbol, direction string) {
	if alertsEmitted != nil {
		alertsEmitted.WithLabelValues(symbol, direction).Inc()
	}
}

// IncrementNotifyFailure increases the delivery failure counter.
func IncrementNotifyFailure(symbol string) {
	if notifyFailures != nil {
		notifyFailures.WithLabelValues(symbol).Inc()
	}
}
