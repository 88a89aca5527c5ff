/**
 * @description
 * Prometheus collectors for the payments-service. Exposed on /metrics via the
 * promhttp handler.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PaymentsInitiated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Provisional payments created, by kind",
		},
		[]string{"kind"},
	)

	PaymentsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_completed_total",
			Help: "Payments confirmed by the gateway callback, by kind",
		},
		[]string{"kind"},
	)

	PaymentsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_failed_total",
			Help: "Payments that failed at the gateway or in the callback, by kind",
		},
		[]string{"kind"},
	)

	StkPushRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_push_requests_total",
			Help: "Outbound push-payment requests, by outcome (accepted|rejected|error)",
		},
		[]string{"outcome"},
	)

	CallbackEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_callback_events_total",
			Help: "Inbound gateway callbacks, by outcome (completed|failed|duplicate|unknown_token|malformed|unverified)",
		},
		[]string{"outcome"},
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(PaymentsInitiated)
	prometheus.MustRegister(PaymentsCompleted)
	prometheus.MustRegister(PaymentsFailed)
	prometheus.MustRegister(StkPushRequests)
	prometheus.MustRegister(CallbackEvents)
}
