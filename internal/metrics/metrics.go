package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "customdomains"

// Metrics contains the prometheus collectors of the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProvisionRuns       *prometheus.CounterVec
	StepDuration        *prometheus.HistogramVec
	DuplicateRecoveries *prometheus.CounterVec
	WebhookEvents       *prometheus.CounterVec
	OrdersFulfilled     *prometheus.CounterVec
}

// New creates all collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}

	// -- ProvisionRuns --------------------------------------------------------
	m.ProvisionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "runs_total",
			Help:      "Number of provisioning runs by outcome.",
		},
		[]string{"outcome"},
	)
	if err := reg.Register(m.ProvisionRuns); err != nil {
		return nil, fmt.Errorf("couldn't register ProvisionRuns counterVec: %w", err)
	}

	// -- StepDuration ---------------------------------------------------------
	m.StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "step_duration_seconds",
			Help:      "Time spent in each provisioning step.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"step"},
	)
	if err := reg.Register(m.StepDuration); err != nil {
		return nil, fmt.Errorf("couldn't register StepDuration histogramVec: %w", err)
	}

	// -- DuplicateRecoveries --------------------------------------------------
	m.DuplicateRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "duplicate_recoveries_total",
			Help:      "Number of duplicate errors recovered by lookup, by step.",
		},
		[]string{"step"},
	)
	if err := reg.Register(m.DuplicateRecoveries); err != nil {
		return nil, fmt.Errorf("couldn't register DuplicateRecoveries counterVec: %w", err)
	}

	// -- WebhookEvents --------------------------------------------------------
	m.WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Number of payment webhook events received, by type.",
		},
		[]string{"type"},
	)
	if err := reg.Register(m.WebhookEvents); err != nil {
		return nil, fmt.Errorf("couldn't register WebhookEvents counterVec: %w", err)
	}

	// -- OrdersFulfilled ------------------------------------------------------
	m.OrdersFulfilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "fulfilled_total",
			Help:      "Number of fulfillment attempts by resulting order status.",
		},
		[]string{"status"},
	)
	if err := reg.Register(m.OrdersFulfilled); err != nil {
		return nil, fmt.Errorf("couldn't register OrdersFulfilled counterVec: %w", err)
	}

	return m, nil
}

func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.ProvisionRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStep(step string, started time.Time) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveDuplicate(step string) {
	if m == nil {
		return
	}
	m.DuplicateRecoveries.WithLabelValues(step).Inc()
}

func (m *Metrics) ObserveWebhook(eventType string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveFulfillment(status string) {
	if m == nil {
		return
	}
	m.OrdersFulfilled.WithLabelValues(status).Inc()
}
