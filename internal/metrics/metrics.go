package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the dispute engine.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	DisputesCreated prometheus.Counter
	DisputesActive  prometheus.Gauge
	BetsPlaced      *prometheus.CounterVec
	AmountStaked    *prometheus.CounterVec
	VotesCast       *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Resolutions     *prometheus.CounterVec
	ResolveLatency  prometheus.Histogram
	FireLateness    prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in main and
// a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DisputesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "disputebot_disputes_created_total",
			Help: "Total number of disputes created",
		}),
		DisputesActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "disputebot_disputes_active",
			Help: "Disputes currently held in the registry",
		}),
		BetsPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "disputebot_bets_placed_total",
			Help: "Accepted bets by side",
		}, []string{"side"}),
		AmountStaked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "disputebot_amount_staked_total",
			Help: "Sum of accepted bet amounts by side",
		}, []string{"side"}),
		VotesCast: f.NewCounterVec(prometheus.CounterOpts{
			Name: "disputebot_votes_cast_total",
			Help: "Accepted votes by choice",
		}, []string{"side"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "disputebot_rejections_total",
			Help: "Rejected requests by operation and error kind",
		}, []string{"op", "kind"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "disputebot_resolutions_total",
			Help: "Resolution attempts by outcome (resolved, no_votes, degenerate_pool)",
		}, []string{"outcome"}),
		ResolveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "disputebot_resolve_duration_seconds",
			Help:    "Time spent computing and publishing a resolution",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		FireLateness: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "disputebot_scheduler_lateness_seconds",
			Help:    "How late scheduled resolutions fired",
			Buckets: []float64{0.01, 0.1, 1, 10, 60, 300, 3600},
		}),
	}
}

func (m *Metrics) IncDisputesCreated() {
	if m != nil {
		m.DisputesCreated.Inc()
		m.DisputesActive.Inc()
	}
}

func (m *Metrics) DecDisputesActive() {
	if m != nil {
		m.DisputesActive.Dec()
	}
}

// SetDisputesActive overwrites the gauge, used after restoring from storage.
func (m *Metrics) SetDisputesActive(n int) {
	if m != nil {
		m.DisputesActive.Set(float64(n))
	}
}

func (m *Metrics) ObserveBet(side string, amount float64) {
	if m != nil {
		m.BetsPlaced.WithLabelValues(side).Inc()
		m.AmountStaked.WithLabelValues(side).Add(amount)
	}
}

func (m *Metrics) ObserveVote(side string) {
	if m != nil {
		m.VotesCast.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) IncRejection(op, kind string) {
	if m != nil {
		m.Rejections.WithLabelValues(op, kind).Inc()
	}
}

func (m *Metrics) IncResolution(outcome string) {
	if m != nil {
		m.Resolutions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveFireLateness(d time.Duration) {
	if m != nil {
		m.FireLateness.Observe(d.Seconds())
	}
}
