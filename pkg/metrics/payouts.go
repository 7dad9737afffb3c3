package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PayoutMetrics tracks disbursement run outcomes.
type PayoutMetrics struct {
	vendors     *prometheus.CounterVec
	amountMinor *prometheus.CounterVec
	overdrawn   prometheus.Counter
	batches     *prometheus.CounterVec
}

// NewPayoutMetrics registers payout metrics on the provided registerer.
func NewPayoutMetrics(reg prometheus.Registerer) *PayoutMetrics {
	if reg == nil {
		return &PayoutMetrics{}
	}
	vendors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_vendors_total",
		Help: "Vendors processed by payout batches, by outcome.",
	}, []string{"outcome"})
	amountMinor := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_amount_minor_total",
		Help: "Disbursed amount in minor currency units, by outcome.",
	}, []string{"outcome"})
	overdrawn := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payout_overdrawn_settlements_total",
		Help: "Settlements whose amount exceeded the vendor's unsettled credits.",
	})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_batches_total",
		Help: "Payout batch runs, by final status.",
	}, []string{"status"})
	reg.MustRegister(vendors, amountMinor, overdrawn, batches)
	return &PayoutMetrics{
		vendors:     vendors,
		amountMinor: amountMinor,
		overdrawn:   overdrawn,
		batches:     batches,
	}
}

// ObserveVendor counts one vendor outcome and its amount.
func (m *PayoutMetrics) ObserveVendor(outcome string, amountMinor int64) {
	if m == nil || m.vendors == nil {
		return
	}
	m.vendors.WithLabelValues(outcome).Inc()
	m.amountMinor.WithLabelValues(outcome).Add(float64(amountMinor))
}

// IncOverdrawn counts a settlement that exceeded recorded credits.
func (m *PayoutMetrics) IncOverdrawn() {
	if m == nil || m.overdrawn == nil {
		return
	}
	m.overdrawn.Inc()
}

// ObserveBatch counts a completed batch run by status.
func (m *PayoutMetrics) ObserveBatch(status string) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
}
