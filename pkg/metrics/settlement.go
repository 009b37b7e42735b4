package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts money-moving events. A nil receiver is a no-op so
// services can run without a registry in tests.
type SettlementMetrics struct {
	ordersPlaced     prometheus.Counter
	paymentCallbacks *prometheus.CounterVec
	escrowReleases   *prometheus.CounterVec
	payouts          *prometheus.CounterVec
	payoutAmount     prometheus.Counter
	invoicesIssued   *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement counters on reg.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return nil
	}
	m := &SettlementMetrics{
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders created at checkout.",
		}),
		paymentCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callbacks_total",
			Help:      "Payment provider callbacks by outcome.",
		}, []string{"outcome"}),
		escrowReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_releases_total",
			Help:      "Escrow entries released by recipient.",
		}, []string{"to"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout schedules by resulting status.",
		}, []string{"status"}),
		payoutAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_amount_total",
			Help:      "Sum of amounts transferred to sellers.",
		}),
		invoicesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_issued_total",
			Help:      "Commission invoices issued by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.ordersPlaced, m.paymentCallbacks, m.escrowReleases, m.payouts, m.payoutAmount, m.invoicesIssued)
	return m
}

func (m *SettlementMetrics) IncOrdersPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

func (m *SettlementMetrics) IncPaymentCallback(outcome string) {
	if m == nil {
		return
	}
	m.paymentCallbacks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddEscrowReleases counts n entries released to the given party.
func (m *SettlementMetrics) AddEscrowReleases(to string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.escrowReleases.WithLabelValues(normalizeLabel(to)).Add(float64(n))
}

// ObservePayout counts a payout outcome; amount is added only for paid payouts.
func (m *SettlementMetrics) ObservePayout(status string, amount float64) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(status)).Inc()
	if status == "paid" && amount > 0 {
		m.payoutAmount.Add(amount)
	}
}

func (m *SettlementMetrics) IncInvoiceIssued(creditNote bool) {
	if m == nil {
		return
	}
	kind := "invoice"
	if creditNote {
		kind = "credit_note"
	}
	m.invoicesIssued.WithLabelValues(kind).Inc()
}
