package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	transfers *prometheus.CounterVec
	volume    *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics
)

// Ledger returns the metrics registry tracking holding transfers.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "transfers_total",
				Help:      "Count of holding transfers segmented by asset and outcome.",
			}, []string{"asset", "outcome"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "transferred_amount_total",
				Help:      "Sum of transferred base units segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(ledgerRegistry.transfers, ledgerRegistry.volume)
	})
	return ledgerRegistry
}

// RecordTransfer counts a transfer attempt for the supplied asset ticker.
func (m *ledgerMetrics) RecordTransfer(asset string, amount uint64, err error) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	if err != nil {
		m.transfers.WithLabelValues(normalized, "error").Inc()
		return
	}
	m.transfers.WithLabelValues(normalized, "success").Inc()
	m.volume.WithLabelValues(normalized).Add(float64(amount))
}
