// Package metrics содержит Prometheus метрики каналов clunks.
//
// Все методы записи допускают nil-получатель: канал без метрик просто ничего не пишет.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения меток
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics содержит все метрики канала
type Metrics struct {
	// Клиенты
	ActiveClients  prometheus.Gauge
	ClientDuration prometheus.Histogram
	Removals       *prometheus.CounterVec

	// Handshake
	Handshakes *prometheus.CounterVec

	// Пакеты
	PacketsIn  *prometheus.CounterVec
	PacketsOut *prometheus.CounterVec
	LossEvents prometheus.Counter
}

// New создаёт метрики с префиксом namespace. Регистрация — через MustRegister.
func New(namespace string) *Metrics {
	return &Metrics{
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_clients",
			Help:      "Number of clients that completed the handshake",
		}),

		ClientDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "client_duration_seconds",
			Help:      "Lifetime of client connections",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		Removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_removals_total",
			Help:      "Clients removed from the live set by reason",
		}, []string{"reason"}),

		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshake attempts by result",
		}, []string{"result"}),

		PacketsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Packets received by transport",
		}, []string{"transport"}),

		PacketsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Packets sent by transport",
		}, []string{"transport"}),

		LossEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loss_events_total",
			Help:      "Truncated or undeliverable datagrams",
		}),
	}
}

// MustRegister регистрирует все метрики в r.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		m.ActiveClients,
		m.ClientDuration,
		m.Removals,
		m.Handshakes,
		m.PacketsIn,
		m.PacketsOut,
		m.LossEvents,
	)
}

// RecordHandshake записывает результат одной попытки handshake.
func (m *Metrics) RecordHandshake(err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	m.Handshakes.WithLabelValues(result).Inc()
}

// RecordClientAdded записывает появление клиента в живом наборе.
func (m *Metrics) RecordClientAdded() {
	if m == nil {
		return
	}
	m.ActiveClients.Inc()
}

// RecordClientRemoved записывает удаление клиента.
func (m *Metrics) RecordClientRemoved(reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveClients.Dec()
	m.Removals.WithLabelValues(reason).Inc()
	m.ClientDuration.Observe(lifetime.Seconds())
}

// RecordPacketIn записывает принятый пакет.
func (m *Metrics) RecordPacketIn(transport string) {
	if m == nil {
		return
	}
	m.PacketsIn.WithLabelValues(transport).Inc()
}

// RecordPacketOut записывает отправленный пакет.
func (m *Metrics) RecordPacketOut(transport string) {
	if m == nil {
		return
	}
	m.PacketsOut.WithLabelValues(transport).Inc()
}

// RecordLoss записывает потерю датаграммы.
func (m *Metrics) RecordLoss() {
	if m == nil {
		return
	}
	m.LossEvents.Inc()
}
