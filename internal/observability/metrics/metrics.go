package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for messaging flows.
type MessagingMetrics struct {
	webhookTotal    *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	outboundTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	chatbotTotal    *prometheus.CounterVec
	handoffTotal    *prometheus.CounterVec
	tickTotal       *prometheus.CounterVec
	queuePending    prometheus.Gauge
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "messaging",
			Name:      "webhook_events_total",
			Help:      "Total WhatsApp webhook events by field and outcome",
		}, []string{"field", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "physio",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of WhatsApp webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"object"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound dispatches by message kind and result",
		}, []string{"kind", "status"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "physio",
			Subsystem: "messaging",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of gateway sends",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		chatbotTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "messaging",
			Name:      "chatbot_outcomes_total",
			Help:      "Inbound messages by chatbot outcome",
		}, []string{"outcome"}),
		handoffTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "messaging",
			Name:      "handoffs_total",
			Help:      "Human handoffs by reason and delivery result",
		}, []string{"reason", "status"}),
		tickTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "messaging",
			Name:      "scheduled_dispatch_total",
			Help:      "Scheduled messages processed by dispatch ticks",
		}, []string{"result"}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "physio",
			Subsystem: "messaging",
			Name:      "queue_pending",
			Help:      "Scheduled messages still pending",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.outboundTotal, m.dispatchLatency,
		m.chatbotTotal, m.handoffTotal, m.tickTotal, m.queuePending)
	return m
}

func (m *MessagingMetrics) ObserveWebhook(field, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(field, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(object string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(object).Observe(seconds)
}

func (m *MessagingMetrics) ObserveOutbound(kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *MessagingMetrics) ObserveDispatchLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *MessagingMetrics) ObserveChatbot(outcome string) {
	if m == nil {
		return
	}
	m.chatbotTotal.WithLabelValues(outcome).Inc()
}

func (m *MessagingMetrics) ObserveHandoff(reason string, delivered bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !delivered {
		status = "error"
	}
	m.handoffTotal.WithLabelValues(reason, status).Inc()
}

func (m *MessagingMetrics) ObserveTick(sent, failed int) {
	if m == nil {
		return
	}
	m.tickTotal.WithLabelValues("sent").Add(float64(sent))
	m.tickTotal.WithLabelValues("failed").Add(float64(failed))
}

func (m *MessagingMetrics) SetQueuePending(n int) {
	if m == nil {
		return
	}
	m.queuePending.Set(float64(n))
}
