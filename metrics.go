package mauzr

import (
	"strconv"
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics collects connector metrics. Implementations adapt it to a
// monitoring system.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)

	// ObserveDuration records a duration in seconds.
	ObserveDuration(d time.Duration)

	Count() uint64
	Sum() float64
}

// NoOpMetrics discards every observation.
type NoOpMetrics struct{}

// Counter returns a no-op counter.
func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter { return noOpMetric{} }

// Gauge returns a no-op gauge.
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge { return noOpMetric{} }

// Histogram returns a no-op histogram.
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram { return noOpMetric{} }

type noOpMetric struct{}

func (noOpMetric) Inc()                            {}
func (noOpMetric) Dec()                            {}
func (noOpMetric) Set(_ float64)                   {}
func (noOpMetric) Add(_ float64)                   {}
func (noOpMetric) Value() float64                  { return 0 }
func (noOpMetric) Observe(_ float64)               {}
func (noOpMetric) ObserveDuration(_ time.Duration) {}
func (noOpMetric) Count() uint64                   { return 0 }
func (noOpMetric) Sum() float64                    { return 0 }

// Connector metric names.
const (
	// MetricConnected is 1 while the connector holds a session.
	MetricConnected = "mauzr_connected"

	// MetricConnectsTotal counts completed handshakes.
	MetricConnectsTotal = "mauzr_connects_total"

	// MetricConnectFailuresTotal counts failed connection attempts.
	MetricConnectFailuresTotal = "mauzr_connect_failures_total"

	// MetricDisconnectsTotal counts lost or closed sessions.
	MetricDisconnectsTotal = "mauzr_disconnects_total"

	// MetricHandshakeSeconds is the time from dial to CONNACK.
	MetricHandshakeSeconds = "mauzr_handshake_seconds"

	// MetricLedgerPending is the number of unacknowledged ledger entries.
	MetricLedgerPending = "mauzr_ledger_pending"

	// MetricPacketsSent counts packets written to the broker.
	MetricPacketsSent = "mauzr_packets_sent_total"

	// MetricPacketsReceived counts packets read from the broker.
	MetricPacketsReceived = "mauzr_packets_received_total"

	// MetricMessagesReceived counts delivered application messages.
	MetricMessagesReceived = "mauzr_messages_received_total"

	// MetricMessagesSent counts published application messages.
	MetricMessagesSent = "mauzr_messages_sent_total"

	// MetricCallbackErrors counts failed subscriber callbacks.
	MetricCallbackErrors = "mauzr_callback_errors_total"
)

// Metric labels.
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
)

// connectorMetrics records the connector metric set.
type connectorMetrics struct {
	metrics Metrics
}

func newConnectorMetrics(m Metrics) *connectorMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &connectorMetrics{metrics: m}
}

func (c *connectorMetrics) connected(handshake time.Duration) {
	c.metrics.Gauge(MetricConnected, nil).Set(1)
	c.metrics.Counter(MetricConnectsTotal, nil).Inc()
	c.metrics.Histogram(MetricHandshakeSeconds, nil).ObserveDuration(handshake)
}

func (c *connectorMetrics) connectFailed() {
	c.metrics.Counter(MetricConnectFailuresTotal, nil).Inc()
}

func (c *connectorMetrics) disconnected() {
	c.metrics.Gauge(MetricConnected, nil).Set(0)
	c.metrics.Counter(MetricDisconnectsTotal, nil).Inc()
}

func (c *connectorMetrics) pending(n int) {
	c.metrics.Gauge(MetricLedgerPending, nil).Set(float64(n))
}

func (c *connectorMetrics) packetSent(t PacketType) {
	c.metrics.Counter(MetricPacketsSent, MetricLabels{LabelPacketType: t.String()}).Inc()
}

func (c *connectorMetrics) packetReceived(t PacketType) {
	c.metrics.Counter(MetricPacketsReceived, MetricLabels{LabelPacketType: t.String()}).Inc()
}

func (c *connectorMetrics) messageSent(qos byte) {
	c.metrics.Counter(MetricMessagesSent, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).Inc()
}

func (c *connectorMetrics) messageReceived(qos byte) {
	c.metrics.Counter(MetricMessagesReceived, MetricLabels{LabelQoS: strconv.Itoa(int(qos))}).Inc()
}

func (c *connectorMetrics) callbackFailed() {
	c.metrics.Counter(MetricCallbackErrors, nil).Inc()
}
