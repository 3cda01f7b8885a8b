package mauzr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpMetrics(t *testing.T) {
	m := &NoOpMetrics{}

	c := m.Counter("c", nil)
	c.Inc()
	c.Add(2)
	assert.Zero(t, c.Value())

	g := m.Gauge("g", MetricLabels{"a": "b"})
	g.Set(3)
	g.Inc()
	g.Dec()
	assert.Zero(t, g.Value())

	h := m.Histogram("h", nil)
	h.Observe(1)
	h.ObserveDuration(time.Second)
	assert.Zero(t, h.Count())
	assert.Zero(t, h.Sum())
}

func TestConnectorMetrics(t *testing.T) {
	mem := NewMemoryMetrics()
	m := newConnectorMetrics(mem)

	m.connected(250 * time.Millisecond)
	m.connectFailed()
	m.pending(4)
	m.packetSent(PacketPUBLISH)
	m.packetSent(PacketPUBLISH)
	m.packetReceived(PacketPUBACK)
	m.messageSent(1)
	m.messageReceived(0)
	m.callbackFailed()

	assert.Equal(t, float64(1), mem.GetGauge(MetricConnected, nil).Value())
	assert.Equal(t, float64(1), mem.GetCounter(MetricConnectsTotal, nil).Value())
	assert.Equal(t, float64(1), mem.GetCounter(MetricConnectFailuresTotal, nil).Value())
	assert.InDelta(t, 0.25, mem.GetHistogram(MetricHandshakeSeconds, nil).Sum(), 0.001)
	assert.Equal(t, float64(4), mem.GetGauge(MetricLedgerPending, nil).Value())
	assert.Equal(t, float64(2), mem.GetCounter(MetricPacketsSent, MetricLabels{LabelPacketType: "PUBLISH"}).Value())
	assert.Equal(t, float64(1), mem.GetCounter(MetricPacketsReceived, MetricLabels{LabelPacketType: "PUBACK"}).Value())
	assert.Equal(t, float64(1), mem.GetCounter(MetricMessagesSent, MetricLabels{LabelQoS: "1"}).Value())
	assert.Equal(t, float64(1), mem.GetCounter(MetricMessagesReceived, MetricLabels{LabelQoS: "0"}).Value())
	assert.Equal(t, float64(1), mem.GetCounter(MetricCallbackErrors, nil).Value())

	m.disconnected()
	assert.Equal(t, float64(0), mem.GetGauge(MetricConnected, nil).Value())
	assert.Equal(t, float64(1), mem.GetCounter(MetricDisconnectsTotal, nil).Value())
}

func TestConnectorMetricsDefaultsToNoOp(t *testing.T) {
	m := newConnectorMetrics(nil)
	assert.NotPanics(t, func() {
		m.connected(time.Second)
		m.disconnected()
	})
}
