package arduino

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a device connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// MsgSendCount indicates the number of framed messages written.
	MsgSendCount atomic.Uint64
	// MsgRecvCount indicates the number of framed messages received.
	MsgRecvCount atomic.Uint64
	// AckRecvCount indicates the number of acknowledgments received.
	AckRecvCount atomic.Uint64
	// RetryCount indicates the total number of send retries.
	RetryCount atomic.Uint64
	// DiscardCount indicates the number of low priority messages discarded.
	DiscardCount atomic.Uint64
	// WipeCount indicates the number of queue wipes caused by hitting the
	// consecutive failure ceiling.
	WipeCount atomic.Uint64
	// ChecksumErrCount indicates the number of inbound integrity failures.
	ChecksumErrCount atomic.Uint64
	// EventDropCount indicates events dropped because a subscriber was slow.
	EventDropCount atomic.Uint64

	// ConnRetryGauge indicates the number of discovery rounds since the last
	// successful connect.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnectionMetrics) incMsgSendCount() {
	m.MsgSendCount.Add(1)
}

func (m *ConnectionMetrics) incMsgRecvCount() {
	m.MsgRecvCount.Add(1)
}

func (m *ConnectionMetrics) incAckRecvCount() {
	m.AckRecvCount.Add(1)
}

func (m *ConnectionMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *ConnectionMetrics) incDiscardCount() {
	m.DiscardCount.Add(1)
}

func (m *ConnectionMetrics) incWipeCount() {
	m.WipeCount.Add(1)
}

func (m *ConnectionMetrics) incChecksumErrCount() {
	m.ChecksumErrCount.Add(1)
}

func (m *ConnectionMetrics) incEventDropCount() {
	m.EventDropCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
