package transfer

import "sync/atomic"

// Metrics contains atomic counters of a transfer state machine.
type Metrics struct {
	// AttemptCount indicates the number of upload attempts started.
	AttemptCount atomic.Uint64
	// CompletedCount indicates the number of uploads the printer started building.
	CompletedCount atomic.Uint64
	// FailedCount indicates the number of uploads that exhausted their attempts.
	FailedCount atomic.Uint64
	// NetworkErrCount indicates the number of network errors that aborted an upload.
	NetworkErrCount atomic.Uint64
	// BusyRejectCount indicates the number of write requests rejected as busy.
	BusyRejectCount atomic.Uint64
	// PausedCount indicates the number of status reports saying the printer is paused.
	PausedCount atomic.Uint64

	// BytesSent indicates the number of payload bytes acknowledged by the socket.
	BytesSent atomic.Uint64
	// LinesRecv indicates the number of response lines received.
	LinesRecv atomic.Uint64
}

func (m *Metrics) incAttemptCount()    { m.AttemptCount.Add(1) }
func (m *Metrics) incCompletedCount()  { m.CompletedCount.Add(1) }
func (m *Metrics) incFailedCount()     { m.FailedCount.Add(1) }
func (m *Metrics) incNetworkErrCount() { m.NetworkErrCount.Add(1) }
func (m *Metrics) incBusyRejectCount() { m.BusyRejectCount.Add(1) }
func (m *Metrics) incPausedCount()     { m.PausedCount.Add(1) }

func (m *Metrics) addBytesSent(n int) {
	if n > 0 {
		m.BytesSent.Add(uint64(n))
	}
}

func (m *Metrics) addLinesRecv(n int) {
	if n > 0 {
		m.LinesRecv.Add(uint64(n))
	}
}
