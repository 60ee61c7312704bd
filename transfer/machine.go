package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-flashforge/logger"
)

// Link is the connection a Machine drives. Conn is the TCP implementation.
type Link interface {
	// Connect opens the connection asynchronously; the outcome is reported
	// through Handler.OnConnected or Handler.OnError.
	Connect() error
	// SendMessage writes a protocol command.
	SendMessage(msg string) error
	// SendData writes the payload; every socket write is acknowledged through Handler.OnWriteAck.
	SendData(data []byte) error
	// Close closes the connection. Events of the closed connection are not delivered.
	Close() error
}

// Handler receives connection events. All calls come from a single worker goroutine.
type Handler interface {
	OnConnected()
	OnResponse(data []byte)
	OnWriteAck(n int)
	OnError(err error)
}

// Machine is the upload protocol state machine of one printer endpoint.
//
// It frames the payload between the ~M28 and ~M29 commands, starts the print
// with ~M23 and polls ~M119 until the printer reports it is building. Response
// completion is inferred from accumulated line counts, the protocol has no
// message terminator.
//
// RequestWrite may be called from any goroutine. The Handler methods must be
// called from one worker goroutine at a time; they block that goroutine
// during the post-transfer delay, the start settle delay and the paused backoff.
type Machine struct {
	cfg      *Config
	link     Link
	reporter Reporter
	logger   logger.Logger
	metrics  Metrics

	state    AtomicState
	attempts atomic.Int32
	progress atomic.Uint64 // float64 bits

	reqMu sync.Mutex // serializes RequestWrite and Abort

	// session, owned by the worker while state != Ready
	job       *PrintJob
	lines     []string
	partial   []byte
	crPending bool // partial line ended on '\r', a leading '\n' belongs to it
	acked     int
}

var _ Handler = (*Machine)(nil)

// NewMachine creates a Machine in the Ready state. A nil reporter discards reports.
func NewMachine(link Link, reporter Reporter, opts ...Option) (*Machine, error) {
	if link == nil {
		return nil, errors.New("transfer: link must not be nil")
	}

	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	if reporter == nil {
		reporter = NopReporter{}
	}

	return &Machine{
		cfg:      cfg,
		link:     link,
		reporter: reporter,
		logger:   cfg.GetLogger(),
	}, nil
}

// State returns the current protocol state.
func (m *Machine) State() State {
	return m.state.Get()
}

// Attempts returns the number of attempts started for the current or last write request.
func (m *Machine) Attempts() int {
	return int(m.attempts.Load())
}

// Progress returns the last reported progress percentage of the current or last attempt.
func (m *Machine) Progress() float64 {
	return math.Float64frombits(m.progress.Load())
}

// Metrics returns the machine counters.
func (m *Machine) Metrics() *Metrics {
	return &m.metrics
}

// RequestWrite starts uploading job. It returns ErrBusy without side effects
// when a transfer is already in progress, before the job is validated.
func (m *Machine) RequestWrite(job *PrintJob) error {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	if !m.state.CompareAndSwap(Ready, SendHeader) {
		m.metrics.incBusyRejectCount()
		return ErrBusy
	}

	if err := validateJob(job); err != nil {
		m.state.Set(Ready)
		return err
	}

	m.job = job
	m.attempts.Store(0)
	m.resetCounters()

	m.logger.Info("connecting to printer", "file", job.FileName, "size", job.Size())

	if err := m.link.Connect(); err != nil {
		m.job = nil
		m.state.Set(Ready)

		return &NetworkError{Op: "dial", Err: err}
	}

	return nil
}

// Abort ends the session in progress with a Failed report carrying a
// *NetworkError and returns the machine to Ready. It does nothing while Ready.
//
// Abort is for the owner of a link closed from outside the Handler, whose
// pending events are never delivered. It must not run concurrently with the
// Handler methods, so the worker delivering them has to be stopped first.
func (m *Machine) Abort(err error) {
	m.reqMu.Lock()
	if m.state.Get() == Ready {
		m.reqMu.Unlock()
		return
	}

	if err == nil {
		err = ErrConnClosed
	}
	var ne *NetworkError
	if !errors.As(err, &ne) {
		err = &NetworkError{Op: "close", Err: err}
	}

	m.logger.Warn("upload aborted", "state", m.state.String(), "error", err)
	m.metrics.incNetworkErrCount()

	job := m.closeSession()
	m.reqMu.Unlock()

	m.reporter.Failed(job, err)
}

// OnConnected starts the first attempt.
func (m *Machine) OnConnected() {
	if m.state.Get() != SendHeader || m.job == nil {
		m.logger.Debug("connected event ignored", "state", m.state.String())
		return
	}

	m.startAttempt()
}

// OnResponse accumulates printer response lines and advances the protocol
// once the current state's line threshold is met.
func (m *Machine) OnResponse(data []byte) {
	state := m.state.Get()
	if state == Ready {
		m.logger.Debug("response ignored while ready", "size", len(data))
		return
	}

	lines := m.splitLines(data)
	for _, line := range lines {
		m.logger.Debug("printer response", "line", line)
	}
	m.metrics.addLinesRecv(len(lines))
	m.lines = append(m.lines, lines...)

	switch state {
	case SendHeader:
		if len(m.lines) >= m.cfg.HeaderLines() {
			m.lines = m.lines[:0]
			m.sendFile()
		}

	case SendFooter:
		if len(m.lines) >= m.cfg.FooterLines() {
			m.lines = m.lines[:0]
			m.setState(SendStart)
			m.send(m.job.StartCommand())
		}

	case SendStart:
		if len(m.lines) >= m.cfg.StartLines() {
			m.lines = m.lines[:0]
			m.setState(CheckStatus)
			time.Sleep(m.cfg.StartSettleDelay())
			m.send(StatusCommand)
		}

	case CheckStatus:
		if len(m.lines) >= m.cfg.StatusLines() {
			status := m.lines[StatusLineIndex]
			m.lines = m.lines[:0]
			m.checkStatus(status)
		}

	default:
		// SendFile: no text is expected, lines count towards the footer acknowledgement
	}
}

// OnWriteAck counts acknowledged payload bytes and reports progress.
func (m *Machine) OnWriteAck(n int) {
	if m.state.Get() != SendFile || n <= 0 {
		return
	}

	m.acked += n
	m.metrics.addBytesSent(n)

	size := m.job.Size()
	percent := 100 * float64(m.acked) / float64(size)
	if percent > 100 {
		percent = 100
	}
	m.progress.Store(math.Float64bits(percent))
	m.reporter.Progress(m.job, percent)

	if m.acked >= size {
		m.finishFile()
	}
}

// OnError aborts the session with a network error. Errors while Ready are only logged.
func (m *Machine) OnError(err error) {
	if m.state.Get() == Ready {
		m.logger.Debug("error ignored while ready", "error", err)
		return
	}

	var ne *NetworkError
	if !errors.As(err, &ne) {
		err = &NetworkError{Op: "io", Err: err}
	}

	m.logger.Error("network error", "state", m.state.String(), "error", err)
	m.metrics.incNetworkErrCount()
	m.endSession(err)
}

func (m *Machine) startAttempt() {
	n := int(m.attempts.Add(1))
	m.metrics.incAttemptCount()
	m.resetCounters()
	m.setState(SendHeader)

	m.logger.Info("upload attempt started", "file", m.job.FileName, "size", m.job.Size(), "attempt", n)
	m.reporter.AttemptStarted(m.job, n)

	m.send(m.job.HeaderCommand())
}

func (m *Machine) sendFile() {
	m.setState(SendFile)
	m.acked = 0

	if m.job.Size() == 0 {
		m.progress.Store(math.Float64bits(100))
		m.reporter.Progress(m.job, 100)
		m.finishFile()

		return
	}

	if err := m.link.SendData(m.job.Payload); err != nil {
		m.OnError(&NetworkError{Op: "send", Err: err})
	}
}

func (m *Machine) finishFile() {
	m.logger.Debug("payload acknowledged", "bytes", m.acked)
	time.Sleep(m.cfg.PostTransferDelay())

	m.setState(SendFooter)
	m.send(FooterCommand)
}

func (m *Machine) checkStatus(status string) {
	switch {
	case strings.Contains(status, StatusBuilding):
		m.logger.Info("print started", "file", m.job.FileName, "attempt", m.Attempts())
		m.metrics.incCompletedCount()
		m.endSession(nil)

	case strings.Contains(status, StatusPaused):
		m.logger.Info("printer paused, polling again", "backoff", m.cfg.PausedBackoff())
		m.metrics.incPausedCount()
		time.Sleep(m.cfg.PausedBackoff())
		m.send(StatusCommand)

	default:
		attempts := m.Attempts()
		if attempts < m.cfg.MaxAttempts() {
			m.logger.Warn("printer not building, restarting upload", "status", status, "attempt", attempts)
			m.startAttempt()

			return
		}

		m.logger.Error("printer not building, giving up", "status", status, "attempts", attempts)
		m.metrics.incFailedCount()
		m.endSession(fmt.Errorf("%w after %d attempts, last status %q", ErrAttemptsExhausted, attempts, status))
	}
}

// send writes a protocol command; a failure aborts the session.
func (m *Machine) send(msg string) {
	m.logger.Debug("send command", "command", strings.TrimSpace(msg))

	if err := m.link.SendMessage(msg); err != nil {
		m.OnError(&NetworkError{Op: "send", Err: err})
	}
}

// endSession closes the session and reports the outcome.
func (m *Machine) endSession(err error) {
	job := m.closeSession()

	if err != nil {
		m.reporter.Failed(job, err)
	} else {
		m.reporter.Completed(job)
	}
}

// closeSession closes the link and returns to Ready. The link is closed
// before Ready is published, so a new request can't race the close.
func (m *Machine) closeSession() *PrintJob {
	job := m.job

	if err := m.link.Close(); err != nil {
		m.logger.Debug("failed to close link", "error", err)
	}

	m.job = nil
	m.resetCounters()
	m.setState(Ready)

	return job
}

func (m *Machine) resetCounters() {
	m.lines = m.lines[:0]
	m.partial = m.partial[:0]
	m.crPending = false
	m.acked = 0
	m.progress.Store(0)
}

func (m *Machine) setState(s State) {
	prev := m.state.Get()
	m.state.Set(s)

	if prev != s {
		m.logger.Debug("transfer state changed", "from", prev.String(), "to", s.String())
	}
}

// splitLines appends data to the partial line buffer and returns the completed
// lines. A line ends on "\r\n", "\n" or a lone "\r".
func (m *Machine) splitLines(data []byte) []string {
	if m.crPending && len(data) > 0 {
		if data[0] == '\n' {
			data = data[1:]
		}
		m.crPending = false
	}
	m.partial = append(m.partial, data...)

	var lines []string
	for {
		i := bytes.IndexAny(m.partial, "\r\n")
		if i < 0 {
			break
		}

		lines = append(lines, string(m.partial[:i]))

		next := i + 1
		if m.partial[i] == '\r' {
			switch {
			case next == len(m.partial):
				m.crPending = true
			case m.partial[next] == '\n':
				next++
			}
		}
		m.partial = m.partial[next:]
	}

	if len(m.partial) == 0 {
		m.partial = nil
	}

	return lines
}

func validateJob(job *PrintJob) error {
	if job == nil {
		return errors.New("transfer: job must not be nil")
	}

	return ValidateFileName(job.FileName)
}
