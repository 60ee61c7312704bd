package transfer

import (
	"context"
	"sync/atomic"
)

// Uploader wires a Conn, a Machine and an EventQueue together for one printer.
//
//	up, err := transfer.NewUploader(ctx, "192.168.1.50", reporter)
//	...
//	err = up.Upload(job) // returns ErrBusy while a previous job is in flight
type Uploader struct {
	conn    *Conn
	machine *Machine
	events  *EventQueue
	closed  atomic.Bool
}

// NewUploader creates an uploader for the printer at host. Reports are
// delivered to reporter on a dedicated goroutine.
func NewUploader(ctx context.Context, host string, reporter Reporter, opts ...Option) (*Uploader, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	conn, err := NewConn(ctx, host, WithConfig(cfg))
	if err != nil {
		return nil, err
	}

	events, err := NewEventQueue(ctx, reporter, cfg.GetLogger())
	if err != nil {
		_ = conn.Shutdown()
		return nil, err
	}

	machine, err := NewMachine(conn, events, WithConfig(cfg))
	if err != nil {
		_ = conn.Shutdown()
		events.Close()

		return nil, err
	}

	conn.Bind(machine)

	return &Uploader{conn: conn, machine: machine, events: events}, nil
}

// Upload starts uploading job. It returns ErrBusy while another upload is in progress.
func (u *Uploader) Upload(job *PrintJob) error {
	return u.machine.RequestWrite(job)
}

// State returns the protocol state.
func (u *Uploader) State() State {
	return u.machine.State()
}

// Attempts returns the number of attempts of the current or last upload.
func (u *Uploader) Attempts() int {
	return u.machine.Attempts()
}

// Progress returns the payload progress percentage of the current attempt.
func (u *Uploader) Progress() float64 {
	return u.machine.Progress()
}

// Metrics returns the state machine counters.
func (u *Uploader) Metrics() *Metrics {
	return u.machine.Metrics()
}

// Addr returns the printer dial address.
func (u *Uploader) Addr() string {
	return u.conn.Addr()
}

// Close shuts the connection down and stops report delivery. An upload in
// progress ends with a Failed report carrying a *NetworkError with Op "close",
// which is delivered before Close returns.
func (u *Uploader) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := u.conn.Shutdown()
	// the connection worker has exited, no handler call can race the abort
	u.machine.Abort(ErrShutdown)
	u.events.Close()

	return err
}
