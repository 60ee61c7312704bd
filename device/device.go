package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arloliu/go-flashforge/gx"
	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/transfer"
)

// ErrNoGCode is returned when a write request carries no G-code source.
var ErrNoGCode = errors.New("device: no G-code source")

// WriteRequest describes one print job to upload.
type WriteRequest struct {
	// FileName is the requested file name. It may be empty or a path.
	FileName string
	// Info is the job description of the host application.
	Info gx.JobInfo
	// GCode produces the G-code text.
	GCode GCodeSource
	// Thumbnail produces the thumbnail bitmap. It may be nil.
	Thumbnail ThumbnailSource
}

// Device uploads print jobs to one printer.
type Device struct {
	id       string
	name     string
	address  string
	encoder  *gx.Encoder
	uploader *transfer.Uploader
	tracker  *jobTracker
	notifier Notifier
	logger   logger.Logger
}

// New creates the device of printer id reachable at address.
func New(ctx context.Context, id string, address string, opts ...Option) (*Device, error) {
	if id == "" {
		return nil, errors.New("device: identity must not be empty")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.name == "" {
		o.name = id
	}

	l := o.logger.With("device", id)
	if o.encoder == nil {
		o.encoder = gx.NewEncoder(gx.WithLogger(l))
	}

	tracker := &jobTracker{next: o.reporter}

	transferOpts := append([]transfer.Option{transfer.WithLogger(l)}, o.transferOpts...)
	uploader, err := transfer.NewUploader(ctx, address, tracker, transferOpts...)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	d := &Device{
		id:       id,
		name:     o.name,
		address:  address,
		encoder:  o.encoder,
		uploader: uploader,
		tracker:  tracker,
		notifier: o.notifier,
		logger:   l,
	}

	l.Debug("device created", "address", address, "dial", uploader.Addr())

	return d, nil
}

// ID returns the printer identity.
func (d *Device) ID() string {
	return d.id
}

// Name returns the printer display name.
func (d *Device) Name() string {
	return d.name
}

// Address returns the printer address.
func (d *Device) Address() string {
	return d.address
}

// State returns the protocol state of the upload.
func (d *Device) State() transfer.State {
	return d.uploader.State()
}

// Metrics returns the counters of the device state machine.
func (d *Device) Metrics() *transfer.Metrics {
	return d.uploader.Metrics()
}

// Status returns a snapshot of the device.
func (d *Device) Status() Status {
	return Status{
		ID:       d.id,
		Name:     d.name,
		Address:  d.address,
		State:    d.uploader.State().String(),
		Attempts: d.uploader.Attempts(),
		Progress: d.uploader.Progress(),
		LastJob:  d.tracker.snapshot(),
	}
}

// RequestWrite encodes the job of req and starts uploading it.
//
// It returns transfer.ErrBusy without side effects while an upload is in
// progress. Progress and outcome of the upload are delivered to the reporter.
func (d *Device) RequestWrite(ctx context.Context, req WriteRequest) (*transfer.PrintJob, error) {
	if !d.uploader.State().IsReady() {
		return nil, transfer.ErrBusy
	}

	if req.GCode == nil {
		return nil, ErrNoGCode
	}

	d.notifier.WriteStarted(d)

	text, err := req.GCode.GCode(ctx)
	if err != nil {
		err = fmt.Errorf("device: produce G-code: %w", err)
		d.logger.Error("G-code producer failed", "error", err)
		d.notifier.WriteError(d, err)

		return nil, err
	}

	var thumb []byte
	if req.Thumbnail != nil {
		thumb, err = req.Thumbnail.Thumbnail(ctx)
		if err != nil {
			d.logger.Warn("thumbnail unavailable", "error", err)
			thumb = nil
		}
	}

	res := d.encoder.Build(text, req.Info, thumb)
	payload, kind := res.Payload()

	job, err := transfer.NewPrintJob(uuid.New().String(), FileName(req.FileName, req.Info.Name, kind), payload)
	if err != nil {
		d.notifier.WriteError(d, err)
		return nil, err
	}

	d.logger.Info("upload requested", "job", job.ID, "file", job.FileName, "size", job.Size(), "kind", string(kind))

	if err := d.uploader.Upload(job); err != nil {
		if !errors.Is(err, transfer.ErrBusy) {
			d.notifier.WriteError(d, err)
		}

		return nil, err
	}

	return job, nil
}

// Close shuts the printer connection down.
func (d *Device) Close() error {
	return d.uploader.Close()
}
