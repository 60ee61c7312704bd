package device

import "context"

// GCodeSource produces the G-code text of a write request.
type GCodeSource interface {
	GCode(ctx context.Context) (string, error)
}

// GCodeFunc adapts a function to GCodeSource.
type GCodeFunc func(ctx context.Context) (string, error)

func (f GCodeFunc) GCode(ctx context.Context) (string, error) { return f(ctx) }

// StaticGCode is a GCodeSource returning fixed text.
type StaticGCode string

func (s StaticGCode) GCode(context.Context) (string, error) { return string(s), nil }

// ThumbnailSource produces the thumbnail bitmap of a write request.
// A nil bitmap without error means no thumbnail is available.
type ThumbnailSource interface {
	Thumbnail(ctx context.Context) ([]byte, error)
}

// ThumbnailFunc adapts a function to ThumbnailSource.
type ThumbnailFunc func(ctx context.Context) ([]byte, error)

func (f ThumbnailFunc) Thumbnail(ctx context.Context) ([]byte, error) { return f(ctx) }

// Notifier receives the write lifecycle signals that precede the transfer.
type Notifier interface {
	// WriteStarted is signaled when a write request is accepted.
	WriteStarted(d *Device)
	// WriteError is signaled when a write request fails before the upload started.
	WriteError(d *Device, err error)
}

type nopNotifier struct{}

func (nopNotifier) WriteStarted(*Device)      {}
func (nopNotifier) WriteError(*Device, error) {}
