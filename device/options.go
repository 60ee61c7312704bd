package device

import (
	"github.com/arloliu/go-flashforge/gx"
	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/transfer"
)

type options struct {
	name         string
	encoder      *gx.Encoder
	transferOpts []transfer.Option
	reporter     transfer.Reporter
	notifier     Notifier
	logger       logger.Logger
}

func defaultOptions() options {
	return options{
		reporter: transfer.NopReporter{},
		notifier: nopNotifier{},
		logger:   logger.GetLogger(),
	}
}

// Option configures a Device.
type Option func(*options)

// WithName sets the display name of the printer. It defaults to the identity.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithEncoder sets the container encoder.
func WithEncoder(enc *gx.Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// WithTransferOptions sets the options of the printer connection and state machine.
func WithTransferOptions(opts ...transfer.Option) Option {
	return func(o *options) {
		o.transferOpts = append(o.transferOpts, opts...)
	}
}

// WithReporter sets the receiver of upload progress and outcome.
func WithReporter(r transfer.Reporter) Option {
	return func(o *options) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithNotifier sets the receiver of write started and write error signals.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
