package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-flashforge/logger"
)

// Protocol defaults observed on Adventurer series firmware.
const (
	DefaultPort = 8899

	// DefaultChunkSize is the largest payload slice handed to a single socket write.
	DefaultChunkSize = 1460

	DefaultHeaderLines = 3 // ~M28 acknowledgement
	DefaultFooterLines = 3 // ~M29 acknowledgement
	DefaultStartLines  = 4 // ~M23 acknowledgement
	DefaultStatusLines = 8 // ~M119 report

	DefaultPostTransferDelay = 750 * time.Millisecond
	DefaultStartSettleDelay  = 1000 * time.Millisecond
	DefaultPausedBackoff     = 5000 * time.Millisecond

	DefaultMaxAttempts = 10

	DefaultConnectTimeout = 3 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultCloseTimeout   = 3 * time.Second
)

// Option limits.
const (
	MinChunkSize = 1
	MaxChunkSize = 1460

	MinResponseLines = 1
	MaxResponseLines = 64

	MaxAttemptsLimit = 100

	// StatusLineIndex is the zero-based index of the status line carrying the machine state.
	StatusLineIndex = 2
)

// Config holds the protocol and connection configuration shared by Machine and Conn.
type Config struct {
	port      int
	chunkSize int

	headerLines int
	footerLines int
	startLines  int
	statusLines int

	postTransferDelay time.Duration
	startSettleDelay  time.Duration
	pausedBackoff     time.Duration

	maxAttempts int

	connectTimeout time.Duration
	writeTimeout   time.Duration
	closeTimeout   time.Duration

	logger logger.Logger
}

// NewConfig creates a configuration with the protocol defaults and applies opts in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		port:              DefaultPort,
		chunkSize:         DefaultChunkSize,
		headerLines:       DefaultHeaderLines,
		footerLines:       DefaultFooterLines,
		startLines:        DefaultStartLines,
		statusLines:       DefaultStatusLines,
		postTransferDelay: DefaultPostTransferDelay,
		startSettleDelay:  DefaultStartSettleDelay,
		pausedBackoff:     DefaultPausedBackoff,
		maxAttempts:       DefaultMaxAttempts,
		connectTimeout:    DefaultConnectTimeout,
		writeTimeout:      DefaultWriteTimeout,
		closeTimeout:      DefaultCloseTimeout,
		logger:            logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Port returns the printer TCP port.
func (cfg *Config) Port() int { return cfg.port }

// ChunkSize returns the maximum number of payload bytes per socket write.
func (cfg *Config) ChunkSize() int { return cfg.chunkSize }

// HeaderLines returns the number of response lines acknowledging ~M28.
func (cfg *Config) HeaderLines() int { return cfg.headerLines }

// FooterLines returns the number of response lines acknowledging ~M29.
func (cfg *Config) FooterLines() int { return cfg.footerLines }

// StartLines returns the number of response lines acknowledging ~M23.
func (cfg *Config) StartLines() int { return cfg.startLines }

// StatusLines returns the number of lines of a complete ~M119 report.
func (cfg *Config) StatusLines() int { return cfg.statusLines }

// PostTransferDelay returns the pause after the last payload byte is acknowledged.
func (cfg *Config) PostTransferDelay() time.Duration { return cfg.postTransferDelay }

// StartSettleDelay returns the pause between the start acknowledgement and the first status query.
func (cfg *Config) StartSettleDelay() time.Duration { return cfg.startSettleDelay }

// PausedBackoff returns the pause before re-querying a paused printer.
func (cfg *Config) PausedBackoff() time.Duration { return cfg.pausedBackoff }

// MaxAttempts returns the attempt budget of one write request.
func (cfg *Config) MaxAttempts() int { return cfg.maxAttempts }

// ConnectTimeout returns the TCP dial timeout.
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// WriteTimeout returns the deadline of a single socket write.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// CloseTimeout returns how long Close waits for the I/O goroutines to exit.
func (cfg *Config) CloseTimeout() time.Duration { return cfg.closeTimeout }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithConfig copies every setting of an existing configuration.
func WithConfig(src *Config) Option {
	return optFunc(func(cfg *Config) error {
		if src == nil {
			return errors.New("transfer: config must not be nil")
		}
		*cfg = *src

		return nil
	})
}

// WithPort sets the printer TCP port.
func WithPort(port int) Option {
	return optFunc(func(cfg *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("transfer: port %d out of range [1, 65535]", port)
		}
		cfg.port = port

		return nil
	})
}

// WithChunkSize sets the maximum number of payload bytes per socket write.
func WithChunkSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinChunkSize || n > MaxChunkSize {
			return fmt.Errorf("transfer: chunk size %d out of range [%d, %d]", n, MinChunkSize, MaxChunkSize)
		}
		cfg.chunkSize = n

		return nil
	})
}

func withLines(name string, dst func(*Config) *int, n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinResponseLines || n > MaxResponseLines {
			return fmt.Errorf("transfer: %s lines %d out of range [%d, %d]", name, n, MinResponseLines, MaxResponseLines)
		}
		*dst(cfg) = n

		return nil
	})
}

// WithHeaderLines sets the number of response lines acknowledging ~M28.
func WithHeaderLines(n int) Option {
	return withLines("header", func(cfg *Config) *int { return &cfg.headerLines }, n)
}

// WithFooterLines sets the number of response lines acknowledging ~M29.
func WithFooterLines(n int) Option {
	return withLines("footer", func(cfg *Config) *int { return &cfg.footerLines }, n)
}

// WithStartLines sets the number of response lines acknowledging ~M23.
func WithStartLines(n int) Option {
	return withLines("start", func(cfg *Config) *int { return &cfg.startLines }, n)
}

// WithStatusLines sets the number of lines of a complete ~M119 report.
// It can't be lower than 3, the status line is the third one.
func WithStatusLines(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n <= StatusLineIndex {
			return fmt.Errorf("transfer: status lines %d must be greater than %d", n, StatusLineIndex)
		}

		return withLines("status", func(cfg *Config) *int { return &cfg.statusLines }, n).apply(cfg)
	})
}

func withDelay(name string, dst func(*Config) *time.Duration, d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("transfer: %s %v must not be negative", name, d)
		}
		*dst(cfg) = d

		return nil
	})
}

// WithPostTransferDelay sets the pause after the last payload byte is acknowledged.
func WithPostTransferDelay(d time.Duration) Option {
	return withDelay("post-transfer delay", func(cfg *Config) *time.Duration { return &cfg.postTransferDelay }, d)
}

// WithStartSettleDelay sets the pause before the first status query.
func WithStartSettleDelay(d time.Duration) Option {
	return withDelay("start settle delay", func(cfg *Config) *time.Duration { return &cfg.startSettleDelay }, d)
}

// WithPausedBackoff sets the pause before re-querying a paused printer.
func WithPausedBackoff(d time.Duration) Option {
	return withDelay("paused backoff", func(cfg *Config) *time.Duration { return &cfg.pausedBackoff }, d)
}

// WithMaxAttempts sets the attempt budget of one write request.
func WithMaxAttempts(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxAttemptsLimit {
			return fmt.Errorf("transfer: max attempts %d out of range [1, %d]", n, MaxAttemptsLimit)
		}
		cfg.maxAttempts = n

		return nil
	})
}

// WithConnectTimeout sets the TCP dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the deadline of a single socket write.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: write timeout must be positive")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for the I/O goroutines to exit.
func WithCloseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("transfer: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("transfer: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
