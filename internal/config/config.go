// Package config loads the TOML configuration of the commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arloliu/go-flashforge/gx"
	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/transfer"
)

// Config is the application configuration.
type Config struct {
	LogLevel string

	Printer  PrinterConfig
	Protocol ProtocolConfig
	Encoder  EncoderConfig
	Store    StoreConfig
	Server   ServerConfig
}

type PrinterConfig struct {
	Identity string
	Name     string
	Address  string
	Port     int
}

type ProtocolConfig struct {
	ChunkSize         int
	HeaderLines       int
	FooterLines       int
	StartLines        int
	StatusLines       int
	PostTransferDelay time.Duration
	StartSettleDelay  time.Duration
	PausedBackoff     time.Duration
	MaxAttempts       int
	ConnectTimeout    time.Duration
}

type EncoderConfig struct {
	// DebugDump is the path of the normalized G-code copy; empty disables it.
	DebugDump   string
	MachineType string
}

type StoreConfig struct {
	// Path of the bbolt preferences file; empty keeps preferences in memory.
	Path string
}

type ServerConfig struct {
	Listen string
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		LogLevel: "info",
		Printer: PrinterConfig{
			Identity: "default",
			Port:     transfer.DefaultPort,
		},
		Protocol: ProtocolConfig{
			ChunkSize:         transfer.DefaultChunkSize,
			HeaderLines:       transfer.DefaultHeaderLines,
			FooterLines:       transfer.DefaultFooterLines,
			StartLines:        transfer.DefaultStartLines,
			StatusLines:       transfer.DefaultStatusLines,
			PostTransferDelay: transfer.DefaultPostTransferDelay,
			StartSettleDelay:  transfer.DefaultStartSettleDelay,
			PausedBackoff:     transfer.DefaultPausedBackoff,
			MaxAttempts:       transfer.DefaultMaxAttempts,
			ConnectTimeout:    transfer.DefaultConnectTimeout,
		},
		Encoder: EncoderConfig{
			DebugDump:   filepath.Join(os.TempDir(), gx.DebugDumpName),
			MachineType: gx.DefaultMachineType,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
	}
}

type fileConfig struct {
	LogLevel string `toml:"log_level"`

	Printer struct {
		Identity string `toml:"identity"`
		Name     string `toml:"name"`
		Address  string `toml:"address"`
		Port     int    `toml:"port"`
	} `toml:"printer"`

	Protocol struct {
		ChunkSize         int    `toml:"chunk_size"`
		HeaderLines       int    `toml:"header_lines"`
		FooterLines       int    `toml:"footer_lines"`
		StartLines        int    `toml:"start_lines"`
		StatusLines       int    `toml:"status_lines"`
		PostTransferDelay string `toml:"post_transfer_delay"`
		StartSettleDelay  string `toml:"start_settle_delay"`
		PausedBackoff     string `toml:"paused_backoff"`
		MaxAttempts       int    `toml:"max_attempts"`
		ConnectTimeout    string `toml:"connect_timeout"`
	} `toml:"protocol"`

	Encoder struct {
		DebugDump   string `toml:"debug_dump"`
		MachineType string `toml:"machine_type"`
	} `toml:"encoder"`

	Store struct {
		Path string `toml:"path"`
	} `toml:"store"`

	Server struct {
		Listen string `toml:"listen"`
	} `toml:"server"`
}

// Load reads the TOML file at path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	setString := func(key string, dst *string, val string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			*dst = strings.TrimSpace(val)
		}
	}
	setInt := func(key string, dst *int, val int) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			*dst = val
		}
	}
	setDuration := func(key string, dst *time.Duration, val string) error {
		if !meta.IsDefined(strings.Split(key, ".")...) {
			return nil
		}

		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d

		return nil
	}

	setString("log_level", &cfg.LogLevel, raw.LogLevel)

	setString("printer.identity", &cfg.Printer.Identity, raw.Printer.Identity)
	setString("printer.name", &cfg.Printer.Name, raw.Printer.Name)
	setString("printer.address", &cfg.Printer.Address, raw.Printer.Address)
	setInt("printer.port", &cfg.Printer.Port, raw.Printer.Port)

	setInt("protocol.chunk_size", &cfg.Protocol.ChunkSize, raw.Protocol.ChunkSize)
	setInt("protocol.header_lines", &cfg.Protocol.HeaderLines, raw.Protocol.HeaderLines)
	setInt("protocol.footer_lines", &cfg.Protocol.FooterLines, raw.Protocol.FooterLines)
	setInt("protocol.start_lines", &cfg.Protocol.StartLines, raw.Protocol.StartLines)
	setInt("protocol.status_lines", &cfg.Protocol.StatusLines, raw.Protocol.StatusLines)
	setInt("protocol.max_attempts", &cfg.Protocol.MaxAttempts, raw.Protocol.MaxAttempts)

	durations := []struct {
		key string
		dst *time.Duration
		val string
	}{
		{"protocol.post_transfer_delay", &cfg.Protocol.PostTransferDelay, raw.Protocol.PostTransferDelay},
		{"protocol.start_settle_delay", &cfg.Protocol.StartSettleDelay, raw.Protocol.StartSettleDelay},
		{"protocol.paused_backoff", &cfg.Protocol.PausedBackoff, raw.Protocol.PausedBackoff},
		{"protocol.connect_timeout", &cfg.Protocol.ConnectTimeout, raw.Protocol.ConnectTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.key, d.dst, d.val); err != nil {
			return Config{}, err
		}
	}

	setString("encoder.debug_dump", &cfg.Encoder.DebugDump, raw.Encoder.DebugDump)
	setString("encoder.machine_type", &cfg.Encoder.MachineType, raw.Encoder.MachineType)
	setString("store.path", &cfg.Store.Path, raw.Store.Path)
	setString("server.listen", &cfg.Server.Listen, raw.Server.Listen)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the values the option constructors don't.
func (c Config) Validate() error {
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Printer.Identity == "" {
		return fmt.Errorf("printer.identity is required")
	}
	if c.Encoder.MachineType == "" {
		return fmt.Errorf("encoder.machine_type must not be empty")
	}

	// the transfer options carry their own range checks
	if _, err := transfer.NewConfig(c.TransferOptions()...); err != nil {
		return err
	}

	return nil
}

// Level returns the parsed log level, info when invalid.
func (c Config) Level() logger.Level {
	level, ok := logger.ParseLevel(c.LogLevel)
	if !ok {
		return logger.InfoLevel
	}

	return level
}

// TransferOptions returns the printer connection options.
func (c Config) TransferOptions() []transfer.Option {
	p := c.Protocol

	return []transfer.Option{
		transfer.WithPort(c.Printer.Port),
		transfer.WithChunkSize(p.ChunkSize),
		transfer.WithHeaderLines(p.HeaderLines),
		transfer.WithFooterLines(p.FooterLines),
		transfer.WithStartLines(p.StartLines),
		transfer.WithStatusLines(p.StatusLines),
		transfer.WithPostTransferDelay(p.PostTransferDelay),
		transfer.WithStartSettleDelay(p.StartSettleDelay),
		transfer.WithPausedBackoff(p.PausedBackoff),
		transfer.WithMaxAttempts(p.MaxAttempts),
		transfer.WithConnectTimeout(p.ConnectTimeout),
	}
}

// EncoderOptions returns the container encoder options.
func (c Config) EncoderOptions(l logger.Logger) []gx.EncoderOption {
	return []gx.EncoderOption{
		gx.WithDebugDumpPath(c.Encoder.DebugDump),
		gx.WithMachineType(c.Encoder.MachineType),
		gx.WithLogger(l),
	}
}
