// Package discovery sends the one-shot multicast probe that Flashforge
// printers answer on the local network.
//
// The probe is stateless and independent of the transfer package: it only
// tells whether some printer replied, and from which address.
package discovery

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/arloliu/go-flashforge/logger"
)

const (
	// DefaultTarget is the multicast group and port printers listen on.
	DefaultTarget = "225.0.0.9:19000"
	// DefaultTimeout bounds the wait for a reply when ctx has no deadline.
	DefaultTimeout = 3 * time.Second
	// MaxReplySize is the largest reply read.
	MaxReplySize = 256
)

// DefaultPayload is the fixed 8-byte probe datagram.
var DefaultPayload = mustHex("c0a8010546510000")

// ErrNoReply is returned when no reply arrived before the deadline.
var ErrNoReply = errors.New("discovery: no reply")

// Reply is the first datagram received after the probe.
type Reply struct {
	From *net.UDPAddr
	Data []byte
}

// Host returns the IP address of the replying printer.
func (r Reply) Host() string {
	if r.From == nil {
		return ""
	}

	return r.From.IP.String()
}

type probeConfig struct {
	target  string
	payload []byte
	timeout time.Duration
	logger  logger.Logger
}

// Option configures Probe.
type Option func(*probeConfig)

// WithTarget sets the "host:port" the probe is sent to.
func WithTarget(addr string) Option {
	return func(c *probeConfig) {
		c.target = addr
	}
}

// WithPayload replaces the probe datagram.
func WithPayload(p []byte) Option {
	return func(c *probeConfig) {
		c.payload = p
	}
}

// WithTimeout sets the reply wait used when ctx has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *probeConfig) {
		c.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *probeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Probe sends the probe datagram and waits for one reply.
func Probe(ctx context.Context, opts ...Option) (*Reply, error) {
	cfg := probeConfig{
		target:  DefaultTarget,
		payload: DefaultPayload,
		timeout: DefaultTimeout,
		logger:  logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dst, err := net.ResolveUDPAddr("udp4", cfg.target)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve %s: %w", cfg.target, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("discovery: listen: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(cfg.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	// unblock the read when ctx is canceled before the deadline
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.WriteToUDP(cfg.payload, dst); err != nil {
		return nil, fmt.Errorf("discovery: send: %w", err)
	}
	cfg.logger.Debug("probe sent", "target", dst.String(), "payload", hex.EncodeToString(cfg.payload))

	buf := make([]byte, MaxReplySize)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrNoReply
		}

		return nil, fmt.Errorf("discovery: receive: %w", err)
	}

	cfg.logger.Info("probe reply", "from", from.String(), "size", n)

	return &Reply{From: from, Data: buf[:n]}, nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}

	return b
}
