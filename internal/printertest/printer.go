// Package printertest provides a loopback printer speaking the printer side
// of the upload protocol, for tests.
package printertest

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Canned printer responses.
var (
	HeaderAck = []string{"CMD M28 Received.", "Writing to file: 0:/user/cube.gx", "ok"}
	FooterAck = []string{"CMD M29 Received.", "Done saving file.", "ok"}
	StartAck  = []string{"CMD M23 Received.", "File opened: cube.gx Size: 10", "File selected", "ok"}
)

// StatusReport returns an ~M119 response carrying status on its third line.
func StatusReport(status string) []string {
	return []string{
		"CMD M119 Received.",
		"Endstop: X-max: 0 Y-max: 0 Z-min: 0",
		"MachineStatus: " + status,
		"MoveMode: READY",
		"Status: S:1 L:0 J:0 F:0 W:0",
		"LED: 1",
		"CurrentFile: cube.gx",
		"ok",
	}
}

// JoinLines terminates every line with CRLF.
func JoinLines(lines []string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

// Printer is a fake printer on a loopback listener.
type Printer struct {
	ln net.Listener

	mu              sync.Mutex
	statuses        []string // one per ~M119, the last one repeats
	commands        []string
	payloads        [][]byte
	conns           int
	dropAfterHeader bool
	silent          bool
}

// New starts a printer answering the status queries with statuses in order.
// Without statuses every query reports READY. The listener is closed by t.Cleanup.
func New(t testing.TB, statuses ...string) *Printer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := &Printer{ln: ln, statuses: statuses}
	t.Cleanup(func() { _ = ln.Close() })

	go p.serve()

	return p
}

// Host returns the listener IP address.
func (p *Printer) Host() string {
	return p.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listener port.
func (p *Printer) Port() int {
	return p.ln.Addr().(*net.TCPAddr).Port
}

// DropAfterHeader makes the printer close connections on ~M28.
func (p *Printer) DropAfterHeader() {
	p.mu.Lock()
	p.dropAfterHeader = true
	p.mu.Unlock()
}

// Silent makes the printer record commands without ever replying.
func (p *Printer) Silent() {
	p.mu.Lock()
	p.silent = true
	p.mu.Unlock()
}

// Payloads returns the payloads received, one per ~M28.
func (p *Printer) Payloads() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([][]byte(nil), p.payloads...)
}

// Commands returns the command lines received, without CRLF.
func (p *Printer) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.commands...)
}

// Conns returns the number of accepted connections.
func (p *Printer) Conns() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conns
}

func (p *Printer) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}

		p.mu.Lock()
		p.conns++
		p.mu.Unlock()

		go p.handle(conn)
	}
}

func (p *Printer) nextStatus() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.statuses) == 0 {
		return "READY"
	}

	status := p.statuses[0]
	if len(p.statuses) > 1 {
		p.statuses = p.statuses[1:]
	}

	return status
}

func (p *Printer) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		p.mu.Lock()
		p.commands = append(p.commands, line)
		drop, silent := p.dropAfterHeader, p.silent
		p.mu.Unlock()

		if silent {
			continue
		}

		var reply []string
		switch {
		case strings.HasPrefix(line, "~M28 "):
			if drop {
				return
			}

			fields := strings.Fields(line)
			size, err := strconv.Atoi(fields[1])
			if err != nil {
				return
			}

			if _, err := conn.Write(JoinLines(HeaderAck)); err != nil {
				return
			}

			payload := make([]byte, size)
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}

			p.mu.Lock()
			p.payloads = append(p.payloads, payload)
			p.mu.Unlock()

			continue

		case line == "~M29":
			reply = FooterAck
		case strings.HasPrefix(line, "~M23 "):
			reply = StartAck
		case line == "~M119":
			reply = StatusReport(p.nextStatus())
		default:
			reply = []string{"CMD unknown", "ok"}
		}

		if _, err := conn.Write(JoinLines(reply)); err != nil {
			return
		}
	}
}
