package transfer

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// handlerRecorder is a Handler that records its calls.
type handlerRecorder struct {
	mu        sync.Mutex
	connected int
	responses []byte
	acks      []int
	errs      []error
	onConnect func()
}

func (h *handlerRecorder) OnConnected() {
	h.mu.Lock()
	h.connected++
	fn := h.onConnect
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (h *handlerRecorder) OnResponse(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, data...)
}

func (h *handlerRecorder) OnWriteAck(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks = append(h.acks, n)
}

func (h *handlerRecorder) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *handlerRecorder) snapshot() (int, string, []int, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.connected, string(h.responses), append([]int(nil), h.acks...), append([]error(nil), h.errs...)
}

// echoServer accepts one connection and hands it to the test.
func echoServer(t *testing.T) (port int, accepted <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { _ = conn.Close() })
		ch <- conn
	}()

	return ln.Addr().(*net.TCPAddr).Port, ch
}

func newTestConn(t *testing.T, port int, opts ...Option) *Conn {
	t.Helper()

	c, err := NewConn(context.Background(), "127.0.0.1", fastOpts(append([]Option{WithPort(port)}, opts...)...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })

	return c
}

func acceptOrFail(t *testing.T, accepted <-chan net.Conn) net.Conn {
	t.Helper()

	select {
	case conn := <-accepted:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func TestConn_SendBeforeConnect(t *testing.T) {
	port, _ := echoServer(t)
	c := newTestConn(t, port)

	require.ErrorIs(t, c.SendMessage("~M119\r\n"), ErrConnClosed)
	require.ErrorIs(t, c.SendData([]byte{1}), ErrConnClosed)
	require.False(t, c.IsOpen())
	require.NoError(t, c.Close())
}

func TestConn_MessagesAndResponses(t *testing.T) {
	require := require.New(t)

	port, accepted := echoServer(t)
	c := newTestConn(t, port)
	h := &handlerRecorder{}
	c.Bind(h)

	require.NoError(c.Connect())
	server := acceptOrFail(t, accepted)

	require.Eventually(func() bool { n, _, _, _ := h.snapshot(); return n == 1 }, 2*time.Second, 5*time.Millisecond)
	require.True(c.IsOpen())

	require.NoError(c.SendMessage("~M119\r\n"))
	line, err := bufio.NewReader(server).ReadString('\n')
	require.NoError(err)
	require.Equal("~M119\r\n", line)

	_, err = server.Write([]byte("CMD M119 Received.\r\nok\r\n"))
	require.NoError(err)

	require.Eventually(func() bool {
		_, resp, _, _ := h.snapshot()
		return resp == "CMD M119 Received.\r\nok\r\n"
	}, 2*time.Second, 5*time.Millisecond)

	_, _, acks, errs := h.snapshot()
	require.Empty(acks, "commands are not acknowledged")
	require.Empty(errs)
}

func TestConn_ChunkedData(t *testing.T) {
	require := require.New(t)

	port, accepted := echoServer(t)
	c := newTestConn(t, port, WithChunkSize(100))
	h := &handlerRecorder{}
	c.Bind(h)

	require.NoError(c.Connect())
	server := acceptOrFail(t, accepted)
	require.Eventually(func() bool { n, _, _, _ := h.snapshot(); return n == 1 }, 2*time.Second, 5*time.Millisecond)

	payload := testPayload(1050)
	require.NoError(c.SendData(payload))

	got := make([]byte, len(payload))
	require.NoError(server.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, err := io.ReadFull(server, got)
	require.NoError(err)
	require.Equal(payload, got)

	require.Eventually(func() bool {
		_, _, acks, _ := h.snapshot()
		return len(acks) == 11
	}, 2*time.Second, 5*time.Millisecond)

	_, _, acks, _ := h.snapshot()
	total := 0
	for _, n := range acks {
		require.LessOrEqual(n, 100)
		total += n
	}
	require.Equal(len(payload), total)
}

func TestConn_RemoteCloseReportsOnce(t *testing.T) {
	port, accepted := echoServer(t)
	c := newTestConn(t, port)
	h := &handlerRecorder{}
	c.Bind(h)

	require.NoError(t, c.Connect())
	server := acceptOrFail(t, accepted)
	require.Eventually(t, func() bool { n, _, _, _ := h.snapshot(); return n == 1 }, 2*time.Second, 5*time.Millisecond)

	_ = server.Close()

	require.Eventually(t, func() bool { _, _, _, errs := h.snapshot(); return len(errs) == 1 }, 2*time.Second, 5*time.Millisecond)
	_, _, _, errs := h.snapshot()
	require.True(t, IsNetworkError(errs[0]))

	time.Sleep(50 * time.Millisecond)
	_, _, _, errs = h.snapshot()
	require.Len(t, errs, 1)
}

func TestConn_CloseSuppressesErrors(t *testing.T) {
	port, accepted := echoServer(t)
	c := newTestConn(t, port)

	h := &handlerRecorder{}
	// close from inside the handler, as the state machine does
	h.onConnect = func() { _ = c.Close() }
	c.Bind(h)

	require.NoError(t, c.Connect())
	acceptOrFail(t, accepted)

	require.Eventually(t, func() bool { n, _, _, _ := h.snapshot(); return n == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !c.IsOpen() }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	_, _, _, errs := h.snapshot()
	require.Empty(t, errs)
	require.ErrorIs(t, c.SendMessage("~M29\r\n"), ErrConnClosed)
}

func TestConn_Shutdown(t *testing.T) {
	port, _ := echoServer(t)
	c := newTestConn(t, port)

	require.NoError(t, c.Shutdown())
	require.ErrorIs(t, c.Connect(), ErrShutdown)
	require.NoError(t, c.Shutdown())
}
