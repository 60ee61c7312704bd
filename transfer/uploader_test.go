package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-flashforge/internal/printertest"
)

func newTestUploader(t *testing.T, port int, rep Reporter, opts ...Option) *Uploader {
	t.Helper()

	up, err := NewUploader(context.Background(), "127.0.0.1", rep, fastOpts(append([]Option{WithPort(port)}, opts...)...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = up.Close() })

	return up
}

func TestUploader_Completed(t *testing.T) {
	require := require.New(t)

	printer := printertest.New(t, "BUILDING_FROM_SD")
	rep := newRecordingReporter()
	up := newTestUploader(t, printer.Port(), rep, WithChunkSize(100))

	job := mustJob(t, "cube.gx", testPayload(1000))
	require.NoError(up.Upload(job))

	ev := rep.waitTerminal(t, 5*time.Second)
	require.Equal(EventCompleted, ev.Kind, "err: %v", ev.Err)
	require.Same(job, ev.Job)

	require.Equal([][]byte{job.Payload}, printer.Payloads())
	require.Equal([]string{
		"~M28 1000 0:/user/cube.gx",
		"~M29",
		"~M23 0:/user/cube.gx",
		"~M119",
	}, printer.Commands())

	percents := rep.percents()
	require.NotEmpty(percents)
	assert.IsNonDecreasing(t, percents)
	require.InDelta(100, percents[len(percents)-1], 1e-9)
	for _, p := range percents {
		require.LessOrEqual(p, 100.0)
	}

	require.Eventually(func() bool { return up.State() == Ready }, time.Second, 5*time.Millisecond)
	require.Equal(1, up.Attempts())
	require.Equal(uint64(1000), up.Metrics().BytesSent.Load())
}

func TestUploader_PausedThenBuilding(t *testing.T) {
	printer := printertest.New(t, "PAUSED", "PAUSED", "BUILDING_FROM_SD")
	rep := newRecordingReporter()
	up := newTestUploader(t, printer.Port(), rep)

	require.NoError(t, up.Upload(mustJob(t, "cube.gx", testPayload(64))))

	ev := rep.waitTerminal(t, 5*time.Second)
	require.Equal(t, EventCompleted, ev.Kind, "err: %v", ev.Err)
	require.Equal(t, 1, up.Attempts())
	require.Equal(t, uint64(2), up.Metrics().PausedCount.Load())
}

func TestUploader_Restart(t *testing.T) {
	require := require.New(t)

	printer := printertest.New(t, "READY", "BUILDING_FROM_SD")
	rep := newRecordingReporter()
	up := newTestUploader(t, printer.Port(), rep)

	job := mustJob(t, "cube.gx", testPayload(64))
	require.NoError(up.Upload(job))

	ev := rep.waitTerminal(t, 5*time.Second)
	require.Equal(EventCompleted, ev.Kind, "err: %v", ev.Err)

	attempts := rep.ofKind(EventAttempt)
	require.Len(attempts, 2)
	require.Equal(1, attempts[0].Attempt)
	require.Equal(2, attempts[1].Attempt)
	require.Equal([][]byte{job.Payload, job.Payload}, printer.Payloads())
}

func TestUploader_AttemptsExhausted(t *testing.T) {
	printer := printertest.New(t, "READY")
	rep := newRecordingReporter()
	up := newTestUploader(t, printer.Port(), rep, WithMaxAttempts(3))

	require.NoError(t, up.Upload(mustJob(t, "cube.gx", testPayload(16))))

	ev := rep.waitTerminal(t, 5*time.Second)
	require.Equal(t, EventFailed, ev.Kind)
	require.ErrorIs(t, ev.Err, ErrAttemptsExhausted)
	require.Len(t, rep.ofKind(EventAttempt), 3)
}

func TestUploader_Busy(t *testing.T) {
	printer := printertest.New(t, "PAUSED", "BUILDING_FROM_SD")
	rep := newRecordingReporter()
	up := newTestUploader(t, printer.Port(), rep, WithPausedBackoff(200*time.Millisecond))

	require.NoError(t, up.Upload(mustJob(t, "cube.gx", testPayload(16))))
	require.ErrorIs(t, up.Upload(mustJob(t, "other.gx", testPayload(16))), ErrBusy)

	ev := rep.waitTerminal(t, 5*time.Second)
	require.Equal(t, EventCompleted, ev.Kind, "err: %v", ev.Err)
	require.Equal(t, "cube.gx", ev.Job.FileName)

	// a finished upload frees the machine
	require.Eventually(t, func() bool { return up.State() == Ready }, time.Second, 5*time.Millisecond)
	require.NoError(t, up.Upload(mustJob(t, "other.gx", testPayload(16))))
	ev = rep.waitTerminal(t, 5*time.Second)
	require.Equal(t, EventCompleted, ev.Kind, "err: %v", ev.Err)
}

func TestUploader_ConnectionDropped(t *testing.T) {
	require := require.New(t)

	printer := printertest.New(t)
	printer.DropAfterHeader()
	rep := newRecordingReporter()
	up := newTestUploader(t, printer.Port(), rep)

	require.NoError(up.Upload(mustJob(t, "cube.gx", testPayload(16))))

	ev := rep.waitTerminal(t, 5*time.Second)
	require.Equal(EventFailed, ev.Kind)

	var ne *NetworkError
	require.True(errors.As(ev.Err, &ne))
	require.Equal("read", ne.Op)

	// exactly one notification per failure
	time.Sleep(50 * time.Millisecond)
	require.Len(rep.ofKind(EventFailed), 1)
	require.Equal(Ready, up.State())
}

func TestUploader_DialFailure(t *testing.T) {
	rep := newRecordingReporter()
	up := newTestUploader(t, closedPort(t), rep)

	require.NoError(t, up.Upload(mustJob(t, "cube.gx", testPayload(16))))

	ev := rep.waitTerminal(t, 5*time.Second)
	require.Equal(t, EventFailed, ev.Kind)

	var ne *NetworkError
	require.True(t, errors.As(ev.Err, &ne))
	require.Equal(t, "dial", ne.Op)
	require.Empty(t, rep.ofKind(EventAttempt))
}

func TestUploader_InvalidOptions(t *testing.T) {
	_, err := NewUploader(context.Background(), "127.0.0.1", nil, WithChunkSize(4096))
	require.Error(t, err)

	_, err = NewUploader(context.Background(), "", nil)
	require.Error(t, err)
}

func TestUploader_SequentialUploads(t *testing.T) {
	require := require.New(t)

	printer := printertest.New(t, "BUILDING_FROM_SD")
	rep := newRecordingReporter()
	up := newTestUploader(t, printer.Port(), rep)

	names := []string{"first.gx", "second.gx", "third.gx"}
	for _, name := range names {
		require.NoError(up.Upload(mustJob(t, name, testPayload(32))))

		ev := rep.waitTerminal(t, 5*time.Second)
		require.Equal(EventCompleted, ev.Kind, "%s err: %v", name, ev.Err)
		require.Equal(name, ev.Job.FileName)

		require.Eventually(func() bool { return up.State() == Ready }, time.Second, 5*time.Millisecond)
	}

	require.Equal(len(names), printer.Conns())
	require.Len(printer.Payloads(), len(names))
	require.Equal(uint64(len(names)), up.Metrics().CompletedCount.Load())
}

// uploadOnComplete starts next from the first Completed report.
type uploadOnComplete struct {
	*recordingReporter
	next func() error
	errs chan error
}

func (r *uploadOnComplete) Completed(job *PrintJob) {
	r.recordingReporter.Completed(job)

	if next := r.next; next != nil {
		r.next = nil
		r.errs <- next()
	}
}

func TestUploader_UploadFromCompletedReport(t *testing.T) {
	require := require.New(t)

	printer := printertest.New(t, "BUILDING_FROM_SD")
	rep := &uploadOnComplete{recordingReporter: newRecordingReporter(), errs: make(chan error, 1)}
	up := newTestUploader(t, printer.Port(), rep)

	second := mustJob(t, "second.gx", testPayload(32))
	rep.next = func() error { return up.Upload(second) }

	require.NoError(up.Upload(mustJob(t, "first.gx", testPayload(32))))

	ev := rep.waitTerminal(t, 5*time.Second)
	require.Equal(EventCompleted, ev.Kind, "err: %v", ev.Err)
	require.Equal("first.gx", ev.Job.FileName)

	select {
	case err := <-rep.errs:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("second upload not started")
	}

	ev = rep.waitTerminal(t, 5*time.Second)
	require.Equal(EventCompleted, ev.Kind, "err: %v", ev.Err)
	require.Same(second, ev.Job)
	require.Equal(2, printer.Conns())
}

func TestUploader_CloseMidUpload(t *testing.T) {
	require := require.New(t)

	printer := printertest.New(t)
	printer.Silent()
	rep := newRecordingReporter()
	up := newTestUploader(t, printer.Port(), rep)

	job := mustJob(t, "cube.gx", testPayload(16))
	require.NoError(up.Upload(job))
	require.Eventually(func() bool { return len(printer.Commands()) > 0 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(SendHeader, up.State())

	require.NoError(up.Close())

	// the report is delivered before Close returns
	failed := rep.ofKind(EventFailed)
	require.Len(failed, 1)
	require.Same(job, failed[0].Job)
	require.ErrorIs(failed[0].Err, ErrShutdown)

	var ne *NetworkError
	require.True(errors.As(failed[0].Err, &ne))
	require.Equal("close", ne.Op)
	require.Equal(Ready, up.State())

	err := up.Upload(job)
	require.True(IsNetworkError(err))
	require.ErrorIs(err, ErrShutdown)

	require.NoError(up.Close())
	require.Len(rep.ofKind(EventFailed), 1)
	require.Empty(rep.ofKind(EventCompleted))
}

func TestUploader_CloseWhileDialing(t *testing.T) {
	for i := 0; i < 20; i++ {
		printer := printertest.New(t)
		printer.Silent()
		rep := newRecordingReporter()
		up := newTestUploader(t, printer.Port(), rep)

		require.NoError(t, up.Upload(mustJob(t, "cube.gx", testPayload(16))))
		require.NoError(t, up.Close())

		failed := rep.ofKind(EventFailed)
		require.Len(t, failed, 1, "run %d", i)
		require.True(t, IsNetworkError(failed[0].Err), "run %d: %v", i, failed[0].Err)
		require.Empty(t, rep.ofKind(EventCompleted))
		require.Equal(t, Ready, up.State())
	}
}
