package device

import (
	"sync"
	"time"

	"github.com/arloliu/go-flashforge/transfer"
)

// JobStatus is the last known state of the most recent upload of a device.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	FileName  string    `json:"file_name"`
	Size      int       `json:"size"`
	Attempt   int       `json:"attempt"`
	Percent   float64   `json:"percent"`
	Done      bool      `json:"done"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is a snapshot of a device.
type Status struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Address  string     `json:"address"`
	State    string     `json:"state"`
	Attempts int        `json:"attempts"`
	Progress float64    `json:"progress"`
	LastJob  *JobStatus `json:"last_job,omitempty"`
}

// jobTracker records the reports of the latest job and forwards them.
type jobTracker struct {
	next transfer.Reporter

	mu   sync.Mutex
	last *JobStatus
}

var _ transfer.Reporter = (*jobTracker)(nil)

func (t *jobTracker) update(job *transfer.PrintJob, fn func(s *JobStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil || t.last.JobID != job.ID {
		t.last = &JobStatus{JobID: job.ID, FileName: job.FileName, Size: job.Size()}
	}
	fn(t.last)
	t.last.UpdatedAt = time.Now()
}

func (t *jobTracker) snapshot() *JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last == nil {
		return nil
	}
	s := *t.last

	return &s
}

func (t *jobTracker) AttemptStarted(job *transfer.PrintJob, attempt int) {
	t.update(job, func(s *JobStatus) {
		s.Attempt = attempt
		s.Percent = 0
	})
	t.next.AttemptStarted(job, attempt)
}

func (t *jobTracker) Progress(job *transfer.PrintJob, percent float64) {
	t.update(job, func(s *JobStatus) { s.Percent = percent })
	t.next.Progress(job, percent)
}

func (t *jobTracker) Completed(job *transfer.PrintJob) {
	t.update(job, func(s *JobStatus) {
		s.Done = true
		s.Succeeded = true
	})
	t.next.Completed(job)
}

func (t *jobTracker) Failed(job *transfer.PrintJob, err error) {
	t.update(job, func(s *JobStatus) {
		s.Done = true
		if err != nil {
			s.Error = err.Error()
		}
	})
	t.next.Failed(job, err)
}
