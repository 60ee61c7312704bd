package transfer

import (
	"fmt"
	"strings"
)

// Fixed protocol commands.
const (
	FooterCommand = "~M29\r\n"
	StatusCommand = "~M119\r\n"

	// StatusBuilding in the status line means the print has started.
	StatusBuilding = "BUILDING_FROM_SD"
	// StatusPaused in the status line means the printer is paused or busy.
	StatusPaused = "PAUSED"

	remoteDir = "0:/user/"
)

// PrintJob is the unit of work of one write request. It is immutable once handed to RequestWrite.
type PrintJob struct {
	// ID identifies the job for reporting.
	ID string
	// FileName is the printer side file name, without directory.
	FileName string
	// Payload holds the bytes written to the printer.
	Payload []byte
}

// NewPrintJob creates a job, rejecting file names the printer command line can't carry.
func NewPrintJob(id string, fileName string, payload []byte) (*PrintJob, error) {
	if err := ValidateFileName(fileName); err != nil {
		return nil, err
	}

	return &PrintJob{ID: id, FileName: fileName, Payload: payload}, nil
}

// ValidateFileName checks that name is a bare, printable ASCII file name.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFileName)
	}

	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFileName, name)
	}

	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 0x20 || c > 0x7E {
			return fmt.Errorf("%w: %q contains byte 0x%02x", ErrInvalidFileName, name, c)
		}
	}

	return nil
}

// Size returns the payload length in bytes.
func (j *PrintJob) Size() int {
	return len(j.Payload)
}

// HeaderCommand returns the ~M28 command that opens the remote file.
func (j *PrintJob) HeaderCommand() string {
	return fmt.Sprintf("~M28 %d %s%s\r\n", j.Size(), remoteDir, j.FileName)
}

// StartCommand returns the ~M23 command that starts printing the remote file.
func (j *PrintJob) StartCommand() string {
	return fmt.Sprintf("~M23 %s%s\r\n", remoteDir, j.FileName)
}
