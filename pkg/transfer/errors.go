package transfer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled is the outcome of a transfer stopped by its caller
	ErrCancelled = errors.New("transfer cancelled")

	// ErrHelperMissing means password auth was requested but sshpass is not installed
	ErrHelperMissing = errors.New("password authentication needs sshpass, install sshpass or use a key file")

	// ErrNoTool means neither rsync nor scp is installed
	ErrNoTool = errors.New("no transfer tool found, install rsync or scp")
)

// TransferError is a failed transfer subprocess
type TransferError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TransferError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	switch {
	case e.ExitCode > 0 && msg != "":
		return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, msg)
	case e.ExitCode > 0:
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("%s failed", e.Tool)
	}
}

func (e *TransferError) Unwrap() error { return e.Err }
