package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job id has no record in the job table
	ErrJobNotFound = errors.New("job not found")

	// ErrEmptyInput is returned when the downloaded source blob is zero bytes
	ErrEmptyInput = errors.New("downloaded input file is empty")

	// ErrNoOutput is returned when the conversion tool exits cleanly but
	// produces no output artifacts
	ErrNoOutput = errors.New("conversion produced no output files")

	// ErrMalformedMessage is returned when a queue message body cannot be
	// parsed into a job reference
	ErrMalformedMessage = errors.New("malformed queue message")
)

// ToolError reports a conversion tool run that exited non-zero. Tail holds
// the last lines of merged tool output for diagnostics.
type ToolError struct {
	ExitCode int
	Tail     []string
}

func (e *ToolError) Error() string {
	if len(e.Tail) == 0 {
		return fmt.Sprintf("conversion tool failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("conversion tool failed with exit code %d:\n%s",
		e.ExitCode, strings.Join(e.Tail, "\n"))
}
