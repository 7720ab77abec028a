package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess        = 0 // Suite scored at or above the threshold
	ExitBelowThreshold = 1 // Suite score below threshold, or undefined
	ExitError          = 2 // Configuration or runtime error
)

// ThresholdError indicates that the run completed, but the suite score did
// not reach --threshold.
type ThresholdError struct {
	Message string
}

func (e *ThresholdError) Error() string {
	return e.Message
}

func main() {
	os.Exit(exitCode(execute()))
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(os.Stderr, err)

	var thresholdErr *ThresholdError
	if errors.As(err, &thresholdErr) {
		return ExitBelowThreshold
	}

	// All other errors are configuration/runtime errors
	return ExitError
}
