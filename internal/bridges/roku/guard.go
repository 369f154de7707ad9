package roku

import "errors"

// Error kinds reported to CommandRecorder.IncCommandError.
const (
	errorKindConnection = "connection"
	errorKindResponse   = "response"
)

// CommandRecorder counts dispatched commands and failed Client calls.
// Satisfied by metrics.Recorder.
type CommandRecorder interface {
	IncCommand(command string)
	IncCommandError(kind string)
}

// guard runs op and swallows its error. Failures are counted always and
// logged only while available reports true.
func guard(logger Logger, rec CommandRecorder, available func() bool, op func() error) {
	err := op()
	if err == nil {
		return
	}

	kind := classifyError(err)
	if rec != nil {
		rec.IncCommandError(kind)
	}

	if logger == nil || !available() {
		return
	}

	switch kind {
	case errorKindConnection:
		logger.Error("error communicating with API", "error", err)
	default:
		logger.Error("invalid response from API", "error", err)
	}
}

// classifyError maps a Client error to its kind. Anything not wrapping
// ErrConnection is a response error.
func classifyError(err error) string {
	if errors.Is(err, ErrConnection) {
		return errorKindConnection
	}
	return errorKindResponse
}
