package errors

import (
	stderrors "errors"
)

// AsStandard unwraps err to a *StandardError if one is in the chain.
func AsStandard(err error) (*StandardError, bool) {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsFatal reports whether the error must abort the whole session. Unknown
// errors are treated as fatal: the pipeline only degrades to partial success
// for failures it explicitly classified.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := AsStandard(err); ok {
		return se.Fatal
	}
	return true
}

// IsRetryable reports whether the operation behind the error may be retried.
func IsRetryable(err error) bool {
	if se, ok := AsStandard(err); ok {
		return se.Retryable
	}
	return false
}

// IsCode reports whether err carries the given pipeline error code.
func IsCode(err error, code ErrorCode) bool {
	se, ok := AsStandard(err)
	return ok && se.Code == code
}
