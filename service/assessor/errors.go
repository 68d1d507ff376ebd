package assessor

import "errors"

var (
	// ErrTransientAssessment marks a scorer failure worth retrying
	// (transport error, timeout, cold start).
	ErrTransientAssessment = errors.New("assessor: transient failure")

	// ErrMalformedResponse is returned by scorers whose reply cannot be
	// decoded. It is not retried.
	ErrMalformedResponse = errors.New("assessor: malformed response")
)
