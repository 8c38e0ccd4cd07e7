package domain

import (
	"errors"
	"fmt"
)

// Failure classes for forecast orchestration and model calls. Transport
// and server-side model failures are retryable at the caller's
// discretion; contract violations never are.
var (
	// ErrInvalidRequest marks a structurally invalid forecast request.
	// Nothing has happened when it is returned.
	ErrInvalidRequest = errors.New("invalid forecast request")

	// ErrServiceUnavailable marks a network-level failure reaching the
	// model service, including timeouts and an open circuit breaker.
	ErrServiceUnavailable = errors.New("model service unavailable")

	// ErrModelService marks a 5xx answer from the model service.
	ErrModelService = errors.New("model service error")

	// ErrBadModelRequest marks a 4xx answer from the model service: the
	// payload did not match its contract.
	ErrBadModelRequest = errors.New("model service rejected request")

	// ErrMalformedModelResponse marks a 2xx answer whose body does not
	// match the expected response schema.
	ErrMalformedModelResponse = errors.New("malformed model response")
)

// UnknownLocationError is returned when one or more requested location
// ids cannot be resolved. The whole batch is rejected before any model
// call or write.
type UnknownLocationError struct {
	MissingIDs []int64
}

func (e *UnknownLocationError) Error() string {
	return fmt.Sprintf("unknown location ids: %v", e.MissingIDs)
}
