package model

import (
	"fmt"
	"time"
)

// Response is the standard envelope returned by the replay status API.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrConflict ErrorCode = "CONFLICT"
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the replay status API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// QueueStatus is an aggregate point-in-time view of the queue, as exposed by
// the status API and CLI.
type QueueStatus struct {
	Queued []Entry      `json:"queued"`
	Active []Entry      `json:"active"`
	Done   []DoneEntry  `json:"done"`
	Worker *WorkerState `json:"worker,omitempty"`
}

// DoneEntry pairs a finished entry with its result, which may be nil when
// the run info record has not been written.
type DoneEntry struct {
	Entry  Entry       `json:"entry"`
	Result *ExecResult `json:"result,omitempty"`
}

// WorkerState describes the observed state of the background worker.
type WorkerState struct {
	Running  bool      `json:"running"`
	PID      int       `json:"pid,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}
