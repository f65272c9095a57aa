package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQueueEmpty is returned by the workspace queue when no stashed
// experiments remain.
var ErrQueueEmpty = errors.New("no experiments in the queue")

// ErrNotSupported is returned for operations that do not apply to a queue's
// execution mode, rather than silently doing nothing.
var ErrNotSupported = errors.New("operation not supported in this queue mode")

// ErrRunAborted signals that an execution was deliberately terminated by the
// caller. It is a cancellation outcome, not a failure: the workspace
// reproduce loop absorbs it and ends the batch cleanly.
var ErrRunAborted = errors.New("experiment run aborted")

// NotStartedError is returned when a result or logs are requested for an
// entry that is still queued and has not been picked up by any worker.
type NotStartedError struct {
	Rev string
}

func (e *NotStartedError) Error() string {
	return fmt.Sprintf("experiment '%s' is in the queue but has not been started", ShortRev(e.Rev))
}

// ResultTimeoutError is returned when waiting for an active entry's task
// exceeded the caller's timeout.
type ResultTimeoutError struct {
	Rev string
}

func (e *ResultTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for experiment '%s' to finish", ShortRev(e.Rev))
}

// UnknownEntryError is returned when an entry appears in no observable queue
// state. This also covers work that was consumed without ever writing a run
// info record.
type UnknownEntryError struct {
	Rev string
}

func (e *UnknownEntryError) Error() string {
	return fmt.Sprintf("invalid experiment '%s'", ShortRev(e.Rev))
}

// UnresolvedNamesError reports every identifier that could not be matched to
// an entry in one batched error, rather than failing on the first miss.
type UnresolvedNamesError struct {
	Names []string
}

func (e *UnresolvedNamesError) Error() string {
	return fmt.Sprintf("could not find experiments '%s'", strings.Join(e.Names, "', '"))
}

// MissingLogsError is returned when a resolved entry has no recorded stdout
// file.
type MissingLogsError struct {
	Rev string
}

func (e *MissingLogsError) Error() string {
	return fmt.Sprintf("no output logs found for experiment '%s'", ShortRev(e.Rev))
}

// RunFailedError is returned when a job ran but produced no usable result.
type RunFailedError struct {
	Rev string
	Err error
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("failed to reproduce experiment '%s'", ShortRev(e.Rev))
}

func (e *RunFailedError) Unwrap() error {
	return e.Err
}
