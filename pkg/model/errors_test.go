package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUnresolvedNamesError_BatchesAllMisses(t *testing.T) {
	err := &UnresolvedNamesError{Names: []string{"deadbee", "missing-name"}}

	msg := err.Error()
	if !strings.Contains(msg, "deadbee") || !strings.Contains(msg, "missing-name") {
		t.Errorf("message %q must list every unresolved name", msg)
	}
}

func TestNotStartedError_UsesShortRev(t *testing.T) {
	err := &NotStartedError{Rev: "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3"}
	if !strings.Contains(err.Error(), "a94a8fe") {
		t.Errorf("message %q should contain the abbreviated rev", err.Error())
	}
	if strings.Contains(err.Error(), "a94a8fe5c") {
		t.Errorf("message %q should not contain the full rev", err.Error())
	}
}

func TestRunFailedError_Unwrap(t *testing.T) {
	cause := errors.New("exit status 2")
	err := &RunFailedError{Rev: "a94a8fe", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("RunFailedError must unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "a94a8fe") {
		t.Errorf("message %q should name the experiment", err.Error())
	}
}

func TestErrRunAborted_DistinctFromFailure(t *testing.T) {
	wrapped := fmt.Errorf("reproduce: %w", ErrRunAborted)
	if !errors.Is(wrapped, ErrRunAborted) {
		t.Error("wrapped abort must still match ErrRunAborted")
	}

	var failed *RunFailedError
	if errors.As(wrapped, &failed) {
		t.Error("an aborted run must not be classified as a failed run")
	}
}
