package access

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeHelpers(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
	}{
		{NotFoundError("missing"), IsNotFound},
		{ConflictError("duplicate"), IsConflict},
		{UnavailableError("backend down", errors.New("dial tcp")), IsUnavailable},
		{InvalidArgumentError("empty id"), IsInvalidArgument},
	}

	for _, tt := range tests {
		if !tt.check(tt.err) {
			t.Errorf("Expected %v to match its code helper", tt.err)
		}
	}

	if IsNotFound(ConflictError("duplicate")) {
		t.Error("Expected code helpers to reject other codes")
	}
	if IsUnavailable(nil) {
		t.Error("Expected nil to match nothing")
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := UnavailableError("membership lookup failed", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be reachable via errors.Is")
	}

	wrapped := fmt.Errorf("check failed: %w", err)
	if !IsUnavailable(wrapped) {
		t.Error("Expected code helper to see through fmt.Errorf wrapping")
	}
}
