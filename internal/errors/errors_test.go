package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError(t *testing.T) {
	t.Run("NewAPIError", func(t *testing.T) {
		err := NewAPIError(http.StatusNotFound, ErrNotFound, "segment 3 not found")
		if err.StatusCode() != http.StatusNotFound {
			t.Errorf("Expected status code %d, got %d", http.StatusNotFound, err.StatusCode())
		}
		if err.Code() != ErrNotFound {
			t.Errorf("Expected code %s, got %s", ErrNotFound, err.Code())
		}
		if err.Error() != "segment 3 not found" {
			t.Errorf("Expected message 'segment 3 not found', got '%s'", err.Error())
		}
	})
	t.Run("WithDetail", func(t *testing.T) {
		err := SchemaConflict("SEGKEY")
		if err.Details()["field"] != "SEGKEY" {
			t.Errorf("Expected field 'SEGKEY', got %v", err.Details()["field"])
		}
		if err.StatusCode() != http.StatusConflict {
			t.Errorf("Expected status %d, got %d", http.StatusConflict, err.StatusCode())
		}
	})
	t.Run("Wrap", func(t *testing.T) {
		inner := errors.New("disk full")
		err := Storage("failed to write segments", inner)
		if !errors.Is(err, inner) {
			t.Error("Expected errors.Is to find the wrapped error")
		}
		if err.Error() != "failed to write segments: disk full" {
			t.Errorf("Unexpected message %q", err.Error())
		}
	})
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not found", NotFound("tm %q", "x"), ErrNotFound},
		{"wrapped not found", fmt.Errorf("getRecord: %w", NotFound("segment %d", 4)), ErrNotFound},
		{"type mismatch", TypeMismatch("bool", "string"), ErrTypeMismatch},
		{"index", IndexUnavailable("commit failed", errors.New("locked")), ErrIndexUnavailable},
		{"plain error", errors.New("boom"), ErrInternal},
		{"nil", nil, ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %s, want %s", got, tt.want)
			}
		})
	}
	if !IsNotFound(NotFound("tm")) || IsNotFound(TypeMismatch("a", "b")) {
		t.Error("IsNotFound mismatch")
	}
	if !errors.Is(fmt.Errorf("x: %w", NotFound("segment 1")), NotFound("")) {
		t.Error("errors.Is should match on code")
	}
}
