package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Tyrowin/dmchat/internal/apperr"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: http.StatusOK},
		{name: "validation", err: apperr.Validation("text or image is required"), expected: http.StatusBadRequest},
		{name: "unauthenticated", err: apperr.Unauthenticated("token expired"), expected: http.StatusUnauthorized},
		{name: "not found", err: apperr.NotFound("receiver not found"), expected: http.StatusNotFound},
		{name: "rate limited", err: apperr.RateLimited("slow down"), expected: http.StatusTooManyRequests},
		{name: "persistence", err: apperr.Persistence("insert message", errors.New("disk full")), expected: http.StatusInternalServerError},
		{name: "wrapped validation", err: fmt.Errorf("send: %w", apperr.Validation("bad")), expected: http.StatusBadRequest},
		{name: "unknown", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.Status(tt.err); got != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestPersistenceKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := apperr.Persistence("insert message", cause)

	if !errors.Is(err, apperr.ErrPersistence) {
		t.Error("Expected error to match ErrPersistence")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected error to match its cause")
	}
	if msg := apperr.Message(err); msg != "storage unavailable" {
		t.Errorf("Expected generic storage message, got %q", msg)
	}
}

func TestMessage(t *testing.T) {
	if msg := apperr.Message(apperr.Validation("Email already exists")); msg != "Email already exists" {
		t.Errorf("Expected validation message to pass through, got %q", msg)
	}
	if msg := apperr.Message(errors.New("secret detail")); msg != "internal server error" {
		t.Errorf("Expected unknown errors to be masked, got %q", msg)
	}
}
