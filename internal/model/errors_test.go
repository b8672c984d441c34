package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidOrder, CodeInvalidOrder},
		{fmt.Errorf("wrapped: %w", ErrInsufficientFunds), CodeInsufficientFunds},
		{fmt.Errorf("%w: AAPL", ErrSymbolNotFound), CodeSymbolNotFound},
		{ErrLeagueFull, CodeLeagueFull},
		{errors.New("connection reset"), CodeStorageFailure},
		{StorageFailure("commit", errors.New("disk full")), CodeStorageFailure},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestStorageFailure_PassesDomainErrorsThrough(t *testing.T) {
	err := StorageFailure("execute order", fmt.Errorf("check: %w", ErrInsufficientShares))
	if errors.Is(err, ErrStorageFailure) {
		t.Fatalf("domain error should not be wrapped as storage failure: %v", err)
	}
	if !errors.Is(err, ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}

	cause := errors.New("broken pipe")
	err = StorageFailure("execute order", cause)
	if !errors.Is(err, ErrStorageFailure) || !errors.Is(err, cause) {
		t.Errorf("expected wrapped storage failure keeping its cause, got %v", err)
	}
	if StorageFailure("noop", nil) != nil {
		t.Error("nil error should stay nil")
	}
}
