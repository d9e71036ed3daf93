package service

import (
	"errors"
	"testing"

	"lifelog/internal/storage"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "field and message",
			err: &ValidationError{
				Field:   "name",
				Message: "cannot be empty",
			},
			want: "validation error on field name: cannot be empty",
		},
		{
			name: "empty field",
			err: &ValidationError{
				Field:   "",
				Message: "invalid",
			},
			want: "validation error on field : invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("ValidationError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationError_IsInvalidInput(t *testing.T) {
	err := WrapError(&ValidationError{Field: "date", Message: "bad"}, "create post")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("errors.Is(%v, ErrInvalidInput) = false, want true", err)
	}
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		msg     string
		wantNil bool
		wantMsg string
	}{
		{
			name:    "nil error",
			err:     nil,
			msg:     "context",
			wantNil: true,
		},
		{
			name:    "wrapped error",
			err:     errors.New("original error"),
			msg:     "context",
			wantNil: false,
			wantMsg: "context: original error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapError(tt.err, tt.msg)
			if tt.wantNil {
				if got != nil {
					t.Errorf("WrapError() = %v, want nil", got)
				}
				return
			}
			if got == nil || got.Error() != tt.wantMsg {
				t.Errorf("WrapError() = %v, want %v", got, tt.wantMsg)
			}
			if !errors.Is(got, tt.err) {
				t.Error("WrapError() should wrap the original error")
			}
		})
	}
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "not found", err: &storage.NotFoundError{Collection: "posts", ID: "x"}, want: ErrNotFound},
		{name: "conflict", err: &storage.ConflictError{Collection: "posts", ID: "x"}, want: ErrConflict},
		{name: "invalid record", err: storage.ErrInvalidRecord, want: ErrInvalidInput},
		{name: "engine failure", err: &storage.TransactionError{Op: "create", Collection: "posts", Err: errors.New("disk I/O error")}, want: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storeError(tt.err, "op")
			if !errors.Is(got, tt.want) {
				t.Errorf("storeError() = %v, want match for %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("storeError() = %v, should keep original error", got)
			}
		})
	}

	if storeError(nil, "op") != nil {
		t.Error("storeError(nil) should be nil")
	}
}
