package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

func TestIsContextCanceled(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"direct cancel", context.Canceled, true},
		{"wrapped cancel", fmt.Errorf("fetch failed: %w", context.Canceled), true},
		{"cancel as text", errors.New("rpc error: context canceled"), true},
		{"deadline is not cancel", context.DeadlineExceeded, false},
		{"unrelated", errors.New("disk full"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsContextCanceled(tt.err); got != tt.want {
				t.Errorf("IsContextCanceled(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsClientDisconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context cancel", context.Canceled, true},
		{"wrapped cancel", fmt.Errorf("copy: %w", context.Canceled), true},
		{"epipe", syscall.EPIPE, true},
		{"wrapped epipe", fmt.Errorf("write response: %w", syscall.EPIPE), true},
		{"econnreset", syscall.ECONNRESET, true},
		{"broken pipe text", errors.New("write tcp 10.0.0.2:8080->10.0.0.9:51234: write: broken pipe"), true},
		{"reset by peer text", errors.New("read: connection reset by peer"), true},
		{"short read", io.ErrUnexpectedEOF, false},
		{"unrelated", errors.New("disk full"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsClientDisconnect(tt.err); got != tt.want {
				t.Errorf("IsClientDisconnect(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
