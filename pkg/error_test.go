package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOK, "ok"},
		{StatusInit, "init error"},
		{StatusWriteEnable, "write enable error"},
		{StatusAutoPolling, "auto-polling error"},
		{StatusErase, "erase error"},
		{StatusTransmit, "transmit error"},
		{StatusMemoryMapped, "memory-mapped error"},
		{Status(-99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status Status
		want   error
	}{
		{StatusOK, nil},
		{StatusInit, ErrInit},
		{StatusWriteEnable, ErrWriteEnable},
		{StatusAutoPolling, ErrAutoPolling},
		{StatusErase, ErrErase},
		{StatusTransmit, ErrTransmit},
		{StatusMemoryMapped, ErrMemoryMapped},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Error(); !errors.Is(got, tt.want) {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusOfRoundTrip(t *testing.T) {
	for _, s := range []Status{
		StatusOK, StatusInit, StatusWriteEnable, StatusAutoPolling,
		StatusErase, StatusTransmit, StatusMemoryMapped,
	} {
		if got := StatusOf(s.Error()); got != s {
			t.Errorf("StatusOf(%v.Error()) = %v, want %v", s, got, s)
		}
	}
}

func TestStatusOfWrapped(t *testing.T) {
	err := fmt.Errorf("sector 0x1000: %w", ErrErase)
	if got := StatusOf(err); got != StatusErase {
		t.Errorf("StatusOf(wrapped ErrErase) = %v, want %v", got, StatusErase)
	}

	if got := StatusOf(ErrTimeout); got != StatusAutoPolling {
		t.Errorf("StatusOf(ErrTimeout) = %v, want %v", got, StatusAutoPolling)
	}

	if got := StatusOf(errors.New("something else")); got != StatusTransmit {
		t.Errorf("StatusOf(unknown) = %v, want %v", got, StatusTransmit)
	}
}
