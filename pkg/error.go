package pkg

import "errors"

// Flash stack errors.
var (
	// ErrTimeout indicates a bounded wait expired before completion.
	ErrTimeout = errors.New("operation timeout")

	// ErrBus indicates a failure on the QSPI bus itself.
	ErrBus = errors.New("bus error")

	// ErrInit indicates the flash chip did not respond or returned an
	// unexpected JEDEC identifier.
	ErrInit = errors.New("flash initialization failed")

	// ErrWriteEnable indicates the write-enable latch did not assert.
	ErrWriteEnable = errors.New("write enable latch not set")

	// ErrAutoPolling indicates the status-register poll expired before
	// the busy bit cleared.
	ErrAutoPolling = errors.New("auto-polling wait expired")

	// ErrErase indicates the erase command phase failed on the bus.
	ErrErase = errors.New("erase command failed")

	// ErrTransmit indicates the data phase failed on the bus.
	ErrTransmit = errors.New("data transfer failed")

	// ErrMemoryMapped indicates the controller refused to enter
	// memory-mapped mode.
	ErrMemoryMapped = errors.New("memory-mapped mode failed")

	// ErrEraseVerify indicates an erased region read back non-0xFF bytes.
	ErrEraseVerify = errors.New("erase verification failed")

	// ErrDataMismatch indicates read-back data differs from expected.
	ErrDataMismatch = errors.New("data mismatch")

	// ErrInvalidState indicates an operation issued in the wrong driver state.
	ErrInvalidState = errors.New("invalid driver state")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrOutOfRange indicates an address range beyond the device size.
	ErrOutOfRange = errors.New("address out of range")

	// ErrProtocol indicates a framing error on the host-side serial bridge.
	ErrProtocol = errors.New("protocol error")
)

// Status represents the completion status of a flash driver operation.
// The values mirror the wire-level status codes reported by the loader
// stub to host tools.
type Status int8

// Driver status values.
const (
	StatusOK           Status = 0  // Operation completed successfully
	StatusInit         Status = -1 // Chip probe or identifier check failed
	StatusWriteEnable  Status = -2 // Write-enable latch never asserted
	StatusAutoPolling  Status = -3 // Busy poll expired
	StatusErase        Status = -4 // Erase command failed
	StatusTransmit     Status = -5 // Data phase failed
	StatusMemoryMapped Status = -6 // Memory-mapped entry refused
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInit:
		return "init error"
	case StatusWriteEnable:
		return "write enable error"
	case StatusAutoPolling:
		return "auto-polling error"
	case StatusErase:
		return "erase error"
	case StatusTransmit:
		return "transmit error"
	case StatusMemoryMapped:
		return "memory-mapped error"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the status.
func (s Status) Error() error {
	switch s {
	case StatusOK:
		return nil
	case StatusInit:
		return ErrInit
	case StatusWriteEnable:
		return ErrWriteEnable
	case StatusAutoPolling:
		return ErrAutoPolling
	case StatusErase:
		return ErrErase
	case StatusTransmit:
		return ErrTransmit
	case StatusMemoryMapped:
		return ErrMemoryMapped
	default:
		return ErrBus
	}
}

// StatusOf maps an error back to its driver status value. Unrecognized
// errors map to StatusTransmit, the catch-all bus failure.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInit):
		return StatusInit
	case errors.Is(err, ErrWriteEnable):
		return StatusWriteEnable
	case errors.Is(err, ErrAutoPolling), errors.Is(err, ErrTimeout):
		return StatusAutoPolling
	case errors.Is(err, ErrErase):
		return StatusErase
	case errors.Is(err, ErrMemoryMapped):
		return StatusMemoryMapped
	default:
		return StatusTransmit
	}
}
