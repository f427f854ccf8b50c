package hal

import (
	"context"
	"io"
	"time"
)

// Lines represents the number of bus lines carrying one transaction phase.
type Lines uint8

// Line counts for the instruction, address, and data phases.
const (
	LinesNone Lines = iota // Phase absent
	Lines1                 // Single line (serial)
	Lines4                 // Four lines (quad)
)

// String returns a human-readable line count name.
func (l Lines) String() string {
	switch l {
	case LinesNone:
		return "none"
	case Lines1:
		return "1-line"
	case Lines4:
		return "4-line"
	default:
		return "unknown"
	}
}

// AddressSize selects the wire width of the address phase.
type AddressSize uint8

// Address sizes supported by the controller.
const (
	Address24 AddressSize = iota // 24-bit address
	Address32                    // 32-bit address
)

// Bytes returns the number of address bytes sent on the wire.
func (s AddressSize) Bytes() int {
	if s == Address32 {
		return 4
	}
	return 3
}

// Direction indicates whether the data phase transmits or receives.
type Direction uint8

// Data phase directions.
const (
	DirectionNone Direction = iota // No data phase
	DirectionIn                    // Controller receives from the chip
	DirectionOut                   // Controller transmits to the chip
)

// Command describes a single QSPI bus transaction: an instruction byte,
// an optional address phase, optional dummy cycles, and an optional data
// phase. Chip-select assertion and deassertion are implicit per
// transaction.
type Command struct {
	Instruction byte        // Instruction opcode
	AddressMode Lines       // Address phase line count (LinesNone = no address)
	AddressSize AddressSize // Address width on the wire
	Address     uint32      // Address value, when AddressMode != LinesNone
	DummyCycles uint8       // Dummy cycles between address and data
	DataMode    Lines       // Data phase line count (LinesNone = no data)
	Direction   Direction   // Data phase direction
	DataLen     uint32      // Data phase byte count
}

// HasAddress reports whether the command carries an address phase.
func (c *Command) HasAddress() bool {
	return c.AddressMode != LinesNone
}

// HasData reports whether the command carries a data phase.
func (c *Command) HasData() bool {
	return c.DataMode != LinesNone && c.DataLen > 0
}

// MemoryMappedBase is the address at which the external flash appears
// in the host's view when the controller is in memory-mapped mode.
const MemoryMappedBase = 0x90000000

// DefaultPollInterval is the delay between status-register samples when
// the controller polls in software. Hardware auto-poll engines ignore it.
const DefaultPollInterval = 100 * time.Microsecond

// AutoPoll describes a repeated read of a status byte until
// (status & Mask) == Match. The poll is self-contained: the caller
// observes only the final success or timeout.
type AutoPoll struct {
	Mask        byte          // Bits of the status byte to test
	Match       byte          // Value the masked bits must equal
	Interval    time.Duration // Delay between samples (0 = DefaultPollInterval)
	StatusBytes uint8         // Status read size in bytes (1 for SR1)
}

// Window is a read-only view of the flash contents exposed by the
// controller's memory-mapped mode. Reads are served by automatic
// on-demand bus transactions; the window carries no write methods.
type Window interface {
	io.ReaderAt

	// Base returns the address at which the window appears in the
	// host's view (0x90000000 for memory-mapped mode).
	Base() uint32

	// Size returns the window length in bytes.
	Size() int64
}

// Controller defines the hardware-access port for a quad-SPI flash
// controller. The flash driver is the only intended caller; it issues
// one transaction at a time and never overlaps operations.
//
// Implementations translate a Command's declared instruction, address,
// dummy-cycle, and data-line parameters into peripheral registers (or
// into a host-side bridge protocol). Timeouts are per call; on expiry
// the transaction fails with [pkg.ErrTimeout] and the bus state is
// undefined until the next Issue.
type Controller interface {
	// Init brings the controller hardware up: clocks, pin multiplexing,
	// and peripheral configuration. The context can cancel a slow
	// bring-up.
	Init(ctx context.Context) error

	// Issue sends the command phase (instruction + optional address +
	// dummy cycles) of a transaction. For commands with a data phase
	// the caller must follow with exactly one Transmit or Receive.
	Issue(cmd *Command, timeout time.Duration) error

	// Transmit sends the data phase of the preceding command. Valid only
	// immediately after an Issue whose Direction is DirectionOut.
	Transmit(data []byte, timeout time.Duration) error

	// Receive reads the data phase of the preceding command into buf.
	// Valid only immediately after an Issue whose Direction is
	// DirectionIn.
	Receive(buf []byte, timeout time.Duration) error

	// AutoPoll repeatedly issues cmd (a status-register read) until the
	// first status byte satisfies (byte & cfg.Mask) == cfg.Match, or the
	// timeout expires.
	AutoPoll(cmd *Command, cfg *AutoPoll, timeout time.Duration) error

	// MemoryMap places the controller in memory-mapped read mode using
	// cmd as the read instruction, and returns the mapped window.
	// Normal transactions are refused until Reset is called.
	MemoryMap(cmd *Command) (Window, error)

	// Reset aborts memory-mapped mode (if active) and restores the
	// controller to command mode.
	Reset() error
}
