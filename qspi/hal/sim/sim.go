package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal"
)

// Quad-SPI instruction bytes the controller decodes. These mirror the
// command set of the W25Q256 in 4-byte address mode.
const (
	opEnableReset      = 0x66
	opResetDevice      = 0x99
	opReadJEDECID      = 0x9F
	opWriteEnable      = 0x06
	opReadStatus1      = 0x05
	opSectorErase4B    = 0x21
	opBlockErase64K4B  = 0xDC
	opChipErase        = 0xC7
	opQuadPageProgram  = 0x34
	opFastReadQuadIO4B = 0xEC
)

// pending records an issued command awaiting its data phase.
type pending struct {
	instruction byte
	address     uint32
	length      uint32
	direction   hal.Direction
}

// Controller is an in-memory implementation of hal.Controller bound to
// a Chip model. It decodes the issued instruction bytes and checks each
// command's wire shape (address width, line counts, dummy cycles), so a
// driver that forms a malformed command fails here rather than silently
// succeeding.
//
// Fault hooks allow tests to inject bus errors at specific points:
//
//	ctl.ReadFault = func(addr uint32, n int) error {
//		if addr == 0x1000 {
//			return pkg.ErrBus
//		}
//		return nil
//	}
type Controller struct {
	mu   sync.Mutex
	chip *Chip

	initialized bool
	mapped      bool
	pend        *pending

	// Disconnected simulates an absent or unresponsive chip: identifier
	// and status reads return all zeroes and writes are discarded.
	Disconnected bool

	// IssueFault, TransmitFault, and ReadFault are invoked before the
	// corresponding phase completes. A non-nil return aborts the phase
	// with that error. Nil hooks are ignored.
	IssueFault    func(cmd *hal.Command) error
	TransmitFault func(addr uint32, n int) error
	ReadFault     func(addr uint32, n int) error
}

var _ hal.Controller = (*Controller)(nil)

// New returns a controller driving the given chip model. A nil chip is
// replaced with a fresh erased one.
func New(chip *Chip) *Controller {
	if chip == nil {
		chip = NewChip()
	}
	return &Controller{chip: chip}
}

// Chip returns the attached chip model.
func (c *Controller) Chip() *Chip {
	return c.chip
}

// Init prepares the controller. It is idempotent.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrInit, err)
	}
	c.initialized = true
	c.mapped = false
	c.pend = nil
	return nil
}

// Issue decodes and executes cmd. Commands with a data phase leave the
// transfer pending for a following Transmit or Receive call.
func (c *Controller) Issue(cmd *hal.Command, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return pkg.ErrInit
	}
	if c.mapped {
		return fmt.Errorf("%w: command issued while memory-mapped", pkg.ErrInvalidState)
	}
	if c.pend != nil {
		return fmt.Errorf("%w: data phase of %#02x still pending", pkg.ErrBus, c.pend.instruction)
	}
	if c.IssueFault != nil {
		if err := c.IssueFault(cmd); err != nil {
			return err
		}
	}
	return c.execute(cmd)
}

func (c *Controller) execute(cmd *hal.Command) error {
	switch cmd.Instruction {
	case opEnableReset:
		c.chip.armReset()
	case opResetDevice:
		c.chip.reset()
	case opWriteEnable:
		if !c.Disconnected {
			c.chip.writeEnable()
		}
	case opReadJEDECID:
		if err := checkShape(cmd, hal.LinesNone, hal.Lines1, 0); err != nil {
			return err
		}
		c.setPending(cmd, hal.DirectionIn)
	case opReadStatus1:
		c.setPending(cmd, hal.DirectionIn)
	case opSectorErase4B:
		if err := checkErase(cmd); err != nil {
			return err
		}
		if !c.Disconnected {
			c.chip.eraseSector(cmd.Address)
		}
	case opBlockErase64K4B:
		if err := checkErase(cmd); err != nil {
			return err
		}
		if !c.Disconnected {
			c.chip.eraseBlock(cmd.Address)
		}
	case opChipErase:
		if cmd.AddressMode != hal.LinesNone {
			return fmt.Errorf("%w: chip erase takes no address", pkg.ErrBus)
		}
		if !c.Disconnected {
			c.chip.eraseChip()
		}
	case opQuadPageProgram:
		if err := checkAddress(cmd, hal.Lines1); err != nil {
			return err
		}
		if cmd.DataMode != hal.Lines4 || cmd.DummyCycles != 0 {
			return fmt.Errorf("%w: malformed page program", pkg.ErrBus)
		}
		if err := checkBounds(cmd); err != nil {
			return err
		}
		c.setPending(cmd, hal.DirectionOut)
	case opFastReadQuadIO4B:
		if err := checkAddress(cmd, hal.Lines4); err != nil {
			return err
		}
		if cmd.DataMode != hal.Lines4 || cmd.DummyCycles != 6 {
			return fmt.Errorf("%w: malformed fast read", pkg.ErrBus)
		}
		if err := checkBounds(cmd); err != nil {
			return err
		}
		c.setPending(cmd, hal.DirectionIn)
	default:
		return fmt.Errorf("%w: unknown instruction %#02x", pkg.ErrBus, cmd.Instruction)
	}
	return nil
}

func (c *Controller) setPending(cmd *hal.Command, dir hal.Direction) {
	c.pend = &pending{
		instruction: cmd.Instruction,
		address:     cmd.Address,
		length:      cmd.DataLen,
		direction:   dir,
	}
}

// Transmit completes the data-out phase of the previously issued
// command.
func (c *Controller) Transmit(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pend
	if p == nil || p.direction != hal.DirectionOut {
		return fmt.Errorf("%w: transmit without pending data-out phase", pkg.ErrBus)
	}
	c.pend = nil
	if uint32(len(data)) != p.length {
		return fmt.Errorf("%w: transmit length %d, command declared %d",
			pkg.ErrBus, len(data), p.length)
	}
	if c.TransmitFault != nil {
		if err := c.TransmitFault(p.address, len(data)); err != nil {
			return err
		}
	}
	if c.Disconnected {
		return nil
	}
	c.chip.program(p.address, data)
	return nil
}

// Receive completes the data-in phase of the previously issued command.
func (c *Controller) Receive(buf []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pend
	if p == nil || p.direction != hal.DirectionIn {
		return fmt.Errorf("%w: receive without pending data-in phase", pkg.ErrBus)
	}
	c.pend = nil
	if uint32(len(buf)) != p.length {
		return fmt.Errorf("%w: receive length %d, command declared %d",
			pkg.ErrBus, len(buf), p.length)
	}
	switch p.instruction {
	case opReadJEDECID:
		c.chip.ops.IDReads++
		if c.Disconnected {
			zero(buf)
			return nil
		}
		copy(buf, jedecID[:])
	case opReadStatus1:
		if c.Disconnected {
			zero(buf)
			return nil
		}
		buf[0] = c.chip.readStatus()
	case opFastReadQuadIO4B:
		if c.ReadFault != nil {
			if err := c.ReadFault(p.address, len(buf)); err != nil {
				return err
			}
		}
		if c.Disconnected {
			zero(buf)
			return nil
		}
		c.chip.read(p.address, buf)
	default:
		return fmt.Errorf("%w: %#02x has no data-in phase", pkg.ErrBus, p.instruction)
	}
	return nil
}

// AutoPoll repeatedly executes the status-read command until the masked
// register matches, or until timeout expires.
func (c *Controller) AutoPoll(cmd *hal.Command, cfg *hal.AutoPoll, timeout time.Duration) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = hal.DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	for {
		status, err := c.pollOnce(cmd)
		if err != nil {
			return err
		}
		if status&cfg.Mask == cfg.Match {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: status %#02x never matched mask %#02x match %#02x",
				pkg.ErrTimeout, status, cfg.Mask, cfg.Match)
		}
		time.Sleep(interval)
	}
}

func (c *Controller) pollOnce(cmd *hal.Command) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, pkg.ErrInit
	}
	if c.mapped {
		return 0, fmt.Errorf("%w: poll while memory-mapped", pkg.ErrInvalidState)
	}
	if cmd.Instruction != opReadStatus1 {
		return 0, fmt.Errorf("%w: auto-poll requires status read, got %#02x",
			pkg.ErrBus, cmd.Instruction)
	}
	if c.Disconnected {
		return 0, nil
	}
	return c.chip.readStatus(), nil
}

// MemoryMap executes the read command in memory-mapped mode and returns
// a read-only window over the full array. Further commands fail until
// Reset is called.
func (c *Controller) MemoryMap(cmd *hal.Command) (hal.Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, pkg.ErrInit
	}
	if c.mapped {
		return nil, fmt.Errorf("%w: already memory-mapped", pkg.ErrMemoryMapped)
	}
	if cmd.Instruction != opFastReadQuadIO4B || cmd.DummyCycles != 6 {
		return nil, fmt.Errorf("%w: malformed memory-map read command", pkg.ErrBus)
	}
	c.mapped = true
	return &window{chip: c.chip, base: hal.MemoryMappedBase}, nil
}

// Reset aborts any pending transfer and leaves memory-mapped mode. The
// chip's own state is untouched; use the enable-reset and reset-device
// commands for a device reset.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mapped = false
	c.pend = nil
	return nil
}

func checkShape(cmd *hal.Command, addr, data hal.Lines, dummies uint8) error {
	if cmd.AddressMode != addr || cmd.DataMode != data || cmd.DummyCycles != dummies {
		return fmt.Errorf("%w: malformed %#02x command", pkg.ErrBus, cmd.Instruction)
	}
	return nil
}

func checkErase(cmd *hal.Command) error {
	if err := checkAddress(cmd, hal.Lines1); err != nil {
		return err
	}
	if cmd.DataMode != hal.LinesNone {
		return fmt.Errorf("%w: erase has no data phase", pkg.ErrBus)
	}
	return nil
}

func checkAddress(cmd *hal.Command, mode hal.Lines) error {
	if cmd.AddressMode != mode || cmd.AddressSize != hal.Address32 {
		return fmt.Errorf("%w: %#02x requires a 32-bit address on %s",
			pkg.ErrBus, cmd.Instruction, mode)
	}
	return nil
}

func checkBounds(cmd *hal.Command) error {
	if uint64(cmd.Address)+uint64(cmd.DataLen) > FlashSize {
		return fmt.Errorf("%w: %#010x+%d exceeds device size",
			pkg.ErrOutOfRange, cmd.Address, cmd.DataLen)
	}
	return nil
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
