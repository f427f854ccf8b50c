package w25q

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal"
)

// W25Q256 geometry.
const (
	FlashSize  = 32 * 1024 * 1024 // Total array size (32 MiB)
	PageSize   = 256              // Programming page
	SectorSize = 4 * 1024         // Minimum erase unit
	BlockSize  = 64 * 1024        // Bulk erase unit
	EraseValue = 0xFF             // Erased byte value
)

// JEDECID is the manufacturer and device identifier of the W25Q256JV,
// as returned by the read-JEDEC-ID command: 0xEF (Winbond), 0x40
// (memory type), 0x19 (capacity).
const JEDECID uint32 = 0xEF4019

// Operation timeouts. Erase and program ceilings come from the part's
// worst-case datasheet figures with margin.
const (
	DefaultTimeout     = 5 * time.Second
	SectorEraseTimeout = 3 * time.Second
	BlockEraseTimeout  = 3 * time.Second
	ChipEraseTimeout   = 400 * time.Second
	PageProgramTimeout = 5 * time.Second
)

type deviceState uint8

const (
	stateUninitialized deviceState = iota
	stateReady
	stateMapped
)

// Device drives a W25Q256 chip through a [hal.Controller]. The zero
// value is not usable; obtain one with New and call Init before any
// other operation.
//
// A Device is not safe for concurrent use: the QSPI bus serializes one
// transaction at a time, and callers are expected to do the same.
type Device struct {
	ctl   hal.Controller
	state deviceState
}

// New returns a driver bound to the given controller.
func New(ctl hal.Controller) *Device {
	return &Device{ctl: ctl}
}

// Init brings up the controller, resets the chip, and verifies its
// JEDEC identifier. Repeat calls re-run the full bring-up and re-probe
// the identifier. An identifier mismatch is reported as an error but
// leaves the device accepting commands, so callers such as the
// bootloader can still attempt a memory-mapped read; a controller or
// bus failure leaves the device uninitialized.
func (d *Device) Init(ctx context.Context) error {
	if d.state == stateMapped {
		return fmt.Errorf("%w: device is memory-mapped", pkg.ErrInvalidState)
	}
	if err := d.ctl.Init(ctx); err != nil {
		d.state = stateUninitialized
		return fmt.Errorf("%w: controller: %v", pkg.ErrInit, err)
	}
	if err := d.Reset(); err != nil {
		d.state = stateUninitialized
		return err
	}
	id, err := d.ReadID()
	if err != nil {
		d.state = stateUninitialized
		return err
	}
	d.state = stateReady
	if id != JEDECID {
		pkg.LogError(pkg.ComponentFlash, "unexpected JEDEC identifier",
			"got", fmt.Sprintf("%#06x", id), "want", fmt.Sprintf("%#06x", JEDECID))
		return fmt.Errorf("%w: JEDEC identifier %#06x", pkg.ErrInit, id)
	}
	pkg.LogInfo(pkg.ComponentFlash, "flash initialized", "id", fmt.Sprintf("%#06x", id))
	return nil
}

// Reset issues the enable-reset/reset-device pair and waits for the
// chip to become ready after each step.
func (d *Device) Reset() error {
	if err := d.ctl.Issue(bareCommand(cmdEnableReset), DefaultTimeout); err != nil {
		return fmt.Errorf("%w: enable reset: %v", pkg.ErrInit, err)
	}
	if err := d.waitReady(DefaultTimeout); err != nil {
		return err
	}
	if err := d.ctl.Issue(bareCommand(cmdResetDevice), DefaultTimeout); err != nil {
		return fmt.Errorf("%w: reset device: %v", pkg.ErrInit, err)
	}
	return d.waitReady(DefaultTimeout)
}

// ReadID reads the 3-byte JEDEC identifier, returned MSB first as
// 0x00MMTTCC (manufacturer, type, capacity).
func (d *Device) ReadID() (uint32, error) {
	if err := d.ctl.Issue(jedecCommand(), DefaultTimeout); err != nil {
		return 0, fmt.Errorf("%w: read id: %v", pkg.ErrInit, err)
	}
	var id [3]byte
	if err := d.ctl.Receive(id[:], DefaultTimeout); err != nil {
		return 0, fmt.Errorf("%w: read id: %v", pkg.ErrInit, err)
	}
	return uint32(id[0])<<16 | uint32(id[1])<<8 | uint32(id[2]), nil
}

// WriteEnable sets the write-enable latch and polls until the chip
// confirms it. Every program and erase operation calls this itself;
// it is exported for callers recovering a bus left mid-operation.
func (d *Device) WriteEnable() error {
	if err := d.checkReady(); err != nil {
		return err
	}
	return d.writeEnable()
}

// WaitReady polls status register 1 until the busy bit clears or
// timeout expires.
func (d *Device) WaitReady(timeout time.Duration) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	return d.waitReady(timeout)
}

// writeEnable sets the write-enable latch and polls until the chip
// confirms it.
func (d *Device) writeEnable() error {
	if err := d.ctl.Issue(bareCommand(cmdWriteEnable), DefaultTimeout); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrWriteEnable, err)
	}
	err := d.ctl.AutoPoll(statusCommand(), &hal.AutoPoll{
		Mask:        statusWEL,
		Match:       statusWEL,
		StatusBytes: 1,
	}, DefaultTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrWriteEnable, err)
	}
	return nil
}

// waitReady polls status register 1 until the busy bit clears.
func (d *Device) waitReady(timeout time.Duration) error {
	err := d.ctl.AutoPoll(statusCommand(), &hal.AutoPoll{
		Mask:        statusBusy,
		Match:       0,
		StatusBytes: 1,
	}, timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrAutoPolling, err)
	}
	return nil
}

func (d *Device) checkReady() error {
	switch d.state {
	case stateReady:
		return nil
	case stateMapped:
		return fmt.Errorf("%w: device is memory-mapped", pkg.ErrInvalidState)
	default:
		return fmt.Errorf("%w: device not initialized", pkg.ErrInvalidState)
	}
}

func (d *Device) checkRange(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > FlashSize {
		return fmt.Errorf("%w: %#010x+%d", pkg.ErrOutOfRange, addr, n)
	}
	return nil
}

// EraseSector erases the 4 KiB sector containing addr and waits for
// completion.
func (d *Device) EraseSector(addr uint32) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if err := d.checkRange(addr, 0); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.ctl.Issue(eraseCommand(cmdSectorErase4B, SectorBase(addr)), DefaultTimeout); err != nil {
		return fmt.Errorf("%w: sector %#010x: %v", pkg.ErrErase, SectorBase(addr), err)
	}
	return d.waitReady(SectorEraseTimeout)
}

// EraseBlock64K erases the 64 KiB block containing addr and waits for
// completion.
func (d *Device) EraseBlock64K(addr uint32) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if err := d.checkRange(addr, 0); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.ctl.Issue(eraseCommand(cmdBlockErase64K4B, BlockBase(addr)), DefaultTimeout); err != nil {
		return fmt.Errorf("%w: block %#010x: %v", pkg.ErrErase, BlockBase(addr), err)
	}
	return d.waitReady(BlockEraseTimeout)
}

// EraseChip erases the entire array. The worst-case duration is several
// minutes; the wait is bounded by ChipEraseTimeout.
func (d *Device) EraseChip() error {
	return d.EraseChipWithin(ChipEraseTimeout)
}

// EraseChipWithin erases the entire array with a caller-supplied wait
// budget. Callers with a stricter completion deadline than
// ChipEraseTimeout use this form; on expiry the chip is left busy and
// must be reset before further commands.
func (d *Device) EraseChipWithin(timeout time.Duration) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.ctl.Issue(bareCommand(cmdChipErase), DefaultTimeout); err != nil {
		return fmt.Errorf("%w: chip erase: %v", pkg.ErrErase, err)
	}
	pkg.LogInfo(pkg.ComponentFlash, "chip erase started", "timeout", timeout)
	return d.waitReady(timeout)
}

// WritePage programs up to one page at addr. The data must fit within
// the 256-byte page containing addr; crossing a page boundary would
// wrap inside the page on the chip, so it is rejected.
func (d *Device) WritePage(addr uint32, data []byte) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if len(data) > PageSize {
		return fmt.Errorf("%w: %d bytes exceeds page size", pkg.ErrInvalidParameter, len(data))
	}
	if int(addr%PageSize)+len(data) > PageSize {
		return fmt.Errorf("%w: write at %#010x crosses page boundary", pkg.ErrInvalidParameter, addr)
	}
	if err := d.checkRange(addr, len(data)); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.ctl.Issue(programCommand(addr, len(data)), DefaultTimeout); err != nil {
		return fmt.Errorf("%w: page program %#010x: %v", pkg.ErrTransmit, addr, err)
	}
	if err := d.ctl.Transmit(data, PageProgramTimeout); err != nil {
		return fmt.Errorf("%w: page program %#010x: %v", pkg.ErrTransmit, addr, err)
	}
	return d.waitReady(PageProgramTimeout)
}

// WriteBuffer programs an arbitrary range, splitting it into page
// programs so that no single transfer crosses a page boundary. The
// target range must already be erased.
func (d *Device) WriteBuffer(addr uint32, data []byte) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if err := d.checkRange(addr, len(data)); err != nil {
		return err
	}
	for len(data) > 0 {
		chunk := PageSize - int(addr%PageSize)
		if chunk > len(data) {
			chunk = len(data)
		}
		if err := d.WritePage(addr, data[:chunk]); err != nil {
			return err
		}
		addr += uint32(chunk)
		data = data[chunk:]
	}
	return nil
}

// ReadBuffer reads len(buf) bytes starting at addr using fast read
// quad I/O.
func (d *Device) ReadBuffer(addr uint32, buf []byte) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	if err := d.checkRange(addr, len(buf)); err != nil {
		return err
	}
	if err := d.ctl.Issue(readCommand(addr, len(buf)), DefaultTimeout); err != nil {
		return fmt.Errorf("%w: read %#010x: %v", pkg.ErrTransmit, addr, err)
	}
	if err := d.ctl.Receive(buf, DefaultTimeout); err != nil {
		return fmt.Errorf("%w: read %#010x: %v", pkg.ErrTransmit, addr, err)
	}
	// The chip streams reads without a busy phase, but a trailing status
	// check catches a bus left mid-transaction.
	return d.waitReady(DefaultTimeout)
}

// IsSectorErased reports whether every byte of the sector containing
// addr reads back as the erased value.
func (d *Device) IsSectorErased(addr uint32) (bool, error) {
	if err := d.checkReady(); err != nil {
		return false, err
	}
	base := SectorBase(addr)
	var buf [PageSize]byte
	for off := uint32(0); off < SectorSize; off += PageSize {
		if err := d.ReadBuffer(base+off, buf[:]); err != nil {
			return false, err
		}
		for _, b := range buf {
			if b != EraseValue {
				return false, nil
			}
		}
	}
	return true, nil
}

// SectorBase returns the base address of the 4 KiB sector containing
// addr.
func SectorBase(addr uint32) uint32 {
	return addr &^ (SectorSize - 1)
}

// BlockBase returns the base address of the 64 KiB block containing
// addr.
func BlockBase(addr uint32) uint32 {
	return addr &^ (BlockSize - 1)
}
