package w25q

import (
	"fmt"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal"
)

// Mapped is a W25Q256 in memory-mapped read mode. While mapped, the
// array is readable through ReadAt but no commands can be issued; the
// only way back to command mode is Reset, which returns a fresh
// writable Device.
type Mapped struct {
	ctl hal.Controller
	win hal.Window
}

// EnterMemoryMapped resets the chip to a known state, then switches the
// controller to memory-mapped reads. On success the Device is consumed:
// further calls on it fail with an invalid-state error, and the
// returned Mapped value owns the bus.
func (d *Device) EnterMemoryMapped() (*Mapped, error) {
	if err := d.checkReady(); err != nil {
		return nil, err
	}
	// A chip left mid-operation would serve garbage through the map, so
	// reset it first.
	if err := d.Reset(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrMemoryMapped, err)
	}
	win, err := d.ctl.MemoryMap(readCommand(0, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrMemoryMapped, err)
	}
	d.state = stateMapped
	pkg.LogInfo(pkg.ComponentFlash, "entered memory-mapped mode",
		"base", fmt.Sprintf("%#010x", win.Base()))
	return &Mapped{ctl: d.ctl, win: win}, nil
}

// ReadAt reads from the mapped array at the given flash offset.
func (m *Mapped) ReadAt(p []byte, off int64) (int, error) {
	return m.win.ReadAt(p, off)
}

// Base returns the host-view base address of the mapped window.
func (m *Mapped) Base() uint32 {
	return m.win.Base()
}

// Size returns the mapped window length in bytes.
func (m *Mapped) Size() int64 {
	return m.win.Size()
}

// Reset leaves memory-mapped mode and returns a writable Device. The
// chip is reset and its identifier re-verified, so the returned device
// is ready for commands without a further Init.
func (m *Mapped) Reset() (*Device, error) {
	if err := m.ctl.Reset(); err != nil {
		return nil, fmt.Errorf("%w: leave memory-mapped mode: %v", pkg.ErrMemoryMapped, err)
	}
	d := &Device{ctl: m.ctl, state: stateReady}
	if err := d.Reset(); err != nil {
		d.state = stateUninitialized
		return nil, err
	}
	id, err := d.ReadID()
	if err != nil {
		d.state = stateUninitialized
		return nil, err
	}
	if id != JEDECID {
		d.state = stateUninitialized
		return nil, fmt.Errorf("%w: JEDEC identifier %#06x", pkg.ErrInit, id)
	}
	pkg.LogInfo(pkg.ComponentFlash, "left memory-mapped mode")
	return d, nil
}
