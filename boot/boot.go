package boot

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/w25q"
)

// System abstracts the core-level operations the bootloader performs
// before handing control to the application. A hardware implementation
// maps these onto the system control block; tests substitute a fake
// that records the call order.
type System interface {
	// DisableInstructionCache turns off the instruction cache.
	DisableInstructionCache()

	// DisableDataCache turns off (and flushes) the data cache.
	DisableDataCache()

	// DisableSysTick halts the system tick timer and clears its state.
	DisableSysTick()

	// DisableInterrupts masks all maskable interrupts.
	DisableInterrupts()

	// SetMainStack loads the main stack pointer.
	SetMainStack(sp uint32)

	// Jump transfers control to the reset handler at pc. On hardware it
	// does not return.
	Jump(pc uint32)
}

// ValidStackPointer reports whether sp plausibly points into RAM: its
// high 16 bits must select the DTCM, AXI SRAM, or SRAM1-3 region.
func ValidStackPointer(sp uint32) bool {
	switch sp & 0xFFFF0000 {
	case 0x20000000, 0x24000000, 0x30000000:
		return true
	}
	return false
}

// Bootloader brings the external flash into memory-mapped mode and
// transfers control to the application image at its base.
type Bootloader struct {
	dev *w25q.Device
	sys System
}

// New returns a bootloader over the given flash device and system port.
func New(dev *w25q.Device, sys System) *Bootloader {
	return &Bootloader{dev: dev, sys: sys}
}

// Boot runs the boot sequence: initialize the flash, enter
// memory-mapped mode, sanity-check the application's initial stack
// pointer, quiesce the core, then set the stack pointer and jump to the
// application's reset handler.
//
// An implausible stack pointer is a warning, not a failure: the jump is
// attempted anyway so the operator can decide. On hardware Boot does
// not return once the jump succeeds; a return therefore indicates the
// application handed control back, which is reported as an error.
func (b *Bootloader) Boot(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentBoot, "preparing to boot external flash application")

	// A failed probe is a warning: the flash may still be readable, and
	// the operator is given the chance to intervene.
	if err := b.dev.Init(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentBoot, "flash probe failed, continuing", "error", err)
	}

	mapped, err := b.dev.EnterMemoryMapped()
	if err != nil {
		return fmt.Errorf("memory-mapped mode: %w", err)
	}
	base := mapped.Base()

	var vectors [8]byte
	if _, err := mapped.ReadAt(vectors[:], 0); err != nil {
		return fmt.Errorf("read vector table: %w", err)
	}
	sp := binary.LittleEndian.Uint32(vectors[0:])
	pc := binary.LittleEndian.Uint32(vectors[4:])

	if !ValidStackPointer(sp) {
		pkg.LogWarn(pkg.ComponentBoot, "implausible initial stack pointer",
			"addr", fmt.Sprintf("%#010x", base),
			"sp", fmt.Sprintf("%#010x", sp))
		pkg.LogWarn(pkg.ComponentBoot, "application may be absent from external flash")
	}

	b.sys.DisableInstructionCache()
	b.sys.DisableDataCache()
	b.sys.DisableSysTick()
	b.sys.DisableInterrupts()

	pkg.LogInfo(pkg.ComponentBoot, "jumping to application",
		"pc", fmt.Sprintf("%#010x", pc),
		"sp", fmt.Sprintf("%#010x", sp))

	b.sys.SetMainStack(sp)
	b.sys.Jump(pc)

	pkg.LogError(pkg.ComponentBoot, "application returned control")
	return fmt.Errorf("%w: application returned control", pkg.ErrInvalidState)
}
