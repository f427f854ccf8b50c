package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/w25q"
)

// AddressMask strips the host's memory-mapped view from an address:
// host tools pass absolute addresses like 0x90001000, and the low 28
// bits are the on-chip address.
const AddressMask = 0x0FFFFFFF

// ReadFailureFlag marks a Verify return value as a read error rather
// than a data mismatch.
const ReadFailureFlag uint64 = 1 << 56

// MassEraseTimeout is the completion budget for a host-driven chip
// erase. It is tighter than the driver's own ceiling because the host
// programmer enforces its own session deadline.
const MassEraseTimeout = 200 * time.Second

const verifyChunkSize = 256

// Core implements the programming operations behind the loader entry
// points, with ordinary error returns. The integer-convention frontend
// lives in [API].
type Core struct {
	dev              *w25q.Device
	massEraseTimeout time.Duration
}

// Option configures a Core.
type Option func(*Core)

// WithMassEraseTimeout overrides the chip-erase completion budget.
func WithMassEraseTimeout(timeout time.Duration) Option {
	return func(c *Core) { c.massEraseTimeout = timeout }
}

// NewCore returns a Core driving the given device.
func NewCore(dev *w25q.Device, opts ...Option) *Core {
	c := &Core{dev: dev, massEraseTimeout: MassEraseTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init brings up the controller and flash and verifies the JEDEC
// identifier. Safe to call repeatedly.
func (c *Core) Init(ctx context.Context) error {
	return c.dev.Init(ctx)
}

// Write programs data at addr. The address may be host-view absolute;
// it is masked to 28 bits. A zero-length write is a success no-op. The
// target range must already be erased.
func (c *Core) Write(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return c.dev.WriteBuffer(addr&AddressMask, data)
}

// Read fills buf from addr. The address is masked to 28 bits.
func (c *Core) Read(addr uint32, buf []byte) error {
	return c.dev.ReadBuffer(addr&AddressMask, buf)
}

// SectorErase erases every 4 KiB sector in [start, end) after aligning
// start down to a sector boundary. Both addresses are masked to 28
// bits. An empty range erases nothing and succeeds.
func (c *Core) SectorErase(start, end uint32) error {
	start &= AddressMask
	end &= AddressMask
	for addr := w25q.SectorBase(start); addr < end; addr += w25q.SectorSize {
		if err := c.dev.EraseSector(addr); err != nil {
			return fmt.Errorf("sector %#010x: %w", addr, err)
		}
	}
	return nil
}

// MassErase erases the whole chip within the configured budget.
func (c *Core) MassErase() error {
	return c.dev.EraseChipWithin(c.massEraseTimeout)
}

// Verify compares the flash contents starting at the host-view address
// memAddr against want, in 256-byte chunks. The return value follows
// the host programmer's convention:
//
//   - all bytes equal: memAddr + len(want)
//   - read failure in some chunk: (memAddr + chunk offset) with
//     ReadFailureFlag set
//   - first mismatch: the absolute address of the differing byte
//
// Calling Verify twice with unchanged inputs returns identical values.
func (c *Core) Verify(memAddr uint32, want []byte) uint64 {
	flashAddr := memAddr & AddressMask
	var chunk [verifyChunkSize]byte
	for off := 0; off < len(want); off += verifyChunkSize {
		n := len(want) - off
		if n > verifyChunkSize {
			n = verifyChunkSize
		}
		if err := c.dev.ReadBuffer(flashAddr+uint32(off), chunk[:n]); err != nil {
			pkg.LogError(pkg.ComponentLoader, "verify read failed",
				"addr", fmt.Sprintf("%#010x", memAddr+uint32(off)), "error", err)
			return (uint64(memAddr) + uint64(off)) | ReadFailureFlag
		}
		for i := 0; i < n; i++ {
			if chunk[i] != want[off+i] {
				return uint64(memAddr) + uint64(off+i)
			}
		}
	}
	return uint64(memAddr) + uint64(len(want))
}

// CheckSum computes a wrap-around byte sum over size bytes of flash
// starting at addr (masked to 28 bits), seeded with initial. It is a
// cheap post-program integrity hint, not a cryptographic check.
func (c *Core) CheckSum(addr, size, initial uint32) (uint32, error) {
	flashAddr := addr & AddressMask
	sum := initial
	var chunk [verifyChunkSize]byte
	for off := uint32(0); off < size; off += verifyChunkSize {
		n := size - off
		if n > verifyChunkSize {
			n = verifyChunkSize
		}
		if err := c.dev.ReadBuffer(flashAddr+off, chunk[:n]); err != nil {
			return 0, err
		}
		for _, b := range chunk[:n] {
			sum += uint32(b)
		}
	}
	return sum, nil
}
