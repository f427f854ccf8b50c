package flashutil

import (
	"fmt"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/w25q"
)

// Partition names one region of the 32 MiB flash.
type Partition struct {
	Name  string
	Start uint32 // Offset from the device base, sector-aligned
	Size  uint32 // Length in bytes, sector-aligned
}

// End returns the first address past the partition.
func (p Partition) End() uint32 {
	return p.Start + p.Size
}

// Contains reports whether addr falls inside the partition.
func (p Partition) Contains(addr uint32) bool {
	return addr >= p.Start && addr < p.End()
}

// Table is an ordered set of partitions over the flash address space.
type Table []Partition

// DefaultTable is the build-time layout of the external flash. The
// final 64 KiB of the device is left unassigned for the health
// self-test sector.
func DefaultTable() Table {
	return Table{
		{Name: "bootloader", Start: 0x00000000, Size: 64 * 1024},
		{Name: "application", Start: 0x00010000, Size: 960 * 1024},
		{Name: "config", Start: 0x00100000, Size: 1024 * 1024},
		{Name: "userdata", Start: 0x00200000, Size: 2 * 1024 * 1024},
		{Name: "filesystem", Start: 0x00400000, Size: 12 * 1024 * 1024},
		{Name: "datalog", Start: 0x01000000, Size: 16*1024*1024 - 64*1024},
	}
}

// Validate checks the table invariants: every boundary sector-aligned,
// starts monotone non-decreasing, no two partitions overlapping, and
// nothing extending past the end of the device.
func (t Table) Validate() error {
	for i, p := range t {
		if p.Name == "" {
			return fmt.Errorf("%w: partition %d has no name", pkg.ErrInvalidParameter, i)
		}
		if p.Start%w25q.SectorSize != 0 || p.Size%w25q.SectorSize != 0 {
			return fmt.Errorf("%w: partition %q is not sector-aligned",
				pkg.ErrInvalidParameter, p.Name)
		}
		if p.Size == 0 {
			return fmt.Errorf("%w: partition %q is empty", pkg.ErrInvalidParameter, p.Name)
		}
		if uint64(p.Start)+uint64(p.Size) > w25q.FlashSize {
			return fmt.Errorf("%w: partition %q extends past end of device",
				pkg.ErrOutOfRange, p.Name)
		}
		if i > 0 {
			prev := t[i-1]
			if p.Start < prev.Start {
				return fmt.Errorf("%w: partition %q starts before %q",
					pkg.ErrInvalidParameter, p.Name, prev.Name)
			}
			if p.Start < prev.End() {
				return fmt.Errorf("%w: partition %q overlaps %q",
					pkg.ErrInvalidParameter, p.Name, prev.Name)
			}
		}
	}
	return nil
}

// Lookup returns the named partition.
func (t Table) Lookup(name string) (Partition, error) {
	for _, p := range t {
		if p.Name == name {
			return p, nil
		}
	}
	return Partition{}, fmt.Errorf("%w: no partition %q", pkg.ErrInvalidParameter, name)
}

// At returns the partition containing addr.
func (t Table) At(addr uint32) (Partition, error) {
	for _, p := range t {
		if p.Contains(addr) {
			return p, nil
		}
	}
	return Partition{}, fmt.Errorf("%w: address %#010x is in no partition",
		pkg.ErrOutOfRange, addr)
}
