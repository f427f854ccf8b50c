package w25q_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal/sim"
	"github.com/ardnew/softflash/w25q"
)

func newDevice(t *testing.T) (*w25q.Device, *sim.Controller) {
	t.Helper()
	ctl := sim.New(nil)
	dev := w25q.New(ctl)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	return dev, ctl
}

func TestInitReprobesOnRepeat(t *testing.T) {
	dev, ctl := newDevice(t)
	before := ctl.Chip().Counters().IDReads
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("second Init() = %v", err)
	}
	if got := ctl.Chip().Counters().IDReads; got != before+1 {
		t.Errorf("second Init did not re-probe (ID reads %d -> %d)", before, got)
	}

	// A chip that stops answering is caught by the next bring-up.
	ctl.Disconnected = true
	if err := dev.Init(context.Background()); !errors.Is(err, pkg.ErrInit) {
		t.Errorf("Init after disconnect = %v, want ErrInit", err)
	}
}

func TestInitReportsUnknownChip(t *testing.T) {
	ctl := sim.New(nil)
	ctl.Disconnected = true
	dev := w25q.New(ctl)
	err := dev.Init(context.Background())
	if !errors.Is(err, pkg.ErrInit) {
		t.Fatalf("Init() = %v, want ErrInit", err)
	}
	// An identifier mismatch leaves the device accepting commands so
	// the bootloader can still attempt a memory-mapped boot.
	if err := dev.EraseSector(0); err != nil {
		t.Errorf("EraseSector after mismatched probe = %v, want nil", err)
	}
	if _, err := dev.EnterMemoryMapped(); err != nil {
		t.Errorf("EnterMemoryMapped after mismatched probe = %v, want nil", err)
	}
}

func TestInitControllerFailureLeavesUninitialized(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := w25q.New(sim.New(nil))
	if err := dev.Init(ctx); !errors.Is(err, pkg.ErrInit) {
		t.Fatalf("Init() with dead controller = %v, want ErrInit", err)
	}
	if err := dev.EraseSector(0); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("EraseSector after controller failure = %v, want ErrInvalidState", err)
	}
}

func TestReadID(t *testing.T) {
	dev, _ := newDevice(t)
	id, err := dev.ReadID()
	if err != nil {
		t.Fatalf("ReadID() = %v", err)
	}
	if id != w25q.JEDECID {
		t.Errorf("ReadID() = %#06x, want %#06x", id, w25q.JEDECID)
	}
}

func TestEraseWriteRead(t *testing.T) {
	dev, _ := newDevice(t)
	const addr = 0x123000
	data := []byte("the quick brown fox jumps over the lazy dog")

	if err := dev.EraseSector(addr); err != nil {
		t.Fatalf("EraseSector() = %v", err)
	}
	if err := dev.WriteBuffer(addr, data); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
	got := make([]byte, len(data))
	if err := dev.ReadBuffer(addr, got); err != nil {
		t.Fatalf("ReadBuffer() = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read back %q, want %q", got, data)
	}
}

func TestWritePageRejectsBoundaryCross(t *testing.T) {
	dev, _ := newDevice(t)
	tests := []struct {
		name string
		addr uint32
		n    int
		ok   bool
	}{
		{"full page aligned", 0x1000, 256, true},
		{"partial mid-page", 0x1080, 128, true},
		{"to exact page end", 0x10F0, 16, true},
		{"crosses boundary", 0x10F0, 17, false},
		{"oversized", 0x1000, 257, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dev.WritePage(tt.addr, make([]byte, tt.n))
			if tt.ok && err != nil {
				t.Errorf("WritePage() = %v", err)
			}
			if !tt.ok && !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Errorf("WritePage() = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestWriteBufferPageSplit(t *testing.T) {
	tests := []struct {
		name  string
		addr  uint32
		n     int
		pages int
	}{
		{"aligned single page", 0x0000, 256, 1},
		{"aligned two pages", 0x0000, 512, 2},
		{"unaligned crossing one boundary", 0x00F0, 32, 2},
		{"unaligned crossing two boundaries", 0x00F0, 300, 3},
		{"single byte", 0x0155, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, ctl := newDevice(t)
			ctl.Chip().ResetCounters()
			data := bytes.Repeat([]byte{0x5A}, tt.n)
			if err := dev.WriteBuffer(tt.addr, data); err != nil {
				t.Fatalf("WriteBuffer() = %v", err)
			}
			if got := ctl.Chip().Counters().PagePrograms; got != tt.pages {
				t.Errorf("PagePrograms = %d, want %d", got, tt.pages)
			}
			got := make([]byte, tt.n)
			if err := dev.ReadBuffer(tt.addr, got); err != nil {
				t.Fatalf("ReadBuffer() = %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("read back differs from write")
			}
		})
	}
}

func TestEraseBlock64K(t *testing.T) {
	dev, ctl := newDevice(t)
	if err := dev.WriteBuffer(0x1FFF0, []byte{0x00}); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
	if err := dev.EraseBlock64K(0x12345); err != nil {
		t.Fatalf("EraseBlock64K() = %v", err)
	}
	if got := ctl.Chip().Peek(0x1FFF0); got != w25q.EraseValue {
		t.Errorf("byte in erased block = %#02x, want erased", got)
	}
}

func TestEraseChip(t *testing.T) {
	dev, ctl := newDevice(t)
	if err := dev.WriteBuffer(0x700000, []byte{0x00, 0x01}); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
	if err := dev.EraseChip(); err != nil {
		t.Fatalf("EraseChip() = %v", err)
	}
	if got := ctl.Chip().Peek(0x700000); got != w25q.EraseValue {
		t.Errorf("byte after chip erase = %#02x, want erased", got)
	}
}

func TestIsSectorErased(t *testing.T) {
	dev, _ := newDevice(t)
	erased, err := dev.IsSectorErased(0x4000)
	if err != nil {
		t.Fatalf("IsSectorErased() = %v", err)
	}
	if !erased {
		t.Error("fresh sector reported not erased")
	}
	if err := dev.WriteBuffer(0x4FFF, []byte{0x7F}); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
	erased, err = dev.IsSectorErased(0x4000)
	if err != nil {
		t.Fatalf("IsSectorErased() = %v", err)
	}
	if erased {
		t.Error("programmed sector reported erased")
	}
}

func TestOutOfRange(t *testing.T) {
	dev, _ := newDevice(t)
	if err := dev.WriteBuffer(w25q.FlashSize-1, []byte{1, 2}); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("WriteBuffer past end = %v, want ErrOutOfRange", err)
	}
	if err := dev.ReadBuffer(w25q.FlashSize, make([]byte, 1)); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("ReadBuffer past end = %v, want ErrOutOfRange", err)
	}
}

func TestSectorAndBlockBase(t *testing.T) {
	tests := []struct {
		addr   uint32
		sector uint32
		block  uint32
	}{
		{0x00000000, 0x00000000, 0x00000000},
		{0x00000FFF, 0x00000000, 0x00000000},
		{0x00001000, 0x00001000, 0x00000000},
		{0x0001F234, 0x0001F000, 0x00010000},
		{0x01FFFFFF, 0x01FFF000, 0x01FF0000},
	}
	for _, tt := range tests {
		if got := w25q.SectorBase(tt.addr); got != tt.sector {
			t.Errorf("SectorBase(%#x) = %#x, want %#x", tt.addr, got, tt.sector)
		}
		if got := w25q.BlockBase(tt.addr); got != tt.block {
			t.Errorf("BlockBase(%#x) = %#x, want %#x", tt.addr, got, tt.block)
		}
	}
}

func TestMemoryMappedTypeState(t *testing.T) {
	dev, ctl := newDevice(t)
	secret := []byte{0xCA, 0xFE}
	if err := dev.WriteBuffer(0x8000, secret); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}

	mapped, err := dev.EnterMemoryMapped()
	if err != nil {
		t.Fatalf("EnterMemoryMapped() = %v", err)
	}
	if mapped.Base() != 0x90000000 {
		t.Errorf("Base() = %#x, want 0x90000000", mapped.Base())
	}

	// The consumed device must refuse commands.
	if err := dev.EraseSector(0); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("EraseSector while mapped = %v, want ErrInvalidState", err)
	}
	if _, err := dev.ReadID(); err == nil {
		t.Error("ReadID while mapped succeeded")
	}

	buf := make([]byte, 2)
	if _, err := mapped.ReadAt(buf, 0x8000); err != nil {
		t.Fatalf("ReadAt() = %v", err)
	}
	if !bytes.Equal(buf, secret) {
		t.Errorf("mapped read = % #02x, want % #02x", buf, secret)
	}

	fresh, err := mapped.Reset()
	if err != nil {
		t.Fatalf("Mapped.Reset() = %v", err)
	}
	if err := fresh.EraseSector(0x8000); err != nil {
		t.Errorf("EraseSector after Reset = %v", err)
	}
	if got := ctl.Chip().Peek(0x8000); got != w25q.EraseValue {
		t.Errorf("byte after post-map erase = %#02x, want erased", got)
	}
}

func TestWriteEnableWaitReady(t *testing.T) {
	dev, _ := newDevice(t)
	if err := dev.WriteEnable(); err != nil {
		t.Fatalf("WriteEnable() = %v", err)
	}
	if err := dev.WaitReady(w25q.DefaultTimeout); err != nil {
		t.Errorf("WaitReady() on idle chip = %v", err)
	}

	uninit := w25q.New(sim.New(nil))
	if err := uninit.WriteEnable(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("WriteEnable uninitialized = %v, want ErrInvalidState", err)
	}
	if err := uninit.WaitReady(w25q.DefaultTimeout); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("WaitReady uninitialized = %v, want ErrInvalidState", err)
	}
}

func TestUninitializedDeviceRejectsOperations(t *testing.T) {
	dev := w25q.New(sim.New(nil))
	if err := dev.WriteBuffer(0, []byte{1}); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("WriteBuffer uninitialized = %v, want ErrInvalidState", err)
	}
	if _, err := dev.EnterMemoryMapped(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("EnterMemoryMapped uninitialized = %v, want ErrInvalidState", err)
	}
}
