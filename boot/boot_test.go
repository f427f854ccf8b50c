package boot_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/ardnew/softflash/boot"
	"github.com/ardnew/softflash/qspi/hal/sim"
	"github.com/ardnew/softflash/w25q"
)

// fakeSystem records the quiesce-and-jump sequence.
type fakeSystem struct {
	calls []string
	sp    uint32
	pc    uint32
}

func (s *fakeSystem) DisableInstructionCache() { s.calls = append(s.calls, "icache") }
func (s *fakeSystem) DisableDataCache()        { s.calls = append(s.calls, "dcache") }
func (s *fakeSystem) DisableSysTick()          { s.calls = append(s.calls, "systick") }
func (s *fakeSystem) DisableInterrupts()       { s.calls = append(s.calls, "irq") }
func (s *fakeSystem) SetMainStack(sp uint32)   { s.calls = append(s.calls, "msp"); s.sp = sp }
func (s *fakeSystem) Jump(pc uint32)           { s.calls = append(s.calls, "jump"); s.pc = pc }

// installApplication writes a minimal vector table at the flash base.
func installApplication(t *testing.T, ctl *sim.Controller, sp, pc uint32) {
	t.Helper()
	var vectors [8]byte
	binary.LittleEndian.PutUint32(vectors[0:], sp)
	binary.LittleEndian.PutUint32(vectors[4:], pc)
	dev := w25q.New(ctl)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	if err := dev.WriteBuffer(0, vectors[:]); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
}

func TestBootSequence(t *testing.T) {
	ctl := sim.New(nil)
	installApplication(t, ctl, 0x24080000, 0x90000409)

	sys := &fakeSystem{}
	b := boot.New(w25q.New(ctl), sys)
	// Boot always reports an error on a host, where Jump returns.
	if err := b.Boot(context.Background()); err == nil {
		t.Fatal("Boot() = nil, want error after Jump returned")
	}

	want := []string{"icache", "dcache", "systick", "irq", "msp", "jump"}
	if len(sys.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", sys.calls, want)
	}
	for i, call := range want {
		if sys.calls[i] != call {
			t.Fatalf("call %d = %q, want %q (sequence %v)", i, sys.calls[i], call, sys.calls)
		}
	}
	if sys.sp != 0x24080000 {
		t.Errorf("MSP = %#010x, want 0x24080000", sys.sp)
	}
	if sys.pc != 0x90000409 {
		t.Errorf("jump target = %#010x, want 0x90000409", sys.pc)
	}
}

func TestBootContinuesAfterFailedProbe(t *testing.T) {
	ctl := sim.New(nil)
	// The chip answers no identifier, so the probe fails; the boot
	// sequence must still map the flash, quiesce, and jump.
	ctl.Disconnected = true
	sys := &fakeSystem{}
	b := boot.New(w25q.New(ctl), sys)
	if err := b.Boot(context.Background()); err == nil {
		t.Fatal("Boot() = nil, want error after Jump returned")
	}

	want := []string{"icache", "dcache", "systick", "irq", "msp", "jump"}
	if len(sys.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", sys.calls, want)
	}
	for i, call := range want {
		if sys.calls[i] != call {
			t.Fatalf("call %d = %q, want %q (sequence %v)", i, sys.calls[i], call, sys.calls)
		}
	}
}

func TestBootInvalidStackPointerStillJumps(t *testing.T) {
	ctl := sim.New(nil)
	// An erased vector table reads as 0xFFFFFFFF, far outside RAM.
	sys := &fakeSystem{}
	b := boot.New(w25q.New(ctl), sys)
	if err := b.Boot(context.Background()); err == nil {
		t.Fatal("Boot() = nil, want error after Jump returned")
	}
	jumped := false
	for _, call := range sys.calls {
		if call == "jump" {
			jumped = true
		}
	}
	if !jumped {
		t.Error("boot with invalid stack pointer did not attempt the jump")
	}
	if sys.sp != 0xFFFFFFFF {
		t.Errorf("MSP = %#010x, want 0xFFFFFFFF", sys.sp)
	}
}

func TestValidStackPointer(t *testing.T) {
	tests := []struct {
		sp    uint32
		valid bool
	}{
		{0x20000000, true},
		{0x20008000, true},
		{0x24080000, true},
		{0x30004000, true},
		{0x20010000, false}, // high 16 bits are 0x2001
		{0x00000000, false},
		{0x90000000, false},
		{0xFFFFFFFF, false},
	}
	for _, tt := range tests {
		if got := boot.ValidStackPointer(tt.sp); got != tt.valid {
			t.Errorf("ValidStackPointer(%#010x) = %v, want %v", tt.sp, got, tt.valid)
		}
	}
}
