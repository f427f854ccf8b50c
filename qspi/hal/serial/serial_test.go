package serial_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal"
	"github.com/ardnew/softflash/qspi/hal/serial"
	"github.com/ardnew/softflash/qspi/hal/sim"
	"github.com/ardnew/softflash/w25q"
)

// serveBridge emulates the target-side bridge firmware: it decodes
// frames from port and relays them to a simulated controller.
func serveBridge(t *testing.T, port net.Conn, ctl *sim.Controller) {
	t.Helper()
	if err := ctl.Init(context.Background()); err != nil {
		t.Errorf("bridge controller Init() = %v", err)
		return
	}
	r := bufio.NewReader(port)
	var win hal.Window
	reply := func(err error) bool {
		status := byte(0)
		if err != nil {
			status = 1
		}
		_, werr := port.Write([]byte{status})
		return werr == nil
	}
	for {
		kind, err := r.ReadByte()
		if err != nil {
			return
		}
		switch kind {
		case 0x01: // issue
			var raw [14]byte
			if _, err := io.ReadFull(r, raw[:]); err != nil {
				return
			}
			cmd := &hal.Command{
				Instruction: raw[0],
				AddressMode: hal.Lines(raw[1]),
				AddressSize: hal.AddressSize(raw[2]),
				Address:     binary.LittleEndian.Uint32(raw[3:]),
				DummyCycles: raw[7],
				DataMode:    hal.Lines(raw[8]),
				Direction:   hal.Direction(raw[9]),
				DataLen:     binary.LittleEndian.Uint32(raw[10:]),
			}
			if !reply(ctl.Issue(cmd, time.Second)) {
				return
			}
		case 0x02: // transmit
			var hdr [4]byte
			if _, err := io.ReadFull(r, hdr[:]); err != nil {
				return
			}
			data := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
			if _, err := io.ReadFull(r, data); err != nil {
				return
			}
			if !reply(ctl.Transmit(data, time.Second)) {
				return
			}
		case 0x03: // receive
			var hdr [4]byte
			if _, err := io.ReadFull(r, hdr[:]); err != nil {
				return
			}
			buf := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
			err := ctl.Receive(buf, time.Second)
			if !reply(err) {
				return
			}
			if err == nil {
				if _, err := port.Write(buf); err != nil {
					return
				}
			}
		case 0x04: // map
			w, err := ctl.MemoryMap(&hal.Command{
				Instruction: 0xEC,
				AddressMode: hal.Lines4,
				AddressSize: hal.Address32,
				DummyCycles: 6,
				DataMode:    hal.Lines4,
				Direction:   hal.DirectionIn,
			})
			if err == nil {
				win = w
			}
			if !reply(err) {
				return
			}
		case 0x05: // unmap
			win = nil
			if !reply(ctl.Reset()) {
				return
			}
		case 0x06: // map read
			var hdr [8]byte
			if _, err := io.ReadFull(r, hdr[:]); err != nil {
				return
			}
			off := binary.LittleEndian.Uint32(hdr[:])
			buf := make([]byte, binary.LittleEndian.Uint32(hdr[4:]))
			var err error
			if win == nil {
				err = pkg.ErrInvalidState
			} else {
				_, err = win.ReadAt(buf, int64(off))
			}
			if !reply(err) {
				return
			}
			if err == nil {
				if _, err := port.Write(buf); err != nil {
					return
				}
			}
		default:
			t.Errorf("bridge received unknown frame %#02x", kind)
			return
		}
	}
}

func newBridgedDevice(t *testing.T) (*w25q.Device, *sim.Controller) {
	t.Helper()
	host, target := net.Pipe()
	sc := sim.New(nil)
	go serveBridge(t, target, sc)
	ctl := serial.NewController(host)
	t.Cleanup(func() { ctl.Close() })
	dev := w25q.New(ctl)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init() over bridge = %v", err)
	}
	return dev, sc
}

func TestBridgedEraseWriteRead(t *testing.T) {
	dev, _ := newBridgedDevice(t)
	data := []byte("bridged write")
	if err := dev.EraseSector(0x10000); err != nil {
		t.Fatalf("EraseSector() = %v", err)
	}
	if err := dev.WriteBuffer(0x10000, data); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
	got := make([]byte, len(data))
	if err := dev.ReadBuffer(0x10000, got); err != nil {
		t.Fatalf("ReadBuffer() = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read back %q, want %q", got, data)
	}
}

func TestBridgedLargeTransfer(t *testing.T) {
	dev, _ := newBridgedDevice(t)
	// Larger than one bridge chunk, exercising the split paths.
	data := make([]byte, 10_000)
	for i := range data {
		data[i] = byte(i * 13)
	}
	if err := dev.WriteBuffer(0x20000, data); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
	got := make([]byte, len(data))
	if err := dev.ReadBuffer(0x20000, got); err != nil {
		t.Fatalf("ReadBuffer() = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("large transfer read back differs")
	}
}

func TestBridgedMemoryMap(t *testing.T) {
	dev, _ := newBridgedDevice(t)
	if err := dev.WriteBuffer(0x30000, []byte{0xAB, 0xCD}); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
	mapped, err := dev.EnterMemoryMapped()
	if err != nil {
		t.Fatalf("EnterMemoryMapped() = %v", err)
	}
	if mapped.Base() != hal.MemoryMappedBase {
		t.Errorf("Base() = %#x", mapped.Base())
	}
	buf := make([]byte, 2)
	if _, err := mapped.ReadAt(buf, 0x30000); err != nil {
		t.Fatalf("ReadAt() = %v", err)
	}
	if !bytes.Equal(buf, []byte{0xAB, 0xCD}) {
		t.Errorf("mapped read = % #02x", buf)
	}
	fresh, err := mapped.Reset()
	if err != nil {
		t.Fatalf("Mapped.Reset() = %v", err)
	}
	if err := fresh.EraseSector(0x30000); err != nil {
		t.Errorf("EraseSector after Reset = %v", err)
	}
}

// shortPort truncates every write by one byte without reporting an
// error, as a struggling tty driver might.
type shortPort struct{}

func (shortPort) Write(p []byte) (int, error) { return len(p) - 1, nil }
func (shortPort) Read(p []byte) (int, error)  { return 0, io.EOF }
func (shortPort) Close() error                { return nil }

func TestShortWriteReported(t *testing.T) {
	ctl := serial.NewController(shortPort{})
	defer ctl.Close()
	err := ctl.Issue(&hal.Command{Instruction: 0x06}, time.Second)
	if !errors.Is(err, pkg.ErrProtocol) {
		t.Errorf("Issue over truncating port = %v, want ErrProtocol", err)
	}
}

func TestBridgedInitDisconnected(t *testing.T) {
	host, target := net.Pipe()
	sc := sim.New(nil)
	sc.Disconnected = true
	go serveBridge(t, target, sc)
	ctl := serial.NewController(host)
	defer ctl.Close()
	err := w25q.New(ctl).Init(context.Background())
	if !errors.Is(err, pkg.ErrInit) {
		t.Errorf("Init() with no chip = %v, want ErrInit", err)
	}
}
