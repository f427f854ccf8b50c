package serial

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/term"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal"
)

// Frame types of the bridge protocol. Every host frame is answered
// with a single status byte (0 = ok), followed by payload for the
// receive and map-read frames.
const (
	frameIssue    = 0x01
	frameTransmit = 0x02
	frameReceive  = 0x03
	frameMap      = 0x04
	frameUnmap    = 0x05
	frameMapRead  = 0x06
)

// statusOK is the bridge's success status byte.
const statusOK = 0x00

// maxChunk bounds a single map-read frame; longer reads are split.
const maxChunk = 4096

// DefaultSpeed is the serial line rate of the bridge firmware.
const DefaultSpeed = 115200

// Port is the byte stream carrying bridge frames. A hardware port is
// opened with Open; tests substitute an in-memory pipe.
type Port io.ReadWriteCloser

// Controller speaks the bridge protocol to firmware that relays each
// QSPI transaction to the chip, giving host tools the same transport
// port the on-target driver uses.
type Controller struct {
	mu     sync.Mutex
	port   Port
	reader *bufio.Reader
	mapped bool
}

var _ hal.Controller = (*Controller)(nil)

// Open connects to bridge firmware on the given tty device file.
func Open(tty string) (*Controller, error) {
	t, err := term.Open(tty, term.Speed(DefaultSpeed), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("unable to open serial port: %v", err)
	}
	return NewController(t), nil
}

// NewController wraps an already-open port.
func NewController(port Port) *Controller {
	return &Controller{port: port, reader: bufio.NewReader(port)}
}

// Close shuts down the port.
func (c *Controller) Close() error {
	return c.port.Close()
}

// Init is satisfied by the bridge firmware having booted; opening the
// port is the whole bring-up on the host side.
func (c *Controller) Init(ctx context.Context) error {
	return ctx.Err()
}

func (c *Controller) send(frame []byte) error {
	n, err := c.port.Write(frame)
	if err != nil {
		return fmt.Errorf("%w: write: %v", pkg.ErrProtocol, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: short write [%d != %d]", pkg.ErrProtocol, n, len(frame))
	}
	return nil
}

// status reads the bridge's one-byte reply.
func (c *Controller) status() error {
	b, err := c.reader.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: no status byte: %v", pkg.ErrProtocol, err)
	}
	if b != statusOK {
		return fmt.Errorf("%w: bridge status %#02x", pkg.ErrBus, b)
	}
	return nil
}

// Issue relays the command phase to the bridge.
func (c *Controller) Issue(cmd *hal.Command, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mapped {
		return fmt.Errorf("%w: command issued while memory-mapped", pkg.ErrInvalidState)
	}
	frame := make([]byte, 15)
	frame[0] = frameIssue
	frame[1] = cmd.Instruction
	frame[2] = byte(cmd.AddressMode)
	frame[3] = byte(cmd.AddressSize)
	binary.LittleEndian.PutUint32(frame[4:], cmd.Address)
	frame[8] = cmd.DummyCycles
	frame[9] = byte(cmd.DataMode)
	frame[10] = byte(cmd.Direction)
	binary.LittleEndian.PutUint32(frame[11:], cmd.DataLen)
	if err := c.send(frame); err != nil {
		return err
	}
	return c.status()
}

// Transmit relays the data-out phase. The data phase of a command
// travels whole, matching the byte count the command declared.
func (c *Controller) Transmit(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := make([]byte, 5, 5+len(data))
	frame[0] = frameTransmit
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(data)))
	if err := c.send(append(frame, data...)); err != nil {
		return err
	}
	return c.status()
}

// Receive relays the data-in phase.
func (c *Controller) Receive(buf []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var frame [5]byte
	frame[0] = frameReceive
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(buf)))
	if err := c.send(frame[:]); err != nil {
		return err
	}
	if err := c.status(); err != nil {
		return err
	}
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return fmt.Errorf("%w: short read: %v", pkg.ErrProtocol, err)
	}
	return nil
}

// AutoPoll polls on the host side: the status-read command is reissued
// over the bridge until the masked byte matches or the timeout expires.
func (c *Controller) AutoPoll(cmd *hal.Command, cfg *hal.AutoPoll, timeout time.Duration) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	var status [1]byte
	for {
		if err := c.Issue(cmd, timeout); err != nil {
			return err
		}
		if err := c.Receive(status[:], timeout); err != nil {
			return err
		}
		if status[0]&cfg.Mask == cfg.Match {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: status %#02x never matched mask %#02x match %#02x",
				pkg.ErrTimeout, status[0], cfg.Mask, cfg.Match)
		}
		time.Sleep(interval)
	}
}

// MemoryMap switches the bridge to mapped mode and returns a window
// whose reads are served by map-read frames.
func (c *Controller) MemoryMap(cmd *hal.Command) (hal.Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mapped {
		return nil, fmt.Errorf("%w: already memory-mapped", pkg.ErrMemoryMapped)
	}
	if err := c.send([]byte{frameMap}); err != nil {
		return nil, err
	}
	if err := c.status(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrMemoryMapped, err)
	}
	c.mapped = true
	return &window{ctl: c}, nil
}

// Reset leaves mapped mode on the bridge.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mapped {
		return nil
	}
	if err := c.send([]byte{frameUnmap}); err != nil {
		return err
	}
	if err := c.status(); err != nil {
		return err
	}
	c.mapped = false
	return nil
}

// mapRead fetches n bytes from the mapped window at off.
func (c *Controller) mapRead(buf []byte, off uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mapped {
		return fmt.Errorf("%w: not memory-mapped", pkg.ErrInvalidState)
	}
	for len(buf) > 0 {
		n := len(buf)
		if n > maxChunk {
			n = maxChunk
		}
		var frame [9]byte
		frame[0] = frameMapRead
		binary.LittleEndian.PutUint32(frame[1:], off)
		binary.LittleEndian.PutUint32(frame[5:], uint32(n))
		if err := c.send(frame[:]); err != nil {
			return err
		}
		if err := c.status(); err != nil {
			return err
		}
		if _, err := io.ReadFull(c.reader, buf[:n]); err != nil {
			return fmt.Errorf("%w: short read: %v", pkg.ErrProtocol, err)
		}
		buf = buf[n:]
		off += uint32(n)
	}
	return nil
}
