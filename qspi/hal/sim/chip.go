package sim

// W25Q256 geometry and identity.
const (
	FlashSize  = 32 * 1024 * 1024 // 32 MiB
	PageSize   = 256              // Programming page
	SectorSize = 4 * 1024         // Minimum erase unit
	BlockSize  = 64 * 1024        // Bulk erase unit
	EraseValue = 0xFF             // Erased byte value
)

// JEDEC identifier bytes returned by the 0x9F command, MSB first.
var jedecID = [3]byte{0xEF, 0x40, 0x19}

// Status register 1 bits.
const (
	statusBusy = 1 << 0 // Write in progress
	statusWEL  = 1 << 1 // Write enable latch
)

// Counters records the wire-level operations the chip has performed.
// Tests use it to assert transaction budgets (e.g. page-split bounds).
type Counters struct {
	PagePrograms int
	SectorErases int
	BlockErases  int
	ChipErases   int
	Reads        int
	IDReads      int
	Resets       int
}

// Chip is a behavioral model of a W25Q256 quad-SPI NOR flash. It
// enforces the device's programming rules: programming only clears bits
// (1 → 0), every program or erase requires the write-enable latch, and
// a program wraps inside its 256-byte page rather than crossing into
// the next one.
type Chip struct {
	mem    []byte
	status byte

	resetArmed bool // Enable-reset (0x66) seen, awaiting 0x99

	// busyPolls is the number of status reads that still report BUSY
	// before the current operation is considered complete. The model
	// finishes operations synchronously, so this is normally zero; tests
	// raise it to exercise auto-poll timeouts.
	busyPolls int

	ops Counters
}

// NewChip returns a chip in the erased state.
func NewChip() *Chip {
	c := &Chip{mem: make([]byte, FlashSize)}
	for i := range c.mem {
		c.mem[i] = EraseValue
	}
	return c
}

// Counters returns a snapshot of the operation counters.
func (c *Chip) Counters() Counters {
	return c.ops
}

// ResetCounters zeroes the operation counters.
func (c *Chip) ResetCounters() {
	c.ops = Counters{}
}

// SetBusyPolls makes the next n status reads report BUSY. Used by tests
// to exercise bounded-wait expiry.
func (c *Chip) SetBusyPolls(n int) {
	c.busyPolls = n
}

// Peek returns the byte stored at addr, bypassing the bus.
func (c *Chip) Peek(addr uint32) byte {
	return c.mem[addr]
}

// Poke overwrites the byte at addr, bypassing the bus and the
// programming rules. Tests use it to tamper with stored data.
func (c *Chip) Poke(addr uint32, value byte) {
	c.mem[addr] = value
}

func (c *Chip) readStatus() byte {
	if c.busyPolls > 0 {
		c.busyPolls--
		return c.status | statusBusy
	}
	return c.status
}

func (c *Chip) writeEnable() {
	c.status |= statusWEL
}

// armReset records the enable-reset command. The device ignores a
// reset-device command not preceded by enable-reset.
func (c *Chip) armReset() {
	c.resetArmed = true
}

func (c *Chip) reset() {
	if !c.resetArmed {
		return
	}
	c.resetArmed = false
	c.status = 0
	c.busyPolls = 0
	c.ops.Resets++
}

// program writes data at addr, wrapping inside the 256-byte page the
// way the real part does. Programming is an AND operation: bits can
// only be cleared. Without WEL the command is silently ignored.
func (c *Chip) program(addr uint32, data []byte) {
	if c.status&statusWEL == 0 {
		return
	}
	c.status &^= statusWEL
	c.ops.PagePrograms++

	pageBase := addr &^ uint32(PageSize-1)
	offset := addr - pageBase
	for i, b := range data {
		pos := pageBase + (offset+uint32(i))%PageSize
		c.mem[pos] &= b
	}
}

func (c *Chip) eraseSector(addr uint32) {
	if c.status&statusWEL == 0 {
		return
	}
	c.status &^= statusWEL
	c.ops.SectorErases++
	c.eraseRange(addr&^uint32(SectorSize-1), SectorSize)
}

func (c *Chip) eraseBlock(addr uint32) {
	if c.status&statusWEL == 0 {
		return
	}
	c.status &^= statusWEL
	c.ops.BlockErases++
	c.eraseRange(addr&^uint32(BlockSize-1), BlockSize)
}

func (c *Chip) eraseChip() {
	if c.status&statusWEL == 0 {
		return
	}
	c.status &^= statusWEL
	c.ops.ChipErases++
	c.eraseRange(0, FlashSize)
}

func (c *Chip) eraseRange(addr uint32, n int) {
	for i := 0; i < n; i++ {
		c.mem[addr+uint32(i)] = EraseValue
	}
}

func (c *Chip) read(addr uint32, buf []byte) {
	c.ops.Reads++
	copy(buf, c.mem[addr:addr+uint32(len(buf))])
}
