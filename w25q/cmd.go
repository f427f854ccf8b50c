package w25q

import "github.com/ardnew/softflash/qspi/hal"

// W25Q256 instruction bytes. All addressed commands use the 4-byte
// address variants so the full 32 MiB array is reachable without bank
// switching.
const (
	cmdEnableReset      = 0x66
	cmdResetDevice      = 0x99
	cmdReadJEDECID      = 0x9F
	cmdWriteEnable      = 0x06
	cmdReadStatus1      = 0x05
	cmdSectorErase4B    = 0x21
	cmdBlockErase64K4B  = 0xDC
	cmdChipErase        = 0xC7
	cmdQuadPageProgram  = 0x34
	cmdFastReadQuadIO4B = 0xEC
)

// Status register 1 bits.
const (
	statusBusy = 1 << 0
	statusWEL  = 1 << 1
)

// Dummy cycles required by fast read quad I/O at the supported clock.
const fastReadDummies = 6

func bareCommand(instruction byte) *hal.Command {
	return &hal.Command{Instruction: instruction}
}

func eraseCommand(instruction byte, addr uint32) *hal.Command {
	return &hal.Command{
		Instruction: instruction,
		AddressMode: hal.Lines1,
		AddressSize: hal.Address32,
		Address:     addr,
	}
}

func statusCommand() *hal.Command {
	return &hal.Command{
		Instruction: cmdReadStatus1,
		DataMode:    hal.Lines1,
		Direction:   hal.DirectionIn,
		DataLen:     1,
	}
}

func jedecCommand() *hal.Command {
	return &hal.Command{
		Instruction: cmdReadJEDECID,
		DataMode:    hal.Lines1,
		Direction:   hal.DirectionIn,
		DataLen:     3,
	}
}

func programCommand(addr uint32, n int) *hal.Command {
	return &hal.Command{
		Instruction: cmdQuadPageProgram,
		AddressMode: hal.Lines1,
		AddressSize: hal.Address32,
		Address:     addr,
		DataMode:    hal.Lines4,
		Direction:   hal.DirectionOut,
		DataLen:     uint32(n),
	}
}

func readCommand(addr uint32, n int) *hal.Command {
	return &hal.Command{
		Instruction: cmdFastReadQuadIO4B,
		AddressMode: hal.Lines4,
		AddressSize: hal.Address32,
		Address:     addr,
		DummyCycles: fastReadDummies,
		DataMode:    hal.Lines4,
		Direction:   hal.DirectionIn,
		DataLen:     uint32(n),
	}
}
