// Package hal defines the Hardware Abstraction Layer for quad-SPI flash
// controllers.
//
// The HAL reduces a QSPI peripheral to four primitives — [Controller.Issue],
// [Controller.Transmit], [Controller.Receive], and [Controller.AutoPoll] —
// plus the sticky [Controller.MemoryMap] mode, so that the flash driver in
// [github.com/ardnew/softflash/w25q] contains no register access and can be
// exercised on a host against the simulated controller in
// [github.com/ardnew/softflash/qspi/hal/sim].
//
// A [Command] is a value describing one bus transaction: instruction byte,
// optional address phase (24- or 32-bit, on 1 or 4 lines), dummy cycles,
// and an optional data phase (transmit or receive, on 1 or 4 lines). The
// HAL realizes the descriptor faithfully; opcode semantics belong to the
// driver.
//
// Implementations in this module:
//
//   - sim: an in-memory QSPI controller wired to an emulated W25Q256 chip,
//     used by the package tests and by host-side dry runs
//   - serial: a bridge that forwards transactions over a raw-mode tty to a
//     remote programming stub
package hal
