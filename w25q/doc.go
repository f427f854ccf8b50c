// Package w25q drives a Winbond W25Q256 quad-SPI NOR flash through the
// controller port defined in package hal.
//
// The driver exposes the chip's native granularities directly: 256-byte
// page programs, 4 KiB sector and 64 KiB block erases, and whole-chip
// erase. WriteBuffer handles page splitting for arbitrary ranges;
// callers remain responsible for erasing before programming, since NOR
// programming can only clear bits.
//
// All addressed commands use the 4-byte address variants, so the full
// 32 MiB array is reachable without bank switching. Every program and
// erase is bracketed by a write-enable handshake and a bounded busy
// wait; the driver never returns while the chip is still busy.
package w25q
