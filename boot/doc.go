// Package boot implements the boot handoff from internal flash to an
// application resident in memory-mapped external flash: map the flash
// at 0x90000000, sanity-check the application's vector table, quiesce
// caches, the tick timer, and interrupts, then set the stack pointer
// and branch to the reset handler.
//
// The application is responsible for relocating its own vector table
// after entry; the bootloader does not write the vector-table offset on
// its behalf.
package boot
