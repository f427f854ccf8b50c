// Package loader implements the external-flash programming operations a
// host programmer tool drives: Init, Read, Write, SectorErase,
// MassErase, Verify, and CheckSum, plus the packed StorageInfo
// geometry descriptor the host parses out of the loader image.
//
// The operations come in two forms. Core returns ordinary errors and is
// what in-process callers use. API wraps Core in the host tool's
// integer convention: 1 on success, 0 on failure, with Verify's 64-bit
// result encoding read errors and mismatch addresses.
//
// Host tools address the flash through its memory-mapped window at
// 0x90000000, so every address accepted here is masked to 28 bits
// before reaching the chip.
package loader
