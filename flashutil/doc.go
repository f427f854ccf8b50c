// Package flashutil layers safer semantics over the raw flash driver:
// verified erases, read-modify-write programming that preserves the
// untouched remainder of each sector, a deterministic health self-test,
// a named partition table over the 32 MiB space, and CRC-sealed
// partition payloads for integrity checking.
package flashutil
