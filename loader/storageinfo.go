package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal"
	"github.com/ardnew/softflash/w25q"
)

// DeviceKind enumerates the storage device categories a host programmer
// tool understands.
type DeviceKind uint16

// Storage device kinds.
const (
	KindUnknown       DeviceKind = 0
	KindOnChipFlash   DeviceKind = 1
	KindExternalFlash DeviceKind = 2
	KindOTP           DeviceKind = 3
	KindNORFlash      DeviceKind = 4
	KindNANDFlash     DeviceKind = 5
	KindNORPSRAM      DeviceKind = 6
	KindNORSRAM       DeviceKind = 7
)

// String returns a human-readable device kind name.
func (k DeviceKind) String() string {
	switch k {
	case KindOnChipFlash:
		return "on-chip flash"
	case KindExternalFlash:
		return "external flash"
	case KindOTP:
		return "OTP"
	case KindNORFlash:
		return "NOR flash"
	case KindNANDFlash:
		return "NAND flash"
	case KindNORPSRAM:
		return "NOR/PSRAM"
	case KindNORSRAM:
		return "NOR/SRAM"
	default:
		return "unknown"
	}
}

// SectorRegion describes one run of uniformly sized erase sectors.
type SectorRegion struct {
	Size  uint32 // Sector size in bytes
	Start uint32 // Start address of the region, relative to device base
}

// Packed descriptor layout constants. The host parses the record
// byte-by-byte, so these offsets are part of the wire format.
const (
	nameFieldSize   = 100
	fixedFieldsSize = nameFieldSize + 2 + 4 + 4 + 4 + 1 // = 115
	regionEntrySize = 8
)

// StorageInfo is the device geometry descriptor published in the loader
// image. The host programmer reads it out of the image and parses the
// packed byte layout described by MarshalBinary.
type StorageInfo struct {
	Name        string         // Device name, at most 99 bytes plus NUL padding
	Kind        DeviceKind     // Device category
	BaseAddress uint32         // Device base in the host's view
	Size        uint32         // Device size in bytes
	PageSize    uint32         // Programming page size
	EraseValue  byte           // Content of erased memory
	Regions     []SectorRegion // Sector regions, without the terminating sentinel
}

// DefaultStorageInfo returns the descriptor for the memory-mapped
// W25Q256: one uniform region of 4 KiB sectors spanning 32 MiB at
// 0x90000000.
func DefaultStorageInfo() StorageInfo {
	return StorageInfo{
		Name:        "W25Q256_STM32H750-DISCO",
		Kind:        KindNORFlash,
		BaseAddress: hal.MemoryMappedBase,
		Size:        w25q.FlashSize,
		PageSize:    w25q.PageSize,
		EraseValue:  w25q.EraseValue,
		Regions: []SectorRegion{
			{Size: w25q.SectorSize, Start: 0},
		},
	}
}

// MarshalBinary encodes the descriptor in the packed little-endian
// layout the host expects:
//
//	offset 0   : 100 bytes device name (NUL-padded)
//	offset 100 : u16 device kind
//	offset 102 : u32 device base address
//	offset 106 : u32 device size
//	offset 110 : u32 program page size
//	offset 114 : u8  erase value
//	offset 115 : repeated { u32 sector_size ; u32 sector_start_addr }
//	             terminated by a { 0 ; 0 } pair
func (si *StorageInfo) MarshalBinary() ([]byte, error) {
	if len(si.Name) >= nameFieldSize {
		return nil, fmt.Errorf("%w: device name %d bytes, limit %d",
			pkg.ErrInvalidParameter, len(si.Name), nameFieldSize-1)
	}
	for _, r := range si.Regions {
		if r.Size == 0 {
			return nil, fmt.Errorf("%w: zero-size sector region", pkg.ErrInvalidParameter)
		}
	}
	buf := make([]byte, fixedFieldsSize+(len(si.Regions)+1)*regionEntrySize)
	copy(buf[0:], si.Name)
	binary.LittleEndian.PutUint16(buf[100:], uint16(si.Kind))
	binary.LittleEndian.PutUint32(buf[102:], si.BaseAddress)
	binary.LittleEndian.PutUint32(buf[106:], si.Size)
	binary.LittleEndian.PutUint32(buf[110:], si.PageSize)
	buf[114] = si.EraseValue
	off := fixedFieldsSize
	for _, r := range si.Regions {
		binary.LittleEndian.PutUint32(buf[off:], r.Size)
		binary.LittleEndian.PutUint32(buf[off+4:], r.Start)
		off += regionEntrySize
	}
	// Trailing sentinel pair is already zero.
	return buf, nil
}

// ParseStorageInfo decodes a packed descriptor produced by
// MarshalBinary (or extracted from a loader image). The region list
// must terminate with a zero pair within the given data.
func ParseStorageInfo(data []byte) (StorageInfo, error) {
	var si StorageInfo
	if len(data) < fixedFieldsSize+regionEntrySize {
		return si, fmt.Errorf("%w: descriptor needs at least %d bytes, have %d",
			pkg.ErrBufferTooSmall, fixedFieldsSize+regionEntrySize, len(data))
	}
	name := data[:nameFieldSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	si.Name = string(name)
	si.Kind = DeviceKind(binary.LittleEndian.Uint16(data[100:]))
	si.BaseAddress = binary.LittleEndian.Uint32(data[102:])
	si.Size = binary.LittleEndian.Uint32(data[106:])
	si.PageSize = binary.LittleEndian.Uint32(data[110:])
	si.EraseValue = data[114]
	for off := fixedFieldsSize; ; off += regionEntrySize {
		if off+regionEntrySize > len(data) {
			return si, fmt.Errorf("%w: unterminated sector region list", pkg.ErrProtocol)
		}
		size := binary.LittleEndian.Uint32(data[off:])
		start := binary.LittleEndian.Uint32(data[off+4:])
		if size == 0 && start == 0 {
			break
		}
		si.Regions = append(si.Regions, SectorRegion{Size: size, Start: start})
	}
	return si, nil
}
