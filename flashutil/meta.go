package flashutil

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"zappem.net/pub/debug/xcrc32"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/w25q"
)

// Present captures whether a partition holds a sealed payload. The
// empty value matches erased flash, so a never-written metadata sector
// decodes as empty.
type Present uint8

// Presence markers.
const (
	PresentWritten Present = 0x03
	PresentEmpty   Present = 0xFF
)

// String returns a human-readable presence name.
func (p Present) String() string {
	switch p {
	case PresentWritten:
		return "written"
	case PresentEmpty:
		return "empty"
	default:
		return "<error>"
	}
}

// Meta is the fixed-size record stored in the last sector of a sealed
// partition. It lets a later boot (or a host tool) confirm the payload
// is intact without any out-of-band knowledge.
type Meta struct {
	// CRC is the composable CRC32 of the payload, computed the way the
	// gdb remote protocol does (libiberty crc32).
	CRC uint32

	// Size is the payload length in bytes.
	Size uint32

	// Written marks whether the payload was sealed.
	Written Present

	// Version is a caller-defined payload revision.
	Version uint8

	// Reserved holds 0xFF.
	Reserved uint16
}

// MetaSize is the encoded size of a Meta record.
const MetaSize = 12

// metaOffset returns the address of the metadata record: the start of
// the partition's final sector, which is reserved for it.
func metaOffset(p Partition) uint32 {
	return p.End() - w25q.SectorSize
}

// Capacity returns the payload bytes available in a sealed partition:
// everything except the metadata sector.
func Capacity(p Partition) uint32 {
	if p.Size <= w25q.SectorSize {
		return 0
	}
	return p.Size - w25q.SectorSize
}

// WriteSealed programs data at the start of the partition and records a
// Meta in the partition's final sector. The payload must leave the
// metadata sector free.
func (u *Util) WriteSealed(p Partition, data []byte, version uint8) error {
	if uint32(len(data)) > Capacity(p) {
		return fmt.Errorf("%w: %d bytes exceeds %q capacity %d",
			pkg.ErrInvalidParameter, len(data), p.Name, Capacity(p))
	}
	if err := u.WriteWithErase(p.Start, data); err != nil {
		return err
	}
	_, crc := xcrc32.NewCRC32(data)
	m := Meta{
		CRC:      crc,
		Size:     uint32(len(data)),
		Written:  PresentWritten,
		Version:  version,
		Reserved: 0xFFFF,
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, m); err != nil {
		return err
	}
	return u.WriteWithErase(metaOffset(p), buf.Bytes())
}

// ReadMeta decodes the metadata record of the partition. A partition
// never sealed decodes with Written == PresentEmpty.
func (u *Util) ReadMeta(p Partition) (Meta, error) {
	var m Meta
	raw := make([]byte, MetaSize)
	if err := u.Read(metaOffset(p), raw); err != nil {
		return m, err
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &m); err != nil {
		return m, err
	}
	return m, nil
}

// CheckSealed reads the partition's metadata and payload and confirms
// the stored CRC matches.
func (u *Util) CheckSealed(p Partition) error {
	m, err := u.ReadMeta(p)
	if err != nil {
		return err
	}
	if m.Written != PresentWritten {
		return fmt.Errorf("%w: partition %q is %v", pkg.ErrDataMismatch, p.Name, m.Written)
	}
	if m.Size > Capacity(p) {
		return fmt.Errorf("%w: partition %q metadata claims %d bytes",
			pkg.ErrProtocol, p.Name, m.Size)
	}
	data := make([]byte, m.Size)
	if err := u.Read(p.Start, data); err != nil {
		return err
	}
	_, crc := xcrc32.NewCRC32(data)
	if crc != m.CRC {
		return fmt.Errorf("%w: partition %q crc got=%#08x want=%#08x",
			pkg.ErrDataMismatch, p.Name, crc, m.CRC)
	}
	return nil
}
