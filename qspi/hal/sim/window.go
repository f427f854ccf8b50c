package sim

import (
	"fmt"
	"io"

	"github.com/ardnew/softflash/pkg"
)

// window serves memory-mapped reads straight from the chip model.
type window struct {
	chip *Chip
	base uint32
}

// ReadAt implements io.ReaderAt over the mapped array.
func (w *window) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > FlashSize {
		return 0, fmt.Errorf("%w: offset %d", pkg.ErrOutOfRange, off)
	}
	n := copy(p, w.chip.mem[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Base returns the host-view base address of the window.
func (w *window) Base() uint32 {
	return w.base
}

// Size returns the window length in bytes.
func (w *window) Size() int64 {
	return FlashSize
}
