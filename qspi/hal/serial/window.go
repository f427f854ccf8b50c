package serial

import (
	"fmt"

	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal"
	"github.com/ardnew/softflash/w25q"
)

// window serves memory-mapped reads through map-read frames.
type window struct {
	ctl *Controller
}

// ReadAt implements io.ReaderAt over the bridge's mapped view.
func (w *window) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > w25q.FlashSize {
		return 0, fmt.Errorf("%w: offset %d", pkg.ErrOutOfRange, off)
	}
	if err := w.ctl.mapRead(p, uint32(off)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Base returns the host-view base address of the window.
func (w *window) Base() uint32 {
	return hal.MemoryMappedBase
}

// Size returns the window length in bytes.
func (w *window) Size() int64 {
	return w25q.FlashSize
}
