package loader

import (
	"context"
	"fmt"

	"github.com/ardnew/softflash/pkg"
)

// Integer results of the loader entry points.
const (
	ResultOK   = 1
	ResultFail = 0
)

// API is the integer-convention frontend over [Core], matching the
// entry-point table a host programmer tool invokes: every operation
// returns 1 on success and 0 on failure, and Verify returns the 64-bit
// encoded result. All failure detail is collapsed to the integer; the
// underlying errors are logged.
type API struct {
	core *Core
}

// NewAPI wraps core in the entry-point convention.
func NewAPI(core *Core) *API {
	return &API{core: core}
}

func (a *API) report(op string, err error) int {
	if err != nil {
		pkg.LogError(pkg.ComponentLoader, op+" failed",
			"status", pkg.StatusOf(err), "error", err)
		return ResultFail
	}
	return ResultOK
}

// Init brings up the hardware and probes the flash. Returns 1 iff the
// JEDEC identifier matches.
func (a *API) Init() int {
	return a.report("init", a.core.Init(context.Background()))
}

// Write programs data at addr (host-view addresses accepted).
func (a *API) Write(addr uint32, data []byte) int {
	return a.report("write", a.core.Write(addr, data))
}

// Read fills buf from addr.
func (a *API) Read(addr uint32, buf []byte) int {
	return a.report("read", a.core.Read(addr, buf))
}

// SectorErase erases every sector in [start, end).
func (a *API) SectorErase(start, end uint32) int {
	return a.report("sector erase", a.core.SectorErase(start, end))
}

// MassErase erases the whole chip.
func (a *API) MassErase() int {
	return a.report("mass erase", a.core.MassErase())
}

// Verify compares flash against want using the 64-bit convention
// documented on [Core.Verify].
func (a *API) Verify(memAddr uint32, want []byte) uint64 {
	return a.core.Verify(memAddr, want)
}

// CheckSum computes the wrap-around byte sum over a flash region. A
// read failure is logged and yields the seed unchanged, which the host
// will observe as a checksum disagreement.
func (a *API) CheckSum(addr, size, initial uint32) uint32 {
	sum, err := a.core.CheckSum(addr, size, initial)
	if err != nil {
		pkg.LogError(pkg.ComponentLoader, "checksum failed",
			"addr", fmt.Sprintf("%#010x", addr), "error", err)
		return initial
	}
	return sum
}
