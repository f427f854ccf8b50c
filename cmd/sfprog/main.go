// Command sfprog programs, reads, and verifies a W25Q256 external
// flash, either through a serial bridge to target firmware or against
// the built-in simulator.
//
// Typical uses:
//
//	sfprog -tty /dev/ttyACM0 -id
//	sfprog -tty /dev/ttyACM0 -partition application -write app.hex
//	sfprog -tty /dev/ttyACM0 -partition config -read -
//	sfprog -sim -health
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"zappem.net/pub/debug/xcrc32"
	"zappem.net/pub/debug/xxd"

	"github.com/ardnew/softflash/flashutil"
	"github.com/ardnew/softflash/loader"
	"github.com/ardnew/softflash/pkg"
	"github.com/ardnew/softflash/qspi/hal"
	"github.com/ardnew/softflash/qspi/hal/serial"
	"github.com/ardnew/softflash/qspi/hal/sim"
	"github.com/ardnew/softflash/w25q"
)

var (
	tty       = flag.String("tty", "", "serial bridge tty device file")
	useSim    = flag.Bool("sim", false, "drive the built-in simulator instead of hardware")
	debug     = flag.Bool("debug", false, "be more verbose")
	jsonLog   = flag.Bool("json", false, "log in JSON format")
	progress  = flag.Bool("progress", true, "show progress")
	id        = flag.Bool("id", false, "probe and print the JEDEC identifier")
	layout    = flag.Bool("layout", false, "list the partition layout and exit")
	health    = flag.Bool("health", false, "run the flash health self-test")
	stats     = flag.Bool("stats", false, "print operation statistics before exiting")
	rd        = flag.String("read", "", "destination for data read from flash ('-' to hex dump)")
	wr        = flag.String("write", "", "file to program into flash (.hex parsed as Intel hex)")
	vf        = flag.String("verify", "", "file to compare against flash contents")
	erase     = flag.Bool("erase", false, "erase every sector in [-addr, -limit)")
	massErase = flag.Bool("masserase", false, "erase the entire chip")
	sum       = flag.Bool("checksum", false, "print the byte-sum of [-addr, -limit)")
	check     = flag.String("check", "", "validate the sealed CRC of the named partition")
	seal      = flag.Bool("seal", false, "seal the written partition with CRC metadata")
	desc      = flag.String("descriptor", "", "write the packed storage descriptor to a file")
	sect      = flag.String("partition", "", "partition to operate on (overrides -addr and -limit)")
	addrArg   = flag.Uint64("addr", 0, "base address for read, write, and erase")
	limitArg  = flag.Uint64("limit", 0, "one past the last address (0 = derive from data length)")
	revArg    = flag.Uint("rev", 0, "payload revision recorded when sealing")
)

// openController picks the transport from the flags.
func openController() (hal.Controller, error) {
	if *useSim {
		return sim.New(nil), nil
	}
	if *tty == "" {
		return nil, fmt.Errorf("one of -tty or -sim is required")
	}
	return serial.Open(*tty)
}

// targetRange resolves the address range from -partition or -addr/-limit.
func targetRange(table flashutil.Table, dataLen int) (uint32, uint32) {
	if *sect != "" {
		p, err := table.Lookup(*sect)
		if err != nil {
			log.Fatalf("unknown partition %q (see -layout)", *sect)
		}
		return p.Start, p.End()
	}
	addr := uint32(*addrArg)
	limit := uint32(*limitArg)
	if limit == 0 {
		limit = addr + uint32(dataLen)
	}
	if limit < addr {
		log.Fatalf("invalid range [%#x,%#x)", addr, limit)
	}
	return addr, limit
}

// loadImage reads the file to program. Intel hex files keep their own
// addresses (masked from the host's memory-mapped view); flat binaries
// land at base.
func loadImage(path string, base uint32) (uint32, []byte) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %q: %v", path, err)
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		mem := gohex.NewMemory()
		if err := mem.ParseIntelHex(f); err != nil {
			log.Fatalf("failed to parse %q as Intel hex: %v", path, err)
		}
		segs := mem.GetDataSegments()
		if len(segs) == 0 {
			log.Fatalf("%q contains no data", path)
		}
		// Flatten the segments into one image, padding gaps with the
		// erased value.
		lo := segs[0].Address & loader.AddressMask
		hi := lo
		for _, seg := range segs {
			a := seg.Address & loader.AddressMask
			if a < lo {
				lo = a
			}
			if end := a + uint32(len(seg.Data)); end > hi {
				hi = end
			}
		}
		data := make([]byte, hi-lo)
		for i := range data {
			data[i] = w25q.EraseValue
		}
		for _, seg := range segs {
			copy(data[(seg.Address&loader.AddressMask)-lo:], seg.Data)
		}
		return lo, data
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read %q: %v", path, err)
	}
	return base, data
}

// saveImage writes data read from addr to path: '-' hex dumps to
// stdout, .hex emits Intel hex at the memory-mapped address, anything
// else is a flat binary.
func saveImage(path string, addr uint32, data []byte) {
	switch {
	case path == "-":
		xxd.Print(int(addr), data)
	case strings.EqualFold(filepath.Ext(path), ".hex"):
		mem := gohex.NewMemory()
		if err := mem.AddBinary(hal.MemoryMappedBase+addr, data); err != nil {
			log.Fatalf("failed to stage hex image: %v", err)
		}
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("failed to create %q: %v", path, err)
		}
		defer f.Close()
		if err := mem.DumpIntelHex(f, 16); err != nil {
			log.Fatalf("failed to write %q: %v", path, err)
		}
	default:
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Fatalf("failed to write %q: %v", path, err)
		}
	}
}

// tick prints one progress dot per 64 KiB processed.
func tick(done *int, n int) {
	if !*progress {
		return
	}
	*done += n
	for *done >= w25q.BlockSize {
		fmt.Print(".")
		*done -= w25q.BlockSize
	}
}

func displayLayout(table flashutil.Table, util *flashutil.Util) {
	log.Print("partition        size/bytes [     base,     limit)     sealed  rev    xcrc32")
	log.Print("----------- --------------- --------------------- ---------- ---- ---------")
	for _, p := range table {
		m, err := util.ReadMeta(p)
		if err != nil {
			log.Fatalf("failed to read metadata for %q: %v", p.Name, err)
		}
		log.Printf("%-11s %15d [%#09x,%#09x) %10v %4d  %08X\n",
			p.Name, m.Size, p.Start, p.End(), m.Written, m.Version, m.CRC)
	}
}

func main() {
	flag.Parse()

	if *debug {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if *desc != "" {
		si := loader.DefaultStorageInfo()
		raw, err := si.MarshalBinary()
		if err != nil {
			log.Fatalf("failed to encode storage descriptor: %v", err)
		}
		if err := os.WriteFile(*desc, raw, 0o644); err != nil {
			log.Fatalf("failed to write %q: %v", *desc, err)
		}
		log.Printf("wrote %d byte descriptor for %q", len(raw), si.Name)
	}

	ctl, err := openController()
	if err != nil {
		log.Fatalf("no flash transport: %v", err)
	}
	if closer, ok := ctl.(*serial.Controller); ok {
		defer closer.Close()
	}

	dev := w25q.New(ctl)
	if err := dev.Init(context.Background()); err != nil {
		log.Fatalf("flash probe failed: %v", err)
	}
	core := loader.NewCore(dev)
	util := flashutil.New(dev)
	table := flashutil.DefaultTable()
	if err := table.Validate(); err != nil {
		log.Fatalf("broken partition table: %v", err)
	}

	if *id {
		jedec, err := dev.ReadID()
		if err != nil {
			log.Fatalf("failed to read JEDEC identifier: %v", err)
		}
		log.Printf("JEDEC identifier: %#06x", jedec)
	}

	if *layout {
		displayLayout(table, util)
		return
	}

	if *health {
		if err := util.HealthTest(); err != nil {
			log.Fatalf("health test failed: %v", err)
		}
		log.Print("health test passed")
	}

	if *massErase {
		log.Print("erasing entire chip (this can take minutes)...")
		if err := core.MassErase(); err != nil {
			log.Fatalf("mass erase failed: %v", err)
		}
		log.Print("chip erased")
	}

	if *erase {
		addr, limit := targetRange(table, 0)
		if limit <= addr {
			log.Fatalf("empty erase range [%#x,%#x)", addr, limit)
		}
		if err := core.SectorErase(addr, limit); err != nil {
			log.Fatalf("erase failed: %v", err)
		}
		log.Printf("erased [%#09x,%#09x)", addr, limit)
	}

	if *wr != "" {
		base, _ := targetRange(table, 0)
		addr, data := loadImage(*wr, base)
		switch {
		case *seal:
			if *sect == "" {
				log.Fatal("-seal requires -partition")
			}
			p, err := table.Lookup(*sect)
			if err != nil {
				log.Fatalf("unknown partition %q", *sect)
			}
			if addr != p.Start {
				log.Fatalf("sealed image must start at %q base %#09x, not %#09x",
					p.Name, p.Start, addr)
			}
			if err := util.WriteSealed(p, data, uint8(*revArg)); err != nil {
				log.Fatalf("failed to seal %q: %v", p.Name, err)
			}
			log.Printf("sealed %q rev %d: %d bytes", p.Name, *revArg, len(data))
		default:
			if *progress {
				fmt.Printf("write [%#09x,%#09x] ", addr, addr+uint32(len(data))-1)
			}
			done := 0
			for off := 0; off < len(data); off += w25q.SectorSize {
				n := len(data) - off
				if n > w25q.SectorSize {
					n = w25q.SectorSize
				}
				if err := util.WriteWithErase(addr+uint32(off), data[off:off+n]); err != nil {
					log.Fatalf("write failed at %#09x: %v", addr+uint32(off), err)
				}
				tick(&done, n)
			}
			if *progress {
				fmt.Println()
			}
			_, crc := xcrc32.NewCRC32(data)
			log.Printf("wrote %d bytes at %#09x (xcrc32 %08X)", len(data), addr, crc)
		}
	}

	if *vf != "" {
		base, _ := targetRange(table, 0)
		addr, data := loadImage(*vf, base)
		result := core.Verify(hal.MemoryMappedBase+addr, data)
		switch {
		case result == uint64(hal.MemoryMappedBase)+uint64(addr)+uint64(len(data)):
			log.Printf("verify ok: %d bytes at %#09x", len(data), addr)
		case result&loader.ReadFailureFlag != 0:
			log.Fatalf("verify read failure at %#09x",
				uint32(result&^loader.ReadFailureFlag)&loader.AddressMask)
		default:
			log.Fatalf("verify mismatch at %#09x", uint32(result)&loader.AddressMask)
		}
	}

	if *rd != "" {
		addr, limit := targetRange(table, 0)
		if limit <= addr {
			log.Fatalf("empty read range [%#x,%#x)", addr, limit)
		}
		data := make([]byte, limit-addr)
		if err := core.Read(addr, data); err != nil {
			log.Fatalf("read failed: %v", err)
		}
		saveImage(*rd, addr, data)
	}

	if *sum {
		addr, limit := targetRange(table, 0)
		if limit <= addr {
			log.Fatalf("empty checksum range [%#x,%#x)", addr, limit)
		}
		value, err := core.CheckSum(addr, limit-addr, 0)
		if err != nil {
			log.Fatalf("checksum failed: %v", err)
		}
		log.Printf("byte-sum [%#09x,%#09x) = %#08x", addr, limit, value)
	}

	if *check != "" {
		p, err := table.Lookup(*check)
		if err != nil {
			log.Fatalf("unknown partition %q (see -layout)", *check)
		}
		if err := util.CheckSealed(p); err != nil {
			log.Fatalf("check failed: %v", err)
		}
		log.Printf("partition %q is intact", p.Name)
	}

	if *stats {
		s := util.Stats()
		log.Printf("reads=%d writes=%d bytes=%d sector-erases=%d block-erases=%d",
			s.Reads, s.Writes, s.BytesWritten, s.SectorErases, s.BlockErases)
		log.Printf("erase-errors=%d write-errors=%d write-time=%v erase-time=%v",
			s.EraseErrors, s.WriteErrors, s.WriteTime, s.EraseTime)
	}
}
