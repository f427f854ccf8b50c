// Package pkg provides shared utilities for the softflash stack.
//
// This package contains common functionality used across the transport,
// driver, loader, boot, and utility packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for the flash error taxonomy
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with flash-stack context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentFlash, "chip probed", "id", 0xEF4019)
//
// # Errors
//
// Driver and utility errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrAutoPolling) {
//	    // Busy poll expired; reset the chip before retrying
//	}
//
// The [Status] type mirrors the signed status codes that the loader stub
// reports to host tools, and converts between those codes and the
// sentinel errors.
package pkg
