// Package serial adapts the QSPI controller port onto a serial bridge:
// firmware on the target relays each framed transaction to the flash
// chip, so host tools can drive the same driver stack the target runs.
//
// Every frame is acknowledged with a single status byte. Auto-polling
// happens on the host side by reissuing the status-read command, and
// memory-mapped mode is emulated with map-read frames, so the bridge
// firmware stays a thin relay.
package serial
