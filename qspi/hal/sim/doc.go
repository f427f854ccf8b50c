// Package sim provides an in-memory implementation of the quad-SPI
// controller port bound to a behavioral W25Q256 chip model. It exists
// so that the flash driver, the loader, and the flash utilities can be
// exercised on a development host with no hardware attached.
//
// The controller decodes the same instruction bytes a real W25Q256
// accepts and validates each command's wire shape, so malformed
// transactions fail loudly instead of appearing to work. The chip model
// enforces the part's programming rules: bits only clear on program,
// every program or erase needs a preceding write enable, and a program
// that runs past its 256-byte page wraps within the page.
package sim
