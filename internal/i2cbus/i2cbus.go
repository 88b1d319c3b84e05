// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package i2cbus drives a 24-series-style I2C EEPROM over a Linux i2c-dev
// character device: page-bounded reads and writes, multi-slave address-
// space tiling (each I2C slave ID covers 64 KiB), and the write-cycle
// settle delay the EEPROM requires after each page program.
package i2cbus

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvplog"
)

// PageSize is the EEPROM page size in bytes: the unit of both writes and
// sequential reads, and the address-pointer rollover boundary.
const PageSize = 256

// WriteSettle is the mandatory delay after a page write while the EEPROM
// completes its internal write cycle.
const WriteSettle = 10 * time.Millisecond

// ErrIO is returned for any bus-open, ioctl, or short-transfer failure.
var ErrIO = errors.New("i2cbus: i/o failure")

// ErrNotFound is returned when Probe cannot reach a device at the target address.
var ErrNotFound = errors.New("i2cbus: device not found")

// Bus is an open Linux I2C character device.
type Bus struct {
	fd int
}

// Open opens /dev/i2c-<num>.
func Open(num int) (*Bus, error) {
	path := fmt.Sprintf("/dev/i2c-%d", num)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	return &Bus{fd: fd}, nil
}

// Close closes the bus device.
func (b *Bus) Close() error {
	return unix.Close(b.fd)
}

// Probe issues a zero-byte write to slave and reports whether it acked.
func (b *Bus) Probe(slave uint8) error {
	msgs := []i2cMsg{{
		addr:  uint16(slave),
		flags: 0,
		len:   0,
		buf:   0,
	}}
	if err := transfer(b.fd, msgs); err != nil {
		return ErrNotFound
	}
	return nil
}

// pageChunk returns the size of the next transfer chunk starting at offset,
// the lesser of the remaining bytes and the distance to the next PageSize
// boundary, so no single transfer straddles a page.
func pageChunk(offset uint32, remain int) int {
	chunk := PageSize - int(offset%PageSize)
	if remain < chunk {
		chunk = remain
	}
	return chunk
}

// slaveAndOffset splits a 24-bit logical offset into the effective 7-bit
// slave address (base + number of 64KiB tiles crossed) and the 16-bit
// offset within that slave's address space.
func slaveAndOffset(base uint8, offset uint32) (uint8, uint16) {
	return base + uint8(offset/0x10000), uint16(offset % 0x10000)
}

// readPage issues one two-message (dummy write + repeated-start read)
// transfer for up to PageSize bytes, never crossing a page boundary.
func (b *Bus) readPage(slaveBase uint8, offset uint32, buf []byte) error {
	slave, off := slaveAndOffset(slaveBase, offset)
	addr := []byte{byte(off >> 8), byte(off & 0xff)}

	msgs := []i2cMsg{
		{
			addr:  uint16(slave),
			flags: 0,
			len:   uint16(len(addr)),
			buf:   bufPtr(addr),
		},
		{
			addr:  uint16(slave),
			flags: i2cMRD | i2cMNoStart,
			len:   uint16(len(buf)),
			buf:   bufPtr(buf),
		},
	}

	if err := transfer(b.fd, msgs); err != nil {
		nvplog.Error("Failed to read data from EEPROM @0x%x via i2c!", slave)
		return ErrIO
	}
	return nil
}

// writePage issues a single combined-payload write of up to PageSize bytes,
// then sleeps WriteSettle for the EEPROM's internal write cycle.
func (b *Bus) writePage(slaveBase uint8, offset uint32, data []byte) error {
	slave, off := slaveAndOffset(slaveBase, offset)

	payload := make([]byte, 2+len(data))
	payload[0] = byte(off >> 8)
	payload[1] = byte(off & 0xff)
	copy(payload[2:], data)

	msgs := []i2cMsg{{
		addr:  uint16(slave),
		flags: 0,
		len:   uint16(len(payload)),
		buf:   bufPtr(payload),
	}}

	if err := transfer(b.fd, msgs); err != nil {
		nvplog.Error("Failed to write data to I2C bus")
		return ErrIO
	}

	time.Sleep(WriteSettle)
	return nil
}

// Read reads len(buf) bytes starting at the given 24-bit logical offset,
// splitting the transfer at page boundaries.
func (b *Bus) Read(slaveBase uint8, offset uint32, buf []byte) (int, error) {
	if len(buf) > PageSize {
		nvplog.Normal("[WARN] Sequential read should not exceed %d bytes, otherwise the read data will be rolled over!", PageSize)
	}

	n := 0
	for n < len(buf) {
		chunk := pageChunk(offset+uint32(n), len(buf)-n)
		if err := b.readPage(slaveBase, offset+uint32(n), buf[n:n+chunk]); err != nil {
			return -1, err
		}
		n += chunk
	}
	return n, nil
}

// Write writes data to the given 24-bit logical offset, splitting the
// transfer into PageSize-bounded page writes, each followed by WriteSettle.
func (b *Bus) Write(slaveBase uint8, offset uint32, data []byte) (int, error) {
	n := 0
	for n < len(data) {
		chunk := pageChunk(offset+uint32(n), len(data)-n)
		if err := b.writePage(slaveBase, offset+uint32(n), data[n:n+chunk]); err != nil {
			return -1, err
		}
		n += chunk
	}
	return n, nil
}
