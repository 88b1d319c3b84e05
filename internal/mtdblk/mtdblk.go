// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package mtdblk drives a raw Linux MTD character device (/dev/mtdN): erase,
// sequential read, and staged program, all in terms of absolute flash
// offsets. It is the SPI-NOR analogue of internal/i2cbus, and the lowest
// layer internal/lfsdev builds its block-device contract on top of.
package mtdblk

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/bitutil"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvplog"
)

// stageBufSize is the chunk size used to stage program data, matching the
// original tool's BUFSIZE.
const stageBufSize = 10 * 1024

// Linux MTD ioctl numbers (<mtd/mtd-abi.h>).
const (
	memGetInfo = 0x80204d01
	memErase   = 0x40084d02
)

// mtdInfoUser mirrors struct mtd_info_user.
type mtdInfoUser struct {
	Type      uint8
	Flags     uint32
	Size      uint32
	EraseSize uint32
	WriteSize uint32
	OOBSize   uint32
	_         uint64 // padding, historically unused
}

// eraseInfoUser mirrors struct erase_info_user.
type eraseInfoUser struct {
	Start  uint32
	Length uint32
}

// ErrIO wraps any ioctl, seek, read, or write failure against the device.
var ErrIO = errors.New("mtdblk: i/o failure")

// Device is an open MTD character device.
type Device struct {
	f         *os.File
	EraseSize uint32
	Size      uint32
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Open opens the MTD character device at path and queries its geometry via MEMGETINFO.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	var info mtdInfoUser
	if err := ioctl(f.Fd(), memGetInfo, unsafe.Pointer(&info)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: MEMGETINFO: %v", ErrIO, err)
	}

	return &Device{f: f, EraseSize: info.EraseSize, Size: info.Size}, nil
}

// Close closes the underlying device.
func (d *Device) Close() error {
	return d.f.Close()
}

// eraseBlockCount returns the number of whole erase blocks needed to cover
// length bytes given an erase block size of eraseSize.
func eraseBlockCount(length, eraseSize uint32) int {
	blockLen := (length + eraseSize - 1) / eraseSize * eraseSize
	return int(blockLen / eraseSize)
}

// Erase erases, one erase-block per MEMERASE ioctl, enough whole blocks
// starting at offset to cover length bytes.
func (d *Device) Erase(offset, length uint32) error {
	blocks := eraseBlockCount(length, d.EraseSize)

	e := eraseInfoUser{Start: offset, Length: d.EraseSize}

	for i := 1; i <= blocks; i++ {
		nvplog.Debug("\rErasing blocks: %d/%d (%d%%)", i, blocks, bitutil.Percentage(i, blocks))
		if err := ioctl(d.f.Fd(), memErase, unsafe.Pointer(&e)); err != nil {
			nvplog.Error("Error while erasing blocks 0x%.8x-0x%.8x: %v", e.Start, e.Start+e.Length, err)
			return ErrIO
		}
		e.Start += d.EraseSize
	}
	nvplog.Debug("\rErasing blocks: %d/%d (100%%)", blocks, blocks)

	return nil
}

// ReadAt reads len(buf) bytes starting at the given absolute flash offset.
func (d *Device) ReadAt(offset uint32, buf []byte) error {
	if _, err := d.f.Seek(int64(offset), os.SEEK_SET); err != nil {
		return fmt.Errorf("%w: seek to %d: %v", ErrIO, offset, err)
	}

	n, err := d.f.Read(buf)
	if err != nil || n != len(buf) {
		nvplog.Error("Short read count returned while reading")
		return ErrIO
	}
	return nil
}

// WriteAt writes data to the device at the given absolute flash offset,
// staging it through stageBufSize-sized chunks as the original tool does.
func (d *Device) WriteAt(offset uint32, data []byte) error {
	if _, err := d.f.Seek(int64(offset), os.SEEK_SET); err != nil {
		return fmt.Errorf("%w: seek to %d: %v", ErrIO, offset, err)
	}

	written := 0
	total := len(data)

	for written < total {
		chunk := total - written
		if chunk > stageBufSize {
			chunk = stageBufSize
		}

		n, err := d.f.Write(data[written : written+chunk])
		if err != nil || n != chunk {
			nvplog.Error("Error while writing data to 0x%.8x-0x%.8x", offset+uint32(written), offset+uint32(written+chunk))
			return ErrIO
		}

		written += chunk
		nvplog.Debug("\rWriting data: %dk/%dk (%d%%)", written/1024, total/1024, bitutil.Percentage(written, total))
	}

	return nil
}
