// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package i2cbus

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux I2C character-device ioctl numbers and message flags
// (<linux/i2c.h>, <linux/i2c-dev.h>).
const (
	i2cSlave = 0x0703
	i2cRDWR  = 0x0707

	i2cMRD      = 0x0001
	i2cMNoStart = 0x4000
)

// i2cMsg mirrors struct i2c_msg from <linux/i2c.h>.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

// i2cRdwrIoctlData mirrors struct i2c_rdwr_ioctl_data from <linux/i2c-dev.h>.
type i2cRdwrIoctlData struct {
	msgs  uintptr
	nmsgs uint32
}

// bufPtr returns the address of a byte slice's backing array as a uintptr,
// for embedding in an i2cMsg. The caller must keep buf alive (referenced on
// its own stack frame) across the transfer call that consumes the result.
func bufPtr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

func ioctl(fd int, req, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// transfer issues a combined I2C_RDWR ioctl for the given messages.
func transfer(fd int, msgs []i2cMsg) error {
	data := i2cRdwrIoctlData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: uint32(len(msgs)),
	}
	return ioctl(fd, i2cRDWR, uintptr(unsafe.Pointer(&data)))
}
