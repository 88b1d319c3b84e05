// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package nvpdev wires the record engine in internal/nvp to the two real
// substrates: a GPT-partitioned SPI-NOR MTD device mounted through
// internal/lfsdev, and the Boot-Strap Data I2C EEPROM through internal/i2cbus.
// It mirrors the original tool's spinor_handler and bsd_eeprom_handler: find
// the device, locate the partition or fixed offset, dispatch to dump/
// upload/field operations.
package nvpdev

import (
	"io"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/mtdblk"
)

// mtdReaderAt adapts *mtdblk.Device's uint32-offset ReadAt to the
// io.ReaderAt contract internal/gpt.Parse needs to scan the whole disk.
type mtdReaderAt struct {
	dev *mtdblk.Device
}

func (r mtdReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if err := r.dev.ReadAt(uint32(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

var _ io.ReaderAt = mtdReaderAt{}
