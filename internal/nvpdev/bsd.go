// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package nvpdev

import (
	"fmt"
	"os"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/checksum"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/i2cbus"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvp"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvplog"
)

// Boot-Strap Data EEPROM constants, mirroring bsd_eeprom_nvp.h.
const (
	BSDPartitionName     = "nvparamb"
	BSDNVPFile           = "NVPBERLY"
	BSDOffset            = 32
	DefaultI2CBus        = 1
	DefaultI2CEEPROMAddr = 0x50
)

// BSDSignature is the 8-byte magic the BSD EEPROM's NVPARAM header carries.
var BSDSignature = [8]byte{'N', 'V', 'P', 'B', 'E', 'R', 'L', 'Y'}

// eepromDevice adapts one i2cbus.Bus slave into the uint32-offset ReadAt/
// WriteAt contract nvp.BSDStorage.Device requires.
type eepromDevice struct {
	bus   *i2cbus.Bus
	slave uint8
}

func (d eepromDevice) ReadAt(offset uint32, buf []byte) error {
	n, err := d.bus.Read(d.slave, offset, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("nvpdev: short EEPROM read: got %d want %d", n, len(buf))
	}
	return nil
}

func (d eepromDevice) WriteAt(offset uint32, data []byte) error {
	n, err := d.bus.Write(d.slave, offset, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("nvpdev: short EEPROM write: got %d want %d", n, len(data))
	}
	return nil
}

// BSDDispatcher drives the Boot-Strap Data EEPROM over one I2C bus/slave
// pair, mirroring bsd_eeprom_handler.
type BSDDispatcher struct {
	Bus        *i2cbus.Bus
	SlaveAddr  uint8
}

// OpenBSDDispatcher opens /dev/i2c-<bus> and probes slaveAddr before
// returning, matching detect_eeprom's up-front check.
func OpenBSDDispatcher(busNum int, slaveAddr uint8) (*BSDDispatcher, error) {
	bus, err := i2cbus.Open(busNum)
	if err != nil {
		return nil, err
	}
	if err := bus.Probe(slaveAddr); err != nil {
		bus.Close()
		nvplog.Error("I2C device NOT FOUND!")
		return nil, err
	}
	return &BSDDispatcher{Bus: bus, SlaveAddr: slaveAddr}, nil
}

// Close releases the underlying I2C bus device.
func (d *BSDDispatcher) Close() error {
	return d.Bus.Close()
}

func (d *BSDDispatcher) storage() nvp.BSDStorage {
	return nvp.BSDStorage{Device: eepromDevice{bus: d.Bus, slave: d.SlaveAddr}, BaseOffset: BSDOffset}
}

// OpenRecord reads and validates the BSD NVPARAM header at the fixed
// BSDOffset, warning (but not failing) if the stored checksum does not
// currently verify, exactly as bsd_eeprom_handler does on every invocation.
func (d *BSDDispatcher) OpenRecord() (*nvp.Record, error) {
	s := d.storage()

	rec, err := nvp.Open(s, BSDSignature)
	if err != nil {
		return nil, err
	}

	window := make([]byte, rec.Header.Length)
	if err := s.ReadAt(0, window); err != nil {
		return nil, err
	}
	if !checksum.Verify(window) {
		nvplog.Normal("WARN current checksum invalid")
	}

	return rec, nil
}

// Dump reads header.Length bytes starting at EEPROM offset 0 (the NVPBERLY
// blob includes the leading Boot-Strap Vector) into a local raw file.
func (d *BSDDispatcher) Dump(rec *nvp.Record, dumpFile string) error {
	buf := make([]byte, rec.Header.Length)
	if err := d.storage().ReadAt(0, buf); err != nil {
		return fmt.Errorf("error in read NVP blob: %w", err)
	}

	if err := os.WriteFile(dumpFile, buf, 0o644); err != nil {
		return fmt.Errorf("cannot open file %s: %w", dumpFile, err)
	}
	return nil
}

// Upload overwrites the whole EEPROM blob (including the Boot-Strap Vector
// prefix) from uploadFile, starting at offset 0.
func (d *BSDDispatcher) Upload(uploadFile string) error {
	data, err := os.ReadFile(uploadFile)
	if err != nil {
		return fmt.Errorf("cannot open file %s: %w", uploadFile, err)
	}

	if err := d.storage().WriteAt(0, data); err != nil {
		return fmt.Errorf("error in write new NVP blob: %w", err)
	}
	return nil
}
