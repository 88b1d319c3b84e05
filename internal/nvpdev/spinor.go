// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package nvpdev

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/gpt"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/lfsdev"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/mtdblk"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvp"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvplog"
)

// ProcMTDInfo is the proc file listing every registered MTD device.
const ProcMTDInfo = "/proc/mtd"

// HostSPIFlashMTDName is the substring find_host_mtd_partition greps for.
const HostSPIFlashMTDName = "hnor"

// DumpPageSize matches the original tool's DEFAULT_PAGE_SIZE dump/upload
// chunk size.
const DumpPageSize = 4096

// NVPSignature is the 8-byte magic every SPI-NOR NVPARAM file begins with.
var NVPSignature = [8]byte{'N', 'V', 'P', 'A', 'R', 'A', 'M', '1'}

// ErrPartitionNotFound wraps a failed GPT partition lookup by name or GUID.
var ErrPartitionNotFound = errors.New("nvpdev: host SPI NOR partition not found")

// ErrNoMTDPartition is returned when /proc/mtd carries no entry matching
// HostSPIFlashMTDName and no explicit device override was given.
var ErrNoMTDPartition = errors.New("nvpdev: unable to find host SPI MTD partition")

// FindHostMTDPartition resolves the MTD device node to open: override if
// non-empty, else the first /proc/mtd line naming HostSPIFlashMTDName.
func FindHostMTDPartition(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	f, err := os.Open(ProcMTDInfo)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrNoMTDPartition, ProcMTDInfo, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, HostSPIFlashMTDName) {
			continue
		}
		fields := strings.SplitN(line, ":", 2)
		if len(fields) < 1 || !strings.HasPrefix(fields[0], "mtd") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimPrefix(fields[0], "mtd"))
		if err != nil {
			continue
		}
		return fmt.Sprintf("/dev/mtd%d", num), nil
	}

	return "", ErrNoMTDPartition
}

// SPINORDispatcher drives one open MTD device: GPT lookup, partition mount,
// and dump/upload/field dispatch, mirroring spinor_handler.
type SPINORDispatcher struct {
	Device *mtdblk.Device
	table  *gpt.Table
}

// NewSPINORDispatcher opens path and parses its GPT table up front, the way
// spinor_handler always calls spinorfs_gpt_disk_info before any action.
func NewSPINORDispatcher(path string) (*SPINORDispatcher, error) {
	dev, err := mtdblk.Open(path)
	if err != nil {
		return nil, err
	}

	table, err := gpt.Parse(mtdReaderAt{dev: dev})
	if err != nil {
		dev.Close()
		return nil, err
	}

	return &SPINORDispatcher{Device: dev, table: table}, nil
}

// Close releases the underlying MTD device.
func (d *SPINORDispatcher) Close() error {
	return d.Device.Close()
}

// ShowGPT prints every in-use partition, with byte ranges, to the normal log.
func (d *SPINORDispatcher) ShowGPT() {
	d.table.Show(true)
}

// partitionByName resolves a partition by exact GPT name.
func (d *SPINORDispatcher) partitionByName(name string) (gpt.Partition, error) {
	p, err := d.table.ByName(name)
	if err != nil {
		return gpt.Partition{}, fmt.Errorf("%w: name=%q", ErrPartitionNotFound, name)
	}
	return p, nil
}

// partitionByGUID resolves a partition by unique GUID.
func (d *SPINORDispatcher) partitionByGUID(g string) (gpt.Partition, error) {
	p, err := d.table.ByGUID(g)
	if err != nil {
		return gpt.Partition{}, fmt.Errorf("%w: guid=%q", ErrPartitionNotFound, g)
	}
	return p, nil
}

// mountStoreFile adapts an *lfsdev.Store to the uint32-offset ReadAt/WriteAt
// contract nvp.SPINORStorage.File requires.
type mountStoreFile struct {
	store *lfsdev.Store
}

func (s mountStoreFile) ReadAt(offset uint32, buf []byte) error {
	n, err := s.store.Read(offset, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("nvpdev: short read: got %d want %d", n, len(buf))
	}
	return nil
}

func (s mountStoreFile) WriteAt(offset uint32, data []byte) error {
	n, err := s.store.Write(offset, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("nvpdev: short write: got %d want %d", n, len(data))
	}
	return nil
}

// OpenRecord mounts the partition identified by name or guid (exactly one
// must be non-empty) as a single-file store named nvpFile, and opens the
// NVPARAM record at its start.
func (d *SPINORDispatcher) OpenRecord(name, guid, nvpFile string) (*nvp.Record, *lfsdev.Store, error) {
	var p gpt.Partition
	var err error

	if name != "" {
		p, err = d.partitionByName(name)
	} else {
		p, err = d.partitionByGUID(guid)
	}
	if err != nil {
		return nil, nil, err
	}

	bd := lfsdev.NewMTDBlockDevice(d.Device, p.Offset(), p.Size())
	store, err := lfsdev.MountOrFormat(bd, nvpFile)
	if err != nil {
		return nil, nil, err
	}

	s := nvp.SPINORStorage{File: mountStoreFile{store: store}}
	rec, err := nvp.Open(s, NVPSignature)
	if err != nil {
		return nil, nil, err
	}
	return rec, store, nil
}

// Dump streams the full mounted file's contents to a local raw file,
// DumpPageSize bytes at a time, mirroring dump_nvp_hdlr.
func Dump(store *lfsdev.Store, dumpFile string) error {
	out, err := os.Create(dumpFile)
	if err != nil {
		return fmt.Errorf("cannot open file %s: %w", dumpFile, err)
	}
	defer out.Close()

	buf := make([]byte, DumpPageSize)
	offset := uint32(0)
	remaining := store.Size()

	for remaining > 0 {
		chunk := uint32(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		n, err := store.Read(offset, buf[:chunk])
		if err != nil {
			return fmt.Errorf("error in read NVP file: %w", err)
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return fmt.Errorf("error in write to file %s: %w", dumpFile, err)
		}
		offset += uint32(n)
		remaining -= uint32(n)
	}

	nvplog.Debug("DONE dump NVP file: %d", offset)
	return nil
}

// Upload writes the contents of uploadFile to the mounted file from offset
// 0 in a single Write call, mirroring upload_nvp_hdlr. The recorded file
// size only grows, so a shorter upload leaves the old tail in place.
func Upload(store *lfsdev.Store, uploadFile string) error {
	data, err := os.ReadFile(uploadFile)
	if err != nil {
		return fmt.Errorf("cannot open file %s: %w", uploadFile, err)
	}

	n, err := store.Write(0, data)
	if err != nil {
		return fmt.Errorf("error write to NVP file: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("error write to NVP file: short write %d/%d", n, len(data))
	}

	nvplog.Debug("DONE write NVP file: %d", n)
	return nil
}

// readAll materializes a mounted store's full contents into one buffer.
func readAll(store *lfsdev.Store) ([]byte, error) {
	buf := make([]byte, store.Size())
	if _, err := store.Read(0, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// FieldOp names one of the four field-level operations a single invocation
// may request, mirroring operate_field_hdlr's read/write/erase dispatch.
type FieldOp int

const (
	FieldOpRead FieldOp = iota
	FieldOpWrite
	FieldOpSetValid
	FieldOpErase
)

// formatFieldValue renders a field's value the way operate_field_hdlr does,
// with the hex width matched to the record's declared field size.
func formatFieldValue(value uint64, fieldSize uint8) string {
	switch fieldSize {
	case nvp.FieldSize1:
		return fmt.Sprintf("0x%.2x", value)
	case nvp.FieldSize4:
		return fmt.Sprintf("0x%.8x", value)
	default:
		return fmt.Sprintf("0x%.16x", value)
	}
}

// OperateField applies op to field index i of rec and, for writes,
// valid-bit updates and erases, recomputes and rewrites the checksum whenever the record's
// Storage reports it dirty. value and explicitBit are only consulted for
// FieldOpWrite and FieldOpSetValid.
func OperateField(rec *nvp.Record, op FieldOp, i uint32, value uint64, explicitBit int) error {
	switch op {
	case FieldOpRead:
		val, valid, err := rec.ReadField(i)
		if err != nil {
			return err
		}
		nvplog.Normal("Index %d: %s, valid 0x%.2x", i, formatFieldValue(val, rec.Header.FieldSize), valid)
		return nil

	case FieldOpWrite:
		dirty, err := rec.WriteField(i, value, explicitBit)
		if err != nil {
			return err
		}
		if dirty {
			return rec.RecomputeChecksum()
		}
		return nil

	case FieldOpSetValid:
		dirty, err := rec.SetValid(i, explicitBit)
		if err != nil {
			return err
		}
		if dirty {
			return rec.RecomputeChecksum()
		}
		return nil

	case FieldOpErase:
		dirty, err := rec.EraseField(i)
		if err != nil {
			return err
		}
		if dirty {
			return rec.RecomputeChecksum()
		}
		return nil

	default:
		return fmt.Errorf("nvpdev: unknown field operation %d", op)
	}
}
