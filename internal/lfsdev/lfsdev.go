// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package lfsdev adapts an internal/mtdblk device into the block-device
// contract a log-structured flash filesystem needs (read/prog/erase/sync at
// fixed geometry), and implements a minimal single-file store on top of it.
//
// No off-the-shelf Go LittleFS binding exists to wrap here, so Store
// reimplements just enough of its on-disk contract for this tool's single
// use case: one named data file per mounted partition, opened once,
// read/written at arbitrary absolute offsets. It deliberately does not
// implement LittleFS's wear-leveling metadata tree, directories, or
// multi-file support — see DESIGN.md for the tradeoff.
package lfsdev

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/mtdblk"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvplog"
)

// Fixed geometry mirroring the original tool's lfs_config: one SPI-NOR page
// per read/program/cache unit, wear-leveling disabled (block_cycles = -1).
const (
	ReadProgSize  = 512
	LookaheadSize = 16
	BlockCycles   = -1
)

var (
	// ErrInvalidBlock is returned when a block index is out of range for the mounted partition.
	ErrInvalidBlock = errors.New("lfsdev: invalid block")
	// ErrIO wraps any underlying device read/program/erase failure.
	ErrIO = errors.New("lfsdev: i/o failure")
	// ErrNoFile reports that no file is open. Store's methods never return
	// it: a Store only exists after a successful Mount.
	ErrNoFile = errors.New("lfsdev: no file open")
	// ErrNameMismatch is returned when Mount finds a superblock for a different file name.
	ErrNameMismatch = errors.New("lfsdev: mounted file name mismatch")
)

const (
	superMagic   = 0x4C465332 // "LFS2"
	maxNameLen   = 32
	superVersion = 1
)

// blockDevice is the minimal read/prog/erase/sync contract a store needs,
// grounded on the original tool's flash_read_lfs/flash_write_lfs/flash_erase_lfs/flash_sync_lfs.
type blockDevice interface {
	ReadBlock(block uint32, off uint32, buf []byte) error
	ProgBlock(block uint32, off uint32, data []byte) error
	EraseBlock(block uint32) error
	Sync() error
	BlockSize() uint32
	BlockCount() uint32
}

// mtdBlockDevice adapts *mtdblk.Device into blockDevice, confined to the
// byte range [partOffset, partOffset+partSize).
type mtdBlockDevice struct {
	dev        *mtdblk.Device
	partOffset uint32
	blockSize  uint32
	blockCount uint32
}

// NewMTDBlockDevice binds an MTD device to the geometry of one partition,
// using the MTD's native erase size as the block size.
func NewMTDBlockDevice(dev *mtdblk.Device, partOffset, partSize uint32) *mtdBlockDevice {
	return &mtdBlockDevice{
		dev:        dev,
		partOffset: partOffset,
		blockSize:  dev.EraseSize,
		blockCount: partSize / dev.EraseSize,
	}
}

func (d *mtdBlockDevice) BlockSize() uint32  { return d.blockSize }
func (d *mtdBlockDevice) BlockCount() uint32 { return d.blockCount }

func (d *mtdBlockDevice) checkBlock(block uint32) error {
	if block >= d.blockCount {
		return ErrInvalidBlock
	}
	return nil
}

func (d *mtdBlockDevice) ReadBlock(block uint32, off uint32, buf []byte) error {
	if err := d.checkBlock(block); err != nil {
		return err
	}
	offset := block*d.blockSize + off + d.partOffset
	if err := d.dev.ReadAt(offset, buf); err != nil {
		return ErrIO
	}
	return nil
}

func (d *mtdBlockDevice) ProgBlock(block uint32, off uint32, data []byte) error {
	if err := d.checkBlock(block); err != nil {
		return err
	}
	offset := block*d.blockSize + off + d.partOffset
	if err := d.dev.WriteAt(offset, data); err != nil {
		return ErrIO
	}
	return nil
}

func (d *mtdBlockDevice) EraseBlock(block uint32) error {
	if err := d.checkBlock(block); err != nil {
		return err
	}
	offset := block*d.blockSize + d.partOffset
	if err := d.dev.Erase(offset, d.blockSize); err != nil {
		return ErrIO
	}
	return nil
}

// Sync is a no-op: every ProgBlock call above writes straight through to the
// device, exactly as the original tool's flash_sync_lfs documents.
func (d *mtdBlockDevice) Sync() error { return nil }

// Store is a single-open-file block store: block 0 holds a superblock
// (magic, file name, file length); the file's bytes occupy every block from
// 1 onward.
type Store struct {
	bd       blockDevice
	name     string
	fileSize uint32
}

// superblock is the fixed-layout block-0 record.
type superblock struct {
	Magic   uint32
	Version uint32
	Name    [maxNameLen]byte
	Size    uint32
}

const superblockSize = 4 + 4 + maxNameLen + 4

func encodeSuperblock(s superblock) []byte {
	buf := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], s.Version)
	copy(buf[8:8+maxNameLen], s.Name[:])
	binary.LittleEndian.PutUint32(buf[8+maxNameLen:12+maxNameLen], s.Size)
	return buf
}

func decodeSuperblock(buf []byte) superblock {
	var s superblock
	s.Magic = binary.LittleEndian.Uint32(buf[0:4])
	s.Version = binary.LittleEndian.Uint32(buf[4:8])
	copy(s.Name[:], buf[8:8+maxNameLen])
	s.Size = binary.LittleEndian.Uint32(buf[8+maxNameLen : 12+maxNameLen])
	return s
}

// Format erases block 0 and writes a fresh superblock declaring an
// empty file of the given name.
func Format(bd blockDevice, name string) error {
	if err := bd.EraseBlock(0); err != nil {
		return err
	}

	var s superblock
	s.Magic = superMagic
	s.Version = superVersion
	copy(s.Name[:], name)
	s.Size = 0

	return bd.ProgBlock(0, 0, encodeSuperblock(s))
}

// Mount reads the superblock at block 0 and validates it against name. If
// the superblock is unreadable or carries a bad magic, the caller should
// Format and retry once, mirroring the original tool's mount policy.
func Mount(bd blockDevice, name string) (*Store, error) {
	buf := make([]byte, superblockSize)
	if err := bd.ReadBlock(0, 0, buf); err != nil {
		return nil, err
	}

	s := decodeSuperblock(buf)
	if s.Magic != superMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrIO, s.Magic)
	}

	gotName := trimNUL(s.Name[:])
	if gotName != "" && gotName != name {
		return nil, fmt.Errorf("%w: mounted=%q requested=%q", ErrNameMismatch, gotName, name)
	}

	return &Store{bd: bd, name: name, fileSize: s.Size}, nil
}

// MountOrFormat mounts the store, formatting and retrying exactly once on
// mount failure — the same policy the original tool's spinorfs_mount applies.
func MountOrFormat(bd blockDevice, name string) (*Store, error) {
	store, err := Mount(bd, name)
	if err == nil {
		return store, nil
	}

	nvplog.Normal("Mount failed. Format then retry mount..")
	if ferr := Format(bd, name); ferr != nil {
		return nil, ferr
	}
	return Mount(bd, name)
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// dataBlock and dataOff translate a byte offset within the file (which
// starts at block 1) into its block index and in-block offset.
func (s *Store) dataBlock(fileOffset uint32) (uint32, uint32) {
	blockSize := s.bd.BlockSize()
	return 1 + fileOffset/blockSize, fileOffset % blockSize
}

// Read reads len(buf) bytes from the open file starting at the given
// absolute file offset. Every call re-seeks: there is no persistent file
// cursor, mirroring spinorfs_read's (buff, offset, size) signature.
func (s *Store) Read(offset uint32, buf []byte) (int, error) {
	blockSize := s.bd.BlockSize()
	n := 0
	for n < len(buf) {
		block, off := s.dataBlock(offset + uint32(n))
		chunk := blockSize - off
		if remain := len(buf) - n; uint32(remain) < chunk {
			chunk = uint32(remain)
		}
		if err := s.bd.ReadBlock(block, off, buf[n:n+int(chunk)]); err != nil {
			return -1, err
		}
		n += int(chunk)
	}
	return n, nil
}

// Write writes data to the open file at the given absolute file offset,
// splitting at block boundaries, and updates the superblock's recorded
// file size if the write extends it.
func (s *Store) Write(offset uint32, data []byte) (int, error) {
	blockSize := s.bd.BlockSize()
	n := 0
	for n < len(data) {
		block, off := s.dataBlock(offset + uint32(n))
		chunk := blockSize - off
		if remain := len(data) - n; uint32(remain) < chunk {
			chunk = uint32(remain)
		}
		if err := s.bd.ProgBlock(block, off, data[n:n+int(chunk)]); err != nil {
			return -1, err
		}
		n += int(chunk)
	}

	if end := offset + uint32(len(data)); end > s.fileSize {
		s.fileSize = end
		if err := s.persistSize(); err != nil {
			return -1, err
		}
	}

	return n, s.bd.Sync()
}

func (s *Store) persistSize() error {
	buf := make([]byte, superblockSize)
	if err := s.bd.ReadBlock(0, 0, buf); err != nil {
		return err
	}
	sb := decodeSuperblock(buf)
	sb.Size = s.fileSize
	return s.bd.ProgBlock(0, 0, encodeSuperblock(sb))
}

// Size returns the current recorded length of the open file.
func (s *Store) Size() uint32 {
	return s.fileSize
}
