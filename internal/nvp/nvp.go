// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package nvp implements the NVPARAM record engine: header decode, the
// per-field valid-bit bitmap, field read/write/erase dispatch by width, and
// checksum maintenance. It is substrate-agnostic — SPI-NOR files and the
// BSD EEPROM image both satisfy the Storage interface and share every
// operation below.
package nvp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/bitutil"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/checksum"
)

// Field widths a record may declare. No other value is legal.
const (
	FieldSize1 = 1
	FieldSize4 = 4
	FieldSize8 = 8
)

// FlagChecksumValid marks a record as maintaining a checksum that must be
// rewritten on every mutation.
const FlagChecksumValid = 1 << 0

// Valid-bit operation values accepted by write_field/set_valid.
const (
	ValidIgnore = 0
	ValidSet    = 1
)

// HeaderSize is the full in-memory header layout used by SPI-NOR records.
// BSD records are read/written with the trailing HeaderAdjust bytes (the
// Flags field) dropped — see DecodeBSDHeader and Header.EncodeBSDWire.
const HeaderSize = 26

// HeaderAdjust is the byte count the BSD wire header omits relative to
// HeaderSize: a trailing 4-byte Flags field added to the in-memory layout
// after the BSD EEPROM's ROM-era record format was fixed. BSD mutations
// therefore always recompute the checksum, since Flags/CHECKSUM_VALID is
// never observed on that substrate.
const HeaderAdjust = 4

// checksumFieldOffset is the byte offset of the Checksum field within the
// header, relative to the record's base offset on either substrate.
const checksumFieldOffset = 12

// Errors returned while decoding or operating on a record.
var (
	ErrBadSignature  = errors.New("nvp: bad signature")
	ErrBadFieldSize  = errors.New("nvp: field_size not in {1,4,8}")
	ErrBadValidBit   = errors.New("nvp: valid bit must be 0 (ignore) or 1 (set)")
	ErrIndexOOB      = errors.New("nvp: field index out of range")
	ErrValueTooWide  = errors.New("nvp: value does not fit in field width")
	ErrShortTransfer = errors.New("nvp: short read/write")
)

// Header is the decoded NVPARAM record header common to both substrates.
type Header struct {
	Signature  [8]byte
	HeaderSize uint16
	Count      uint16
	Checksum   uint8
	Length     uint32
	DataOffset uint32
	FieldSize  uint8
	Flags      uint32
}

// DecodeHeader decodes the full HeaderSize-byte SPI-NOR wire form.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("%w: need %d bytes, got %d", ErrShortTransfer, HeaderSize, len(buf))
	}
	if err := binary.Read(bytes.NewReader(buf[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, err
	}
	return h, nil
}

// DecodeBSDHeader decodes the (HeaderSize-HeaderAdjust)-byte BSD wire form;
// Flags is left zero, matching the original tool's zero-initialized struct.
func DecodeBSDHeader(buf []byte) (Header, error) {
	wireLen := HeaderSize - HeaderAdjust
	var h Header
	if len(buf) < wireLen {
		return h, fmt.Errorf("%w: need %d bytes, got %d", ErrShortTransfer, wireLen, len(buf))
	}
	fields := []interface{}{&h.Signature, &h.HeaderSize, &h.Count, &h.Checksum, &h.Length, &h.DataOffset, &h.FieldSize}
	r := bytes.NewReader(buf[:wireLen])
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return h, err
		}
	}
	return h, nil
}

// EncodeFull renders the full HeaderSize-byte SPI-NOR wire form.
func (h Header) EncodeFull() []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// EncodeBSDWire renders the (HeaderSize-HeaderAdjust)-byte BSD wire form,
// omitting the trailing Flags field.
func (h Header) EncodeBSDWire() []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, h.Signature)
	binary.Write(buf, binary.LittleEndian, h.HeaderSize)
	binary.Write(buf, binary.LittleEndian, h.Count)
	binary.Write(buf, binary.LittleEndian, h.Checksum)
	binary.Write(buf, binary.LittleEndian, h.Length)
	binary.Write(buf, binary.LittleEndian, h.DataOffset)
	binary.Write(buf, binary.LittleEndian, h.FieldSize)
	return buf.Bytes()
}

// ValidateFieldSize reports whether the header declares a legal field width.
func (h Header) ValidateFieldSize() error {
	switch h.FieldSize {
	case FieldSize1, FieldSize4, FieldSize8:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrBadFieldSize, h.FieldSize)
	}
}

// ChecksumDirty reports whether this header declares a maintained checksum.
func (h Header) ChecksumDirty() bool {
	return h.Flags&FlagChecksumValid != 0
}

// Storage is the substrate-specific half of a record: where its bytes live
// and how wide its header and bitmap are on that medium. SPI-NOR files and
// the BSD EEPROM image both implement it; Record operations below are
// otherwise identical across both.
type Storage interface {
	// ReadAt/WriteAt address the underlying medium directly: an absolute
	// file offset for SPI-NOR, an absolute EEPROM byte offset for BSD.
	ReadAt(offset uint32, buf []byte) error
	WriteAt(offset uint32, data []byte) error

	// RecordBase is the offset at which the header begins.
	RecordBase() uint32
	// ChecksumWindowBase is the offset at which the sum8 window begins;
	// on BSD this differs from RecordBase (it includes the leading
	// Boot-Strap Vector bytes).
	ChecksumWindowBase() uint32
	// HeaderWireSize is the number of bytes read/written for the header.
	HeaderWireSize() uint32
	// BitmapSize returns the bitmap length in bytes for a decoded header.
	BitmapSize(h Header) uint32
	// DecodeHeader and EncodeHeader perform the substrate's header wire
	// conversion (full vs. BSD-truncated).
	DecodeHeader(buf []byte) (Header, error)
	EncodeHeader(h Header) []byte
	// ChecksumDirty reports whether a mutation to h should trigger a
	// checksum recompute. SPI-NOR honors the header's CHECKSUM_VALID
	// flag; BSD always recomputes, since its wire header never carries
	// Flags at all (see HeaderAdjust).
	ChecksumDirty(h Header) bool
}

// SPINORStorage is the Storage implementation for an NVP file opened
// through the filesystem adapter: the record begins at file offset 0 and
// the checksum lives inside the header itself.
type SPINORStorage struct {
	File interface {
		ReadAt(offset uint32, buf []byte) error
		WriteAt(offset uint32, data []byte) error
	}
}

func (s SPINORStorage) ReadAt(offset uint32, buf []byte) error  { return s.File.ReadAt(offset, buf) }
func (s SPINORStorage) WriteAt(offset uint32, data []byte) error { return s.File.WriteAt(offset, data) }
func (s SPINORStorage) RecordBase() uint32                      { return 0 }
func (s SPINORStorage) ChecksumWindowBase() uint32               { return 0 }
func (s SPINORStorage) HeaderWireSize() uint32                   { return HeaderSize }
func (s SPINORStorage) BitmapSize(h Header) uint32 {
	return uint32(h.Count)/8 + boolToUint32(uint32(h.Count)%8 != 0)
}
func (s SPINORStorage) DecodeHeader(buf []byte) (Header, error) { return DecodeHeader(buf) }
func (s SPINORStorage) EncodeHeader(h Header) []byte            { return h.EncodeFull() }
func (s SPINORStorage) ChecksumDirty(h Header) bool              { return h.ChecksumDirty() }

// BSDStorage is the Storage implementation for the Boot-Strap Data EEPROM
// image: the header sits at a fixed offset past the leading BSV bytes, the
// bitmap is a fixed 8 bytes, and the checksum window covers the whole
// record from EEPROM offset 0 (including the BSV prefix).
type BSDStorage struct {
	Device interface {
		ReadAt(offset uint32, buf []byte) error
		WriteAt(offset uint32, data []byte) error
	}
	// BaseOffset is the EEPROM offset at which the header begins
	// (BSD_OFFSET = 32 in the original tool).
	BaseOffset uint32
}

// BSDValidBitArraySize is the fixed bitmap width the BSD substrate uses
// regardless of the record's declared field count.
const BSDValidBitArraySize = 8

func (s BSDStorage) ReadAt(offset uint32, buf []byte) error   { return s.Device.ReadAt(offset, buf) }
func (s BSDStorage) WriteAt(offset uint32, data []byte) error { return s.Device.WriteAt(offset, data) }
func (s BSDStorage) RecordBase() uint32                       { return s.BaseOffset }
func (s BSDStorage) ChecksumWindowBase() uint32                { return 0 }
func (s BSDStorage) HeaderWireSize() uint32                    { return HeaderSize - HeaderAdjust }
func (s BSDStorage) BitmapSize(Header) uint32                  { return BSDValidBitArraySize }
func (s BSDStorage) DecodeHeader(buf []byte) (Header, error)   { return DecodeBSDHeader(buf) }
func (s BSDStorage) EncodeHeader(h Header) []byte              { return h.EncodeBSDWire() }
func (s BSDStorage) ChecksumDirty(Header) bool                 { return true }

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Record is an opened NVPARAM record bound to one Storage.
type Record struct {
	s      Storage
	Header Header
}

// Open reads and validates the header at s.RecordBase(), checking the
// expected 8-byte signature and the field-size invariant.
func Open(s Storage, wantSignature [8]byte) (*Record, error) {
	buf := make([]byte, s.HeaderWireSize())
	if err := s.ReadAt(s.RecordBase(), buf); err != nil {
		return nil, err
	}

	h, err := s.DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.Signature != wantSignature {
		return nil, fmt.Errorf("%w: got %q", ErrBadSignature, h.Signature)
	}
	if err := h.ValidateFieldSize(); err != nil {
		return nil, err
	}

	return &Record{s: s, Header: h}, nil
}

func (r *Record) checkIndex(i uint32) error {
	if i >= uint32(r.Header.Count) {
		return fmt.Errorf("%w: index=%d count=%d", ErrIndexOOB, i, r.Header.Count)
	}
	return nil
}

func (r *Record) readBitmap() ([]byte, error) {
	size := r.s.BitmapSize(r.Header)
	buf := make([]byte, size)
	if err := r.s.ReadAt(r.s.RecordBase()+r.s.HeaderWireSize(), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Record) writeBitmap(buf []byte) error {
	return r.s.WriteAt(r.s.RecordBase()+r.s.HeaderWireSize(), buf)
}

func (r *Record) fieldOffset(i uint32) uint32 {
	return r.Header.DataOffset + i*uint32(r.Header.FieldSize)
}

// ReadField returns the field's raw little-endian value (zero-extended to
// uint64) and its validity bit.
func (r *Record) ReadField(i uint32) (value uint64, valid uint8, err error) {
	if err = r.checkIndex(i); err != nil {
		return 0, 0, err
	}

	fbuf := make([]byte, r.Header.FieldSize)
	if err = r.s.ReadAt(r.fieldOffset(i), fbuf); err != nil {
		return 0, 0, err
	}

	bitmap, err := r.readBitmap()
	if err != nil {
		return 0, 0, err
	}

	return decodeFieldValue(fbuf), bitutil.GetBit(bitmap, uint64(i)), nil
}

func decodeFieldValue(buf []byte) uint64 {
	switch len(buf) {
	case FieldSize1:
		return uint64(buf[0])
	case FieldSize4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case FieldSize8:
		return binary.LittleEndian.Uint64(buf)
	default:
		return 0
	}
}

func encodeFieldValue(v uint64, size uint8) []byte {
	buf := make([]byte, size)
	switch size {
	case FieldSize1:
		buf[0] = byte(v)
	case FieldSize4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case FieldSize8:
		binary.LittleEndian.PutUint64(buf, v)
	}
	return buf
}

func fitsInWidth(v uint64, size uint8) bool {
	switch size {
	case FieldSize1:
		return v <= 0xFF
	case FieldSize4:
		return v <= 0xFFFFFFFF
	case FieldSize8:
		return true
	default:
		return false
	}
}

// applyValidBit sets or clears bit i of bitmap per the IGNORE/SET convention.
func applyValidBit(bitmap []byte, i uint32, bit int) error {
	switch bit {
	case ValidIgnore:
		bitutil.ClearBit(bitmap, uint64(i))
	case ValidSet:
		bitutil.SetBit(bitmap, uint64(i))
	default:
		return fmt.Errorf("%w: got 0x%02x", ErrBadValidBit, bit)
	}
	return nil
}

// WriteField writes v at field i, then updates its validity bit: explicitBit
// is one of ValidIgnore/ValidSet if the caller passed -v, or -1 to apply the
// engine's default (set the bit). Returns whether the checksum is now dirty.
func (r *Record) WriteField(i uint32, v uint64, explicitBit int) (checksumDirty bool, err error) {
	if err = r.checkIndex(i); err != nil {
		return false, err
	}
	if !fitsInWidth(v, r.Header.FieldSize) {
		return false, fmt.Errorf("%w: 0x%x does not fit in %d bytes", ErrValueTooWide, v, r.Header.FieldSize)
	}

	if err = r.s.WriteAt(r.fieldOffset(i), encodeFieldValue(v, r.Header.FieldSize)); err != nil {
		return false, err
	}

	bitmap, err := r.readBitmap()
	if err != nil {
		return false, err
	}

	bit := explicitBit
	if bit < 0 {
		bit = ValidSet
	}
	if err = applyValidBit(bitmap, i, bit); err != nil {
		return false, err
	}
	if err = r.writeBitmap(bitmap); err != nil {
		return false, err
	}

	return r.s.ChecksumDirty(r.Header), nil
}

// SetValid updates only field i's validity bit.
func (r *Record) SetValid(i uint32, bit int) (checksumDirty bool, err error) {
	if err = r.checkIndex(i); err != nil {
		return false, err
	}

	bitmap, err := r.readBitmap()
	if err != nil {
		return false, err
	}
	if err = applyValidBit(bitmap, i, bit); err != nil {
		return false, err
	}
	if err = r.writeBitmap(bitmap); err != nil {
		return false, err
	}

	return r.s.ChecksumDirty(r.Header), nil
}

// EraseField sets field i to all-ones and clears its validity bit.
func (r *Record) EraseField(i uint32) (checksumDirty bool, err error) {
	if err = r.checkIndex(i); err != nil {
		return false, err
	}

	erased := make([]byte, r.Header.FieldSize)
	for j := range erased {
		erased[j] = 0xFF
	}
	if err = r.s.WriteAt(r.fieldOffset(i), erased); err != nil {
		return false, err
	}

	bitmap, err := r.readBitmap()
	if err != nil {
		return false, err
	}
	bitutil.ClearBit(bitmap, uint64(i))
	if err = r.writeBitmap(bitmap); err != nil {
		return false, err
	}

	return r.s.ChecksumDirty(r.Header), nil
}

// RecomputeChecksum reads the full sum8 window (header.Length bytes from
// ChecksumWindowBase), zeroes the checksum byte, recomputes sum8, and
// rewrites the header so the new checksum takes effect.
func (r *Record) RecomputeChecksum() error {
	window := make([]byte, r.Header.Length)
	if err := r.s.ReadAt(r.s.ChecksumWindowBase(), window); err != nil {
		return err
	}

	csOff := r.s.RecordBase() - r.s.ChecksumWindowBase() + checksumFieldOffset
	window[csOff] = 0

	r.Header.Checksum = checksum.Sum8(window)

	return r.s.WriteAt(r.s.RecordBase(), r.s.EncodeHeader(r.Header))
}
