// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package nvp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/checksum"
)

// fakeMedium is an in-memory, fixed-size byte array satisfying the small
// ReadAt/WriteAt contract both SPINORStorage and BSDStorage wrap.
type fakeMedium struct {
	buf []byte
}

func newFakeMedium(size int) *fakeMedium {
	b := make([]byte, size)
	for i := range b {
		b[i] = 0xFF
	}
	return &fakeMedium{buf: b}
}

func (m *fakeMedium) ReadAt(offset uint32, buf []byte) error {
	copy(buf, m.buf[offset:])
	return nil
}

func (m *fakeMedium) WriteAt(offset uint32, data []byte) error {
	copy(m.buf[offset:], data)
	return nil
}

// buildSPINORRecord lays out a field_size=4, count=3 record (the S1/S2/S3
// scenario) at the start of a fake medium and returns the opened Record
// alongside the medium for direct inspection. data_offset=32 places the
// field array past the 26-byte header and its 1-byte bitmap.
func buildSPINORRecord(t *testing.T) (*Record, *fakeMedium) {
	t.Helper()

	med := newFakeMedium(256)
	h := Header{
		HeaderSize: HeaderSize,
		Count:      3,
		Length:     64,
		DataOffset: 32,
		FieldSize:  FieldSize4,
		Flags:      FlagChecksumValid,
	}
	copy(h.Signature[:], "NVPARAM1")

	s := SPINORStorage{File: med}
	assert.NoError(t, med.WriteAt(0, h.EncodeFull()))

	r, err := Open(s, h.Signature)
	assert.NoError(t, err)
	return r, med
}

func TestDecodeEncodeFullRoundTrip(t *testing.T) {
	assert := assert.New(t)

	h := Header{
		HeaderSize: HeaderSize,
		Count:      3,
		Checksum:   0x42,
		Length:     64,
		DataOffset: 16,
		FieldSize:  FieldSize4,
		Flags:      FlagChecksumValid,
	}
	copy(h.Signature[:], "NVPARAM1")

	wire := h.EncodeFull()
	assert.Len(wire, HeaderSize)

	got, err := DecodeHeader(wire)
	assert.NoError(err)
	assert.Equal(h, got)
}

func TestDecodeBSDHeaderLeavesFlagsZero(t *testing.T) {
	assert := assert.New(t)

	h := Header{
		HeaderSize: HeaderSize - HeaderAdjust,
		Count:      3,
		Checksum:   0x11,
		Length:     148,
		DataOffset: 16,
		FieldSize:  FieldSize1,
	}
	copy(h.Signature[:], "BSDNVPAR")

	wire := h.EncodeBSDWire()
	assert.Len(wire, HeaderSize-HeaderAdjust)

	got, err := DecodeBSDHeader(wire)
	assert.NoError(err)
	assert.Equal(uint32(0), got.Flags)
	assert.Equal(h.Checksum, got.Checksum)
	assert.Equal(h.Count, got.Count)
}

func TestChecksumFieldOffsetMatchesBSDChecksumOffset(t *testing.T) {
	assert := assert.New(t)

	const bsdOffset = 32
	const bsdChecksumOffset = 44
	assert.Equal(bsdChecksumOffset, bsdOffset+checksumFieldOffset)
}

func TestSPINORChecksumDirtyHonorsFlag(t *testing.T) {
	assert := assert.New(t)

	s := SPINORStorage{}
	assert.True(s.ChecksumDirty(Header{Flags: FlagChecksumValid}))
	assert.False(s.ChecksumDirty(Header{Flags: 0}))
}

func TestBSDChecksumDirtyAlwaysTrue(t *testing.T) {
	assert := assert.New(t)

	s := BSDStorage{}
	assert.True(s.ChecksumDirty(Header{Flags: 0}))
	assert.True(s.ChecksumDirty(Header{Flags: FlagChecksumValid}))
}

func TestOpenRejectsBadSignature(t *testing.T) {
	assert := assert.New(t)

	med := newFakeMedium(64)
	h := Header{HeaderSize: HeaderSize, FieldSize: FieldSize4}
	copy(h.Signature[:], "NVPARAM1")
	assert.NoError(t, med.WriteAt(0, h.EncodeFull()))

	var wantSig [8]byte
	copy(wantSig[:], "OTHERSIG")

	_, err := Open(SPINORStorage{File: med}, wantSig)
	assert.ErrorIs(err, ErrBadSignature)
}

func TestOpenRejectsBadFieldSize(t *testing.T) {
	assert := assert.New(t)

	med := newFakeMedium(64)
	h := Header{HeaderSize: HeaderSize, FieldSize: 3}
	copy(h.Signature[:], "NVPARAM1")
	assert.NoError(t, med.WriteAt(0, h.EncodeFull()))

	_, err := Open(SPINORStorage{File: med}, h.Signature)
	assert.ErrorIs(err, ErrBadFieldSize)
}

func TestWriteFieldThenReadField(t *testing.T) {
	assert := assert.New(t)

	r, _ := buildSPINORRecord(t)

	dirty, err := r.WriteField(1, 0xDEADBEEF, -1)
	assert.NoError(err)
	assert.True(dirty)

	val, valid, err := r.ReadField(1)
	assert.NoError(err)
	assert.Equal(uint64(0xDEADBEEF), val)
	assert.Equal(uint8(ValidSet), valid)
}

func TestWriteFieldRejectsOutOfRangeIndex(t *testing.T) {
	assert := assert.New(t)

	r, _ := buildSPINORRecord(t)

	_, err := r.WriteField(3, 1, -1)
	assert.ErrorIs(err, ErrIndexOOB)
}

func TestWriteFieldRejectsValueTooWide(t *testing.T) {
	assert := assert.New(t)

	r, _ := buildSPINORRecord(t)

	_, err := r.WriteField(0, 0x1_0000_0000, -1)
	assert.ErrorIs(err, ErrValueTooWide)
}

func TestWriteFieldExplicitValidBit(t *testing.T) {
	assert := assert.New(t)

	r, _ := buildSPINORRecord(t)

	_, err := r.WriteField(0, 7, ValidIgnore)
	assert.NoError(err)

	_, valid, err := r.ReadField(0)
	assert.NoError(err)
	assert.Equal(uint8(ValidIgnore), valid)
}

func TestSetValidOnlyTouchesBitmap(t *testing.T) {
	assert := assert.New(t)

	r, _ := buildSPINORRecord(t)

	_, err := r.WriteField(2, 99, -1)
	assert.NoError(err)

	dirty, err := r.SetValid(2, ValidIgnore)
	assert.NoError(err)
	assert.True(dirty)

	val, valid, err := r.ReadField(2)
	assert.NoError(err)
	assert.Equal(uint64(99), val)
	assert.Equal(uint8(ValidIgnore), valid)
}

func TestEraseFieldClearsValueAndBit(t *testing.T) {
	assert := assert.New(t)

	r, _ := buildSPINORRecord(t)

	_, err := r.WriteField(0, 123, -1)
	assert.NoError(err)

	dirty, err := r.EraseField(0)
	assert.NoError(err)
	assert.True(dirty)

	val, valid, err := r.ReadField(0)
	assert.NoError(err)
	assert.Equal(uint64(0xFFFFFFFF), val)
	assert.Equal(uint8(ValidIgnore), valid)
}

func TestRecomputeChecksumProducesZeroSum(t *testing.T) {
	assert := assert.New(t)

	r, med := buildSPINORRecord(t)

	_, err := r.WriteField(0, 1, -1)
	assert.NoError(err)

	assert.NoError(r.RecomputeChecksum())

	window := make([]byte, r.Header.Length)
	assert.NoError(med.ReadAt(0, window))
	assert.True(checksum.Verify(window))
}

// TestBSDRoundTripS4 exercises the BSD EEPROM scenario: a record whose
// header sits at BaseOffset=32 and whose checksum window covers the full
// 148-byte workaround width fixed in header.Length, starting at EEPROM
// offset 0 and so including the BSV prefix that precedes the header.
func TestBSDRoundTripS4(t *testing.T) {
	assert := assert.New(t)

	med := newFakeMedium(256)
	const baseOffset = 32

	h := Header{
		HeaderSize: HeaderSize - HeaderAdjust,
		Count:      4,
		Length:     148,
		DataOffset: baseOffset + HeaderSize - HeaderAdjust + BSDValidBitArraySize,
		FieldSize:  FieldSize1,
	}
	copy(h.Signature[:], "BSDNVPAR")

	s := BSDStorage{Device: med, BaseOffset: baseOffset}
	assert.NoError(t, med.WriteAt(baseOffset, h.EncodeBSDWire()))

	r, err := Open(s, h.Signature)
	assert.NoError(err)

	dirty, err := r.WriteField(0, 0x7A, -1)
	assert.NoError(err)
	assert.True(dirty)

	assert.NoError(r.RecomputeChecksum())

	window := make([]byte, r.Header.Length)
	assert.NoError(med.ReadAt(0, window))
	assert.True(checksum.Verify(window))
}
