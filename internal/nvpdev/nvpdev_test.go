// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package nvpdev

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AmpereComputing/NVP-Management-Tool/internal/checksum"
	"github.com/AmpereComputing/NVP-Management-Tool/internal/nvp"
)

// fakeMedium is an in-memory ReadAt/WriteAt medium, standing in for a
// mounted lfsdev.Store or EEPROM device so OperateField's dispatch logic
// can be exercised without real flash or I2C hardware.
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

func openFakeRecord(t *testing.T) (*nvp.Record, *fakeMedium) {
	t.Helper()

	med := newFakeMedium(256)
	h := nvp.Header{
		HeaderSize: nvp.HeaderSize,
		Count:      4,
		Length:     64,
		DataOffset: 32,
		FieldSize:  nvp.FieldSize4,
		Flags:      nvp.FlagChecksumValid,
	}
	copy(h.Signature[:], "NVPARAM1")

	assert.NoError(t, med.WriteAt(0, h.EncodeFull()))

	rec, err := nvp.Open(nvp.SPINORStorage{File: med}, h.Signature)
	assert.NoError(t, err)
	return rec, med
}

func TestFormatFieldValueWidths(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("0x7a", formatFieldValue(0x7a, nvp.FieldSize1))
	assert.Equal("0x0000beef", formatFieldValue(0xbeef, nvp.FieldSize4))
	assert.Equal("0x000000000000beef", formatFieldValue(0xbeef, nvp.FieldSize8))
}

func TestOperateFieldReadDoesNotMutate(t *testing.T) {
	assert := assert.New(t)

	rec, med := openFakeRecord(t)
	before := append([]byte(nil), med.buf...)

	assert.NoError(t, OperateField(rec, FieldOpRead, 0, 0, -1))
	assert.Equal(before, med.buf)
}

func TestOperateFieldWriteRecomputesChecksumWhenFlagSet(t *testing.T) {
	assert := assert.New(t)

	rec, med := openFakeRecord(t)

	assert.NoError(t, OperateField(rec, FieldOpWrite, 1, 0xCAFEBABE, -1))

	val, valid, err := rec.ReadField(1)
	assert.NoError(err)
	assert.Equal(uint64(0xCAFEBABE), val)
	assert.Equal(uint8(nvp.ValidSet), valid)

	window := make([]byte, rec.Header.Length)
	assert.NoError(med.ReadAt(0, window))
	assert.True(checksum.Verify(window))
}

func TestOperateFieldSetValidExplicitIgnore(t *testing.T) {
	assert := assert.New(t)

	rec, _ := openFakeRecord(t)

	assert.NoError(t, OperateField(rec, FieldOpWrite, 2, 5, -1))
	assert.NoError(t, OperateField(rec, FieldOpSetValid, 2, 0, nvp.ValidIgnore))

	val, valid, err := rec.ReadField(2)
	assert.NoError(err)
	assert.Equal(uint64(5), val)
	assert.Equal(uint8(nvp.ValidIgnore), valid)
}

func TestOperateFieldEraseResetsFieldAndBit(t *testing.T) {
	assert := assert.New(t)

	rec, _ := openFakeRecord(t)

	assert.NoError(t, OperateField(rec, FieldOpWrite, 3, 42, -1))
	assert.NoError(t, OperateField(rec, FieldOpErase, 3, 0, -1))

	val, valid, err := rec.ReadField(3)
	assert.NoError(err)
	assert.Equal(uint64(0xFFFFFFFF), val)
	assert.Equal(uint8(nvp.ValidIgnore), valid)
}

func TestOperateFieldRejectsUnknownOp(t *testing.T) {
	assert := assert.New(t)

	rec, _ := openFakeRecord(t)
	err := OperateField(rec, FieldOp(99), 0, 0, -1)
	assert.Error(err)
}

func TestFindHostMTDPartitionPrefersOverride(t *testing.T) {
	assert := assert.New(t)

	path, err := FindHostMTDPartition("/dev/mtd7")
	assert.NoError(err)
	assert.Equal("/dev/mtd7", path)
}
