// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package lfsdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeBlockDevice is an in-memory blockDevice for exercising Store without
// real flash hardware.
type fakeBlockDevice struct {
	blocks     [][]byte
	blockSize  uint32
	blockCount uint32
}

func newFakeBlockDevice(blockCount int, blockSize uint32) *fakeBlockDevice {
	blocks := make([][]byte, blockCount)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
		for j := range blocks[i] {
			blocks[i][j] = 0xFF
		}
	}
	return &fakeBlockDevice{blocks: blocks, blockSize: blockSize, blockCount: uint32(blockCount)}
}

func (f *fakeBlockDevice) BlockSize() uint32  { return f.blockSize }
func (f *fakeBlockDevice) BlockCount() uint32 { return f.blockCount }

func (f *fakeBlockDevice) ReadBlock(block, off uint32, buf []byte) error {
	copy(buf, f.blocks[block][off:])
	return nil
}

func (f *fakeBlockDevice) ProgBlock(block, off uint32, data []byte) error {
	copy(f.blocks[block][off:], data)
	return nil
}

func (f *fakeBlockDevice) EraseBlock(block uint32) error {
	for i := range f.blocks[block] {
		f.blocks[block][i] = 0xFF
	}
	return nil
}

func (f *fakeBlockDevice) Sync() error { return nil }

func TestMountFailsThenFormatSucceeds(t *testing.T) {
	assert := assert.New(t)

	bd := newFakeBlockDevice(8, ReadProgSize)

	_, err := Mount(bd, "nvparamb")
	assert.Error(err)

	store, err := MountOrFormat(bd, "nvparamb")
	assert.NoError(err)
	assert.Equal(uint32(0), store.Size())
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	assert := assert.New(t)

	bd := newFakeBlockDevice(8, ReadProgSize)
	store, err := MountOrFormat(bd, "nvparamb")
	assert.NoError(err)

	payload := []byte("hello nvparam record data")
	n, err := store.Write(0, payload)
	assert.NoError(err)
	assert.Equal(len(payload), n)
	assert.Equal(uint32(len(payload)), store.Size())

	out := make([]byte, len(payload))
	n, err = store.Read(0, out)
	assert.NoError(err)
	assert.Equal(len(payload), n)
	assert.Equal(payload, out)
}

func TestWriteAcrossBlockBoundary(t *testing.T) {
	assert := assert.New(t)

	bd := newFakeBlockDevice(8, ReadProgSize)
	store, err := MountOrFormat(bd, "nvparamb")
	assert.NoError(err)

	payload := make([]byte, ReadProgSize+10)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	_, err = store.Write(0, payload)
	assert.NoError(err)

	out := make([]byte, len(payload))
	_, err = store.Read(0, out)
	assert.NoError(err)
	assert.Equal(payload, out)
}

func TestMountRejectsNameMismatch(t *testing.T) {
	assert := assert.New(t)

	bd := newFakeBlockDevice(8, ReadProgSize)
	assert.NoError(Format(bd, "nvparamb"))

	_, err := Mount(bd, "other-name")
	assert.ErrorIs(err, ErrNameMismatch)
}
