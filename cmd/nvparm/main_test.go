// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFlagsResolvesSPINORDevice(t *testing.T) {
	assert := assert.New(t)

	o, err := parseFlags([]string{"-t", "validation", "-f", "nvpfile", "-i", "2", "-r"})
	assert.NoError(err)
	assert.Equal(deviceSPINOR, o.dev)
	assert.Equal("validation", o.part)
	assert.Equal(uint32(2), o.fieldIndex)
	assert.True(o.read)
}

func TestParseFlagsGUIDZeroSelectsEEPROM(t *testing.T) {
	assert := assert.New(t)

	o, err := parseFlags([]string{"-u", "0", "-i", "0", "-r"})
	assert.NoError(err)
	assert.Equal(deviceEEPROM, o.dev)
}

func TestParseFlagsPartitionNameSelectsEEPROM(t *testing.T) {
	assert := assert.New(t)

	o, err := parseFlags([]string{"-t", "nvparamb", "-i", "0", "-r"})
	assert.NoError(err)
	assert.Equal(deviceEEPROM, o.dev)
}

func TestParseFlagsRejectsInvalidGUID(t *testing.T) {
	assert := assert.New(t)

	_, err := parseFlags([]string{"-u", "not-a-guid", "-r"})
	assert.ErrorIs(err, ErrUsage)
}

func TestParseFlagsRejectsBadHexWrite(t *testing.T) {
	assert := assert.New(t)

	_, err := parseFlags([]string{"-t", "x", "-f", "y", "-i", "0", "-w", "zzzz"})
	assert.ErrorIs(err, ErrUsage)
}

func TestVerifyOptRejectsMissingSelector(t *testing.T) {
	assert := assert.New(t)

	o := &options{read: true}
	assert.ErrorIs(verifyOpt(o), ErrUsage)
}

func TestVerifyOptRejectsBothTAndU(t *testing.T) {
	assert := assert.New(t)

	o := &options{partSet: true, guidSet: true, read: true, dev: deviceSPINOR}
	assert.ErrorIs(verifyOpt(o), ErrUsage)
}

func TestVerifyOptSPINORRequiresFileAndIndex(t *testing.T) {
	assert := assert.New(t)

	o := &options{partSet: true, dev: deviceSPINOR, read: true}
	assert.ErrorIs(verifyOpt(o), ErrUsage)
}

func TestVerifyOptSPINORAllowsWriteWithValid(t *testing.T) {
	assert := assert.New(t)

	o := &options{
		partSet: true, dev: deviceSPINOR, fileSet: true, indexSet: true,
		writeSet: true, validSet: true,
	}
	assert.NoError(verifyOpt(o))
}

func TestVerifyOptSPINORRejectsReadAndErase(t *testing.T) {
	assert := assert.New(t)

	o := &options{
		partSet: true, dev: deviceSPINOR, fileSet: true, indexSet: true,
		read: true, erase: true,
	}
	assert.ErrorIs(verifyOpt(o), ErrUsage)
}

func TestVerifyOptEEPROMRejectsMTDOverride(t *testing.T) {
	assert := assert.New(t)

	o := &options{
		guidSet: true, dev: deviceEEPROM, indexSet: true, read: true, mtdSet: true,
	}
	assert.ErrorIs(verifyOpt(o), ErrUsage)
}

func TestVerifyOptEEPROMDumpDoesNotNeedIndex(t *testing.T) {
	assert := assert.New(t)

	o := &options{guidSet: true, dev: deviceEEPROM, dumpSet: true, dumpFile: "out.bin"}
	assert.NoError(verifyOpt(o))
}

func TestVerifyOptGlobalFlagsExcludeOthers(t *testing.T) {
	assert := assert.New(t)

	o := &options{version: true, partSet: true}
	assert.ErrorIs(verifyOpt(o), ErrUsage)
}

func TestVerifyOptVersionAndHelpExclusive(t *testing.T) {
	assert := assert.New(t)

	o := &options{version: true, help: true}
	assert.ErrorIs(verifyOpt(o), ErrUsage)
}

func TestVerifyOptVersionAloneSucceeds(t *testing.T) {
	assert := assert.New(t)

	o := &options{version: true}
	assert.NoError(verifyOpt(o))
}
