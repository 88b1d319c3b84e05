// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

package mtdblk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEraseBlockCountExactMultiple(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(4, eraseBlockCount(256*1024, 64*1024))
}

func TestEraseBlockCountRoundsUp(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(2, eraseBlockCount(64*1024+1, 64*1024))
}

func TestEraseBlockCountSmallerThanOneBlock(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1, eraseBlockCount(16, 64*1024))
}
