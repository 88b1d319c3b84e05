// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package checksum implements the 8-bit two's-complement checksum that
// NVPARAM records use: the sum of every byte in the checksummed region,
// including the checksum byte itself, must be zero mod 256.
package checksum

// Sum8 returns the checksum byte that, if placed at the checksum offset
// (with that offset zeroed during the sum), makes the sum of data equal to
// zero mod 256 on reread.
func Sum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(0x100 - int(sum))
}

// Verify reports whether data (including its checksum byte) sums to zero mod 256.
func Verify(data []byte) bool {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum == 0
}
