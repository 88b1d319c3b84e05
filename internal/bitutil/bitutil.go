// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package bitutil provides the small bit- and byte-level helpers the
// NVPARAM record engine needs on top of a raw byte slice: per-bit get/set/
// clear on a bitmap, and human-readable byte-quantity formatting for
// progress logging.
package bitutil

import "fmt"

// GetBit returns the value of bit i (0 = LSB of byte 0) in arr.
func GetBit(arr []byte, i uint64) uint8 {
	return (arr[i/8] >> (i % 8)) & 1
}

// SetBit sets bit i in arr.
func SetBit(arr []byte, i uint64) {
	arr[i/8] |= 1 << (i % 8)
}

// ClearBit clears bit i in arr.
func ClearBit(arr []byte, i uint64) {
	arr[i/8] &^= 1 << (i % 8)
}

// FormatBytes formats a byte quantity using human-readable units (KB, MB, ...).
func FormatBytes(v uint64) string {
	var i int

	suffixes := [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}
	d := uint64(1)

	for i = 0; i < len(suffixes)-1; i++ {
		if v >= d*1000 {
			d *= 1000
		} else {
			break
		}
	}

	if i == 0 {
		return fmt.Sprintf("%d %s", v, suffixes[i])
	}
	return fmt.Sprintf("%.3g %s", float64(v)/float64(d), suffixes[i])
}

// Percentage returns the integer percentage of x out of total (0 if total is 0).
func Percentage(x, total int) int {
	if total == 0 {
		return 0
	}
	return (x * 100) / total
}
