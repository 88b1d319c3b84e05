// Copyright 2024 Ampere Computing LLC. All rights reserved.
// Use of this source code is governed by a BSD-3-Clause license that can be
// found in the LICENSE file.

// Package guid converts between the canonical 36-character GUID text form
// and its 16-byte on-wire representation, where the first three groups are
// little-endian and the last two are big-endian.
package guid

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// Size is the length in bytes of a GUID.
	Size = 16
	// StringLen is the length of the canonical GUID string form.
	StringLen = 36
)

// ErrInvalidSyntax is returned when a string does not match the canonical
// xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx GUID form.
var ErrInvalidSyntax = errors.New("guid: invalid syntax")

// byteOrder maps position i in the 16-byte wire array to the hex-pair index
// (0..15) it is read from in the canonical string's stripped hex digits.
// Groups 1-3 are little-endian (reversed), groups 4-5 are big-endian
// (in order), matching the permutation used by the firmware's GUID fields.
var byteOrder = [Size]int{3, 2, 1, 0, 5, 4, 7, 6, 8, 9, 10, 11, 12, 13, 14, 15}

func isValidSyntax(s string) bool {
	if len(s) != StringLen {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHexDigit(byte(c)) {
				return false
			}
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// StringToBytes parses a canonical GUID string into its 16-byte wire form.
func StringToBytes(s string) ([Size]byte, error) {
	var out [Size]byte

	if !isValidSyntax(s) {
		return out, fmt.Errorf("%w: %q", ErrInvalidSyntax, s)
	}

	stripped := strings.ReplaceAll(s, "-", "")
	raw, err := hex.DecodeString(stripped)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}

	for i, srcIdx := range byteOrder {
		out[i] = raw[srcIdx]
	}

	return out, nil
}

// BytesToString renders the canonical GUID string for a 16-byte wire value.
func BytesToString(b [Size]byte) string {
	raw := make([]byte, Size)
	for srcIdx, wireIdx := range byteOrder {
		raw[srcIdx] = b[wireIdx]
	}

	h := hex.EncodeToString(raw)
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s-%s-%s",
		h[0:8], h[8:12], h[12:16], h[16:20], h[20:32]))
}

// IsZero reports whether a GUID is the all-zero sentinel marking an unused partition entry.
func IsZero(b [Size]byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
