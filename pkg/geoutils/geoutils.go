// Copyright (c) 2021-2024 SigScalr, Inc.
//
// This file is part of SigLens Observability Solution
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package geoutils packs geo grid cells into single 64-bit values so the
// aggregation engine can treat them as opaque bucket keys. A cell is the
// usual interleaved lon/lat bit refinement (Morton order), grouped into
// 5-bit base-32 digits: the low 4 bits of the packed value hold the
// precision (1..12 digits), the digits sit above it with the first digit
// highest.
package geoutils

import (
	toputils "github.com/siglens/shardaggs/pkg/utils"
)

const MAX_PRECISION = 12

const BASE32_ALPHABET = "0123456789bcdefghjkmnpqrstuvwxyz"

const precisionMask = uint64(0xF)

// EncodeCell returns the packed cell containing the given point at the given
// precision.
func EncodeCell(lat float64, lon float64, precision int) (uint64, error) {
	if precision < 1 || precision > MAX_PRECISION {
		return 0, toputils.TeeErrorf("EncodeCell: precision %d out of range [1, %d]", precision, MAX_PRECISION)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, toputils.TeeErrorf("EncodeCell: coordinates out of range: lat=%v lon=%v", lat, lon)
	}

	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0
	var cell uint64
	evenBit := true // longitude first, alternating per bit

	for digit := 0; digit < precision; digit++ {
		var code uint64
		for b := 0; b < 5; b++ {
			code <<= 1
			if evenBit {
				mid := (lonMin + lonMax) / 2
				if lon >= mid {
					code |= 1
					lonMin = mid
				} else {
					lonMax = mid
				}
			} else {
				mid := (latMin + latMax) / 2
				if lat >= mid {
					code |= 1
					latMin = mid
				} else {
					latMax = mid
				}
			}
			evenBit = !evenBit
		}
		cell = cell<<5 | code
	}

	return cell<<4 | uint64(precision), nil
}

// CellPrecision extracts the precision nibble.
func CellPrecision(cell uint64) int {
	return int(cell & precisionMask)
}

// CellToString renders the packed cell as its base-32 geohash string.
func CellToString(cell uint64) string {
	precision := CellPrecision(cell)
	if precision < 1 || precision > MAX_PRECISION {
		return ""
	}
	digits := cell >> 4
	buf := make([]byte, precision)
	for i := precision - 1; i >= 0; i-- {
		buf[i] = BASE32_ALPHABET[digits&0x1F]
		digits >>= 5
	}
	return string(buf)
}

// DecodeCellCenter returns the midpoint of the cell's bounding box.
func DecodeCellCenter(cell uint64) (float64, float64) {
	precision := CellPrecision(cell)
	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0
	evenBit := true

	for digit := precision - 1; digit >= 0; digit-- {
		code := (cell >> 4) >> (uint(digit) * 5) & 0x1F
		for b := 4; b >= 0; b-- {
			bit := code >> uint(b) & 1
			if evenBit {
				mid := (lonMin + lonMax) / 2
				if bit == 1 {
					lonMin = mid
				} else {
					lonMax = mid
				}
			} else {
				mid := (latMin + latMax) / 2
				if bit == 1 {
					latMin = mid
				} else {
					latMax = mid
				}
			}
			evenBit = !evenBit
		}
	}

	return (latMin + latMax) / 2, (lonMin + lonMax) / 2
}
