// File: protocol/fixed.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

// Fixed is a signed 24.8 fixed-point number.
type Fixed int32

// FixedFromFloat converts f, truncating toward zero.
func FixedFromFloat(f float64) Fixed {
	return Fixed(f * 256.0)
}

// FixedFromInt converts i.
func FixedFromInt(i int) Fixed {
	return Fixed(i * 256)
}

// Float64 returns the exact value of f.
func (f Fixed) Float64() float64 {
	return float64(f) / 256.0
}

// Int returns the integer part of f, truncated toward zero.
func (f Fixed) Int() int {
	return int(f) / 256
}
