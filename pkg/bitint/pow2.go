/*
Package bitint provides the power-of-two arithmetic the pipeline needs at
configuration time: FFT sizes must be powers of two, and the frame ring is
sized to the next power of two so slot indices can be masked instead of
divided.

All functions are allocation free and safe to call from the capture
callback.

	ring := bitint.NextPowerOfTwo(3)      // 4
	mask := uint64(ring - 1)              // slot = seq & mask
	ok := bitint.IsPowerOfTwo(fftSize)    // validate analysis config

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two map to themselves:

	8 -> 7 (0111) -> Len = 3 -> 1<<3 = 8
	9 -> 8 (1000) -> Len = 4 -> 1<<4 = 16
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size.
// Zero and negative sizes return 1.
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
//
//	8  1000 & 0111 = 0000 -> true
//	12 1100 & 1011 = 1000 -> false
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns log2(n) for a power of two n, or -1 when n is not one.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
