package transform

import "math/bits"

// rotateBytes rotates every byte left by k bits (right for negative k).
func rotateBytes(data []byte, k int) []byte {
	out := make([]byte, len(data))
	k = mod(k, 8)
	for i, b := range data {
		out[i] = bits.RotateLeft8(b, k)
	}
	return out
}
