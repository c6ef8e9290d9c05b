package transform

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// seedPermutation derives a charset permutation from seed with a
// Fisher-Yates shuffle driven by PCG seeded from SHA-256(seed).
// The same seed always yields the same permutation.
func (c *Charset) seedPermutation(seed string) permutation {
	sum := sha256.Sum256([]byte(seed))
	pcg := rand.NewPCG(binary.BigEndian.Uint64(sum[0:8]), binary.BigEndian.Uint64(sum[8:16]))

	n := len(c.symbols)
	image := make([]int, n)
	for i := range image {
		image[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := int(pcg.Uint64() % uint64(i+1))
		image[i], image[j] = image[j], image[i]
	}
	return permutation{cs: c, image: image}
}
