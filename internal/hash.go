package internal

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// FastHash is a non-cryptographic hash for identifying configuration and
// templates. It must not be used where an adversary picks the input to
// cause collisions.
func FastHash(text string) string {
	h := xxhash.Sum64String(text)
	return strconv.FormatUint(h, 16)
}

// FastHashFloats hashes the exact bit patterns of vals.
func FastHashFloats(vals ...float64) string {
	d := xxhash.New()
	var buf [8]byte
	for _, v := range vals {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		d.Write(buf[:])
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
