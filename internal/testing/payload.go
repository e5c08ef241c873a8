package testing

import (
	"bytes"
	"fmt"
	"math/rand"
)

// RepetitiveJSON returns a JSON document of at least size bytes made of a
// repeated record, which compresses very well.
func RepetitiveJSON(size int) []byte {
	var buf bytes.Buffer
	buf.Grow(size + 128)
	buf.WriteString(`{"items":[`)
	for i := 0; buf.Len() < size; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `{"id":%d,"name":"item","tags":["alpha","beta"],"active":true}`, i%10)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// RandomBytes returns size pseudo-random bytes derived from seed. Random
// bytes do not compress, so they exercise the uncompressed paths.
func RandomBytes(size int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, size)
	r.Read(b)
	return b
}
