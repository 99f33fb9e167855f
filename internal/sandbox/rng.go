package sandbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"math"
)

// floatStream is a deterministic float source. Each round hashes
// "<stream>:<seed>:<round>" with HMAC-SHA256 keyed by the world key, and every
// float consumes four bytes of the digest.
type floatStream struct {
	key    string
	stream string
	seed   int
	round  uint64
	pos    int
	buffer [32]byte
}

func newFloatStream(key, stream string, seed int) *floatStream {
	fs := &floatStream{key: key, stream: stream, seed: seed}
	fs.generateRound()
	return fs
}

func (fs *floatStream) next() byte {
	if fs.pos >= len(fs.buffer) {
		fs.round++
		fs.pos = 0
		fs.generateRound()
	}
	b := fs.buffer[fs.pos]
	fs.pos++
	return b
}

// Float returns the next float in [0, 1).
func (fs *floatStream) Float() float64 {
	return bytesToFloat([4]byte{fs.next(), fs.next(), fs.next(), fs.next()})
}

// Intn returns the next int in [0, n). n must be positive.
func (fs *floatStream) Intn(n int) int {
	return int(math.Floor(fs.Float() * float64(n)))
}

func (fs *floatStream) generateRound() {
	h := hmac.New(sha256.New, []byte(fs.key))
	fmt.Fprintf(h, "%s:%d:%d", fs.stream, fs.seed, fs.round)
	copy(fs.buffer[:], h.Sum(nil))
}

func bytesToFloat(b [4]byte) float64 {
	result := 0.0
	for i, v := range b {
		result += float64(v) / math.Pow(256, float64(i+1))
	}
	return result
}
