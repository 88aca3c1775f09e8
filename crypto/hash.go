package crypto

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the length of every challenge and contribution hash.
const HashSize = blake2b.Size

// Hash returns the BLAKE2b-512 digest of b.
func Hash(b []byte) []byte {
	h := blake2b.Sum512(b)
	return h[:]
}

// PrettyHash renders a hash as four rows of four 32 bit hex groups, the way
// ceremony transcripts print them.
func PrettyHash(h []byte) string {
	var b strings.Builder
	b.WriteString("\n")
	for row := 0; row*16 < len(h); row++ {
		b.WriteString("\t")
		for col := 0; col < 4; col++ {
			start := row*16 + col*4
			if start >= len(h) {
				break
			}
			end := start + 4
			if end > len(h) {
				end = len(h)
			}
			b.WriteString(hex.EncodeToString(h[start:end]))
			b.WriteString(" ")
		}
		b.WriteString("\n")
	}
	return b.String()
}
