package helpers

import (
	"encoding/hex"
	"strings"
)

func MustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// HexSpaced formats b as lowercase byte pairs separated by space: "0a 1b ff".
func HexSpaced(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, x := range b {
		if i != 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(hex.EncodeToString([]byte{x}))
	}
	return sb.String()
}

// ParseHexLoose accepts "0a1b", "0a 1b", "0A:1B" and odd length (leading zero is assumed).
func ParseHexLoose(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "").Replace(s)
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
