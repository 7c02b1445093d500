package frame

import (
	"fmt"
	"strings"
)

// Checksum folds the envelope bytes between SOF and FCS into one byte.
type Checksum interface {
	Name() string
	Sum(b []byte) byte
}

// XOR is the Z-Stack MT frame check sequence.
type XOR struct{}

func (XOR) Name() string { return "xor" }

func (XOR) Sum(b []byte) byte {
	var fcs byte
	for _, v := range b {
		fcs ^= v
	}
	return fcs
}

// Sum8 is the byte sum modulo 256.
type Sum8 struct{}

func (Sum8) Name() string { return "sum8" }

func (Sum8) Sum(b []byte) byte {
	var fcs byte
	for _, v := range b {
		fcs += v
	}
	return fcs
}

// ChecksumByName resolves the names used by schema sets and configuration.
// An empty name selects XOR.
func ChecksumByName(name string) (Checksum, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "xor":
		return XOR{}, nil
	case "sum8":
		return Sum8{}, nil
	default:
		return nil, fmt.Errorf("frame: unknown checksum %q", name)
	}
}
