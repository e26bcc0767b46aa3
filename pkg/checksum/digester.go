package checksum

import (
	"encoding/hex"
	"hash"
)

// Digester accumulates written chunks in arrival order.
// It holds no resources and may be dropped mid-stream.
type Digester struct {
	algorithm Algorithm
	hash      hash.Hash
	written   int64
}

func (d *Digester) Write(p []byte) (int, error) {
	n, err := d.hash.Write(p)
	d.written += int64(n)
	return n, err
}

func (d *Digester) Algorithm() Algorithm {
	return d.algorithm
}

// Size is the count of bytes digested so far.
func (d *Digester) Size() int64 {
	return d.written
}

// Checksum finalizes the digest of everything written so far.
func (d *Digester) Checksum() Checksum {
	return Checksum{
		Algorithm: d.algorithm,
		Hex:       hex.EncodeToString(d.hash.Sum(nil)),
	}
}

// Verifier is a Digester checked against an expected checksum.
type Verifier struct {
	*Digester

	expected Checksum
}

func (v *Verifier) Verified() bool {
	return v.expected.Equal(v.Checksum())
}

// Verify returns *ErrChecksumMismatch when the written bytes do not match.
func (v *Verifier) Verify() error {
	if actual := v.Checksum(); !v.expected.Equal(actual) {
		return &ErrChecksumMismatch{Expected: v.expected, Actual: actual}
	}
	return nil
}
