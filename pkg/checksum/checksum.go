package checksum

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Checksum is an expected or computed digest in the form algorithm:hex.
type Checksum struct {
	Algorithm Algorithm
	Hex       string
}

// Parse parses algorithm:hexdigest. The algorithm tag is case-insensitive.
func Parse(s string) (Checksum, error) {
	tag, encoded, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Checksum{}, &ErrInvalidChecksum{
			Value:  s,
			Reason: "expect format <algorithm>:<checksum>",
		}
	}

	alg, err := ParseAlgorithm(tag)
	if err != nil {
		return Checksum{}, err
	}

	return alg.FromHex(encoded)
}

func MustParse(s string) Checksum {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (a Algorithm) FromHex(encoded string) (Checksum, error) {
	encoded = strings.ToLower(strings.TrimSpace(encoded))

	if len(encoded) != a.Size()*2 {
		return Checksum{}, &ErrInvalidChecksum{
			Value:  string(a) + ":" + encoded,
			Reason: fmt.Sprintf("%s checksum should be %d hex chars, but got %d", a, a.Size()*2, len(encoded)),
		}
	}

	if _, err := hex.DecodeString(encoded); err != nil {
		return Checksum{}, &ErrInvalidChecksum{
			Value:  string(a) + ":" + encoded,
			Reason: err.Error(),
		}
	}

	return Checksum{Algorithm: a, Hex: encoded}, nil
}

// FromBytes computes the checksum of data in memory.
func (a Algorithm) FromBytes(data []byte) Checksum {
	d := a.Digester()
	_, _ = d.Write(data)
	return d.Checksum()
}

func (a Algorithm) FromString(s string) Checksum {
	return a.FromBytes([]byte(s))
}

// FromDigest converts an OCI digest.
func FromDigest(dgst digest.Digest) (Checksum, error) {
	if err := dgst.Validate(); err != nil {
		return Checksum{}, &ErrInvalidChecksum{Value: string(dgst), Reason: err.Error()}
	}
	return Parse(string(dgst))
}

func (c Checksum) IsZero() bool {
	return c.Algorithm == "" && c.Hex == ""
}

func (c Checksum) Equal(o Checksum) bool {
	return c.Algorithm == o.Algorithm && strings.EqualFold(c.Hex, o.Hex)
}

func (c Checksum) String() string {
	if c.IsZero() {
		return ""
	}
	return string(c.Algorithm) + ":" + c.Hex
}

// Digest returns the OCI digest form when the algorithm is one go-digest knows.
func (c Checksum) Digest() (digest.Digest, bool) {
	switch c.Algorithm {
	case SHA256, SHA384, SHA512:
		return digest.NewDigestFromEncoded(digest.Algorithm(c.Algorithm), c.Hex), true
	}
	return "", false
}

func (c Checksum) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Checksum) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = Checksum{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Verifier digests written bytes with the algorithm of c.
func (c Checksum) Verifier() *Verifier {
	return &Verifier{Digester: c.Algorithm.Digester(), expected: c}
}
