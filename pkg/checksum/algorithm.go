package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"hash"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/zeebo/blake3"
)

// Algorithm is one of the closed set of digest algorithms accepted as
// the tag of an expected checksum.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = Algorithm(digest.SHA256)
	SHA384 Algorithm = Algorithm(digest.SHA384)
	SHA512 Algorithm = Algorithm(digest.SHA512)
	BLAKE3 Algorithm = "blake3"
)

// Canonical is used when no expected checksum is given.
const Canonical = SHA256

func Algorithms() []Algorithm {
	return []Algorithm{MD5, SHA1, SHA256, SHA384, SHA512, BLAKE3}
}

// ParseAlgorithm resolves a case-insensitive tag.
func ParseAlgorithm(tag string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(tag))); a {
	case MD5, SHA1, SHA256, SHA384, SHA512, BLAKE3:
		return a, nil
	}
	return "", &ErrUnsupportedAlgorithm{Algorithm: tag}
}

func (a Algorithm) String() string {
	return string(a)
}

// Size of the raw digest in bytes.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return md5.Size
	case SHA1:
		return sha1.Size
	case SHA256, SHA384, SHA512:
		return digest.Algorithm(a).Size()
	case BLAKE3:
		return 32
	}
	return 0
}

// Digester starts a running digest.
func (a Algorithm) Digester() *Digester {
	return &Digester{algorithm: a, hash: a.hash()}
}

func (a Algorithm) hash() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256, SHA384, SHA512:
		return digest.Algorithm(a).Hash()
	case BLAKE3:
		return blake3.New()
	}
	panic("checksum: unavailable algorithm " + string(a))
}
