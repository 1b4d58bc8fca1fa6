package util

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// constructors lists every checksum algorithm we know how to compute.
// The names are the lowercase forms used in BagIt manifest file names.
var constructors = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// ValidAlgorithm returns whether name is a checksum algorithm this
// package can compute.
func ValidAlgorithm(name string) bool {
	_, ok := constructors[name]
	return ok
}

// Algorithms returns the names of every supported checksum algorithm,
// sorted.
func Algorithms() []string {
	result := make([]string, 0, len(constructors))
	for name := range constructors {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// A HashWriter wraps an io.Writer and computes a set of checksums over the
// bytes written to it. Each file is streamed through once no matter how many
// algorithms are requested.
type HashWriter struct {
	io.Writer // the multiwriter feeding w and every hash
	hashes    map[string]hash.Hash
}

// NewHashWriter returns a HashWriter computing the given algorithms over
// everything written to it. The bytes are also copied to w, unless w is nil,
// in which case only the checksums are computed. An unknown algorithm name
// is an error.
func NewHashWriter(w io.Writer, algorithms ...string) (*HashWriter, error) {
	hw := &HashWriter{hashes: make(map[string]hash.Hash)}
	var ws []io.Writer
	if w != nil {
		ws = append(ws, w)
	}
	for _, name := range algorithms {
		mk, ok := constructors[name]
		if !ok {
			return nil, errors.Errorf("unsupported checksum algorithm %q", name)
		}
		if _, seen := hw.hashes[name]; seen {
			continue
		}
		h := mk()
		hw.hashes[name] = h
		ws = append(ws, h)
	}
	hw.Writer = io.MultiWriter(ws...)
	return hw, nil
}

// Sum returns the digest for the named algorithm over everything written so
// far. It returns nil if the algorithm was not requested at creation.
func (hw *HashWriter) Sum(algorithm string) []byte {
	h, ok := hw.hashes[algorithm]
	if !ok {
		return nil
	}
	return h.Sum(nil)
}

// Hex is Sum with the digest hex encoded.
func (hw *HashWriter) Hex(algorithm string) string {
	b := hw.Sum(algorithm)
	if b == nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// DigestReader consumes r and returns the hex digest of its content for each
// requested algorithm, along with the number of bytes read. The reader is not
// closed.
func DigestReader(r io.Reader, algorithms []string) (map[string]string, int64, error) {
	hw, err := NewHashWriter(nil, algorithms...)
	if err != nil {
		return nil, 0, err
	}
	n, err := io.Copy(hw, r)
	if err != nil {
		return nil, n, err
	}
	result := make(map[string]string, len(algorithms))
	for _, name := range algorithms {
		result[name] = hw.Hex(name)
	}
	return result, n, nil
}
