// Package bagit implements enough of the BagIt specification to build and
// verify the bags produced by bagger. A bag here is an ordinary directory:
// acquired files live under the payload directory, and the manifest and tag
// files sit at the bag root. Serializing the directory into a zip container
// is left to the archive package.
//
// Specific items not implemented are fetch files and holey bags. Tag values
// are not wrapped at column 75, and repeated tags in bag-info.txt are not
// preserved.
//
// Checksums are computed once, while a bag is built. After that they are only
// recomputed when a bag is explicitly verified with Reader.Verify().
//
// The BagIt spec can be found at https://tools.ietf.org/html/draft-kunze-bagit-11.
package bagit

import (
	"fmt"
	"sort"

	"github.com/ndlib/bagger/util"
	"github.com/pkg/errors"
)

const (
	// Version is the version of the BagIt specification this package implements.
	Version = "0.97"

	// PayloadDir is the directory under the bag root holding the payload
	// files. Digest index keys are prefixed with it.
	PayloadDir = "payload"
)

// DefaultAlgorithms is the pair of checksum algorithms used when a caller
// does not request any: one fast digest and one of cryptographic strength.
var DefaultAlgorithms = []string{"md5", "sha256"}

// DefaultTags are the bag-info tags applied when the caller supplies none.
var DefaultTags = map[string]string{"Contact-Name": "Default Contact"}

// A DigestIndex maps a bag-relative file path, e.g. "payload/a/b.txt", to a
// map from algorithm name to hex digest. It is built once per bag and is
// read-only afterward.
type DigestIndex map[string]map[string]string

// CheckAlgorithms returns an error naming the first algorithm in the list
// that this package cannot compute. Callers run this before acquiring any
// files so a bad request fails fast.
func CheckAlgorithms(algorithms []string) error {
	if len(algorithms) == 0 {
		return errors.New("no checksum algorithms requested")
	}
	for _, name := range algorithms {
		if !util.ValidAlgorithm(name) {
			return errors.Errorf("unsupported checksum algorithm %q", name)
		}
	}
	return nil
}

// sortedPaths returns the keys of the index in lexicographic order, as
// required for manifest files.
func sortedPaths(index DigestIndex) []string {
	paths := make([]string, 0, len(index))
	for p := range index {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Metric constants for humansize. Lowercased so as to be unexported.
const (
	kb int64 = 1000
	mb       = 1000 * kb
	gb       = 1000 * mb
	tb       = 1000 * gb
)

func humansize(size int64) string {
	var units string
	switch {
	case size < kb:
		units = "Bytes"
	case size < mb:
		size /= kb
		units = "KB"
	case size < gb:
		size /= mb
		units = "MB"
	case size < tb:
		size /= gb
		units = "GB"
	default:
		size /= tb
		units = "TB"
	}
	return fmt.Sprintf("%d %s", size, units)
}
