package bagit

import (
	"fmt"
	"log"
	"path"
	"sort"
)

// A DeclaredFile pairs a payload-relative path with the checksums the caller
// claims it should have. The path does not include the payload directory
// prefix.
type DeclaredFile struct {
	Path      string
	Checksums map[string]string
}

// A MismatchError reports the first declared checksum that disagrees with
// the digest computed while the bag was built.
type MismatchError struct {
	Path      string // bag-relative, e.g. "payload/a.txt"
	Algorithm string
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("Checksum mismatch for %s: expected %s %s, got %s",
		e.Path, e.Algorithm, e.Expected, e.Actual)
}

// ValidateChecksums compares each declared checksum against the digest index
// computed by Build. The first mismatch aborts with a *MismatchError; files
// are checked in input order and algorithms in sorted order, so the error is
// stable. A declared algorithm that was not computed for the bag is skipped
// with a logged warning, since absence of coverage is not proof of mismatch.
// The index is never modified.
func ValidateChecksums(declared []DeclaredFile, index DigestIndex) error {
	for _, d := range declared {
		if len(d.Checksums) == 0 {
			continue
		}
		key := PayloadDir + "/" + path.Clean(d.Path)
		computed, ok := index[key]
		if !ok {
			log.Printf("bagit: no digests recorded for %s, skipping validation", key)
			continue
		}
		algorithms := make([]string, 0, len(d.Checksums))
		for alg := range d.Checksums {
			algorithms = append(algorithms, alg)
		}
		sort.Strings(algorithms)
		for _, alg := range algorithms {
			actual, ok := computed[alg]
			if !ok {
				log.Printf("bagit: checksum algorithm %s for %s not calculated as part of bag creation", alg, key)
				continue
			}
			if expected := d.Checksums[alg]; actual != expected {
				return &MismatchError{
					Path:      key,
					Algorithm: alg,
					Expected:  expected,
					Actual:    actual,
				}
			}
		}
	}
	return nil
}
