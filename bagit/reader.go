package bagit

import (
	"archive/zip"
	"bufio"
	"io"
	"sort"
	"strings"

	"github.com/ndlib/bagger/util"
	"github.com/pkg/errors"
)

// A Reader reads a bag that has been serialized into a zip file. Entry names
// are relative to the bag root, the layout the archive packager produces.
//
// Checksums are not verified on open. Call Verify() to recompute every digest
// listed in the manifests. Tags are loaded lazily; ask for a tag to force the
// tag files to be read.
type Reader struct {
	z     *zip.Reader
	files map[string]*zip.File
	tags  map[string]string
}

// ErrNotFound means a stream inside the zip file with the given name could
// not be found.
var ErrNotFound = errors.New("stream not found")

// NewReader creates a bag reader wrapping r, which must contain a zip
// datastream of size bytes. Closing the reader's streams does not close r.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	z, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	result := &Reader{
		z:     z,
		files: make(map[string]*zip.File, len(z.File)),
	}
	for _, f := range z.File {
		result.files[f.Name] = f
	}
	return result, nil
}

// Open returns a reader for the payload file with the given path, relative
// to the payload directory.
func (r *Reader) Open(name string) (io.ReadCloser, error) {
	return r.open(PayloadDir + "/" + name)
}

func (r *Reader) open(name string) (io.ReadCloser, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Open()
}

// Files lists the payload files in this bag, with paths relative to the
// payload directory, sorted.
func (r *Reader) Files() []string {
	var result []string
	for name := range r.files {
		if strings.HasPrefix(name, PayloadDir+"/") {
			result = append(result, strings.TrimPrefix(name, PayloadDir+"/"))
		}
	}
	sort.Strings(result)
	return result
}

// Tags returns the tag list from the bagit.txt and bag-info.txt files.
func (r *Reader) Tags() map[string]string {
	if r.tags == nil {
		r.tags = make(map[string]string)
		r.loadtagfile(declarationFile)
		r.loadtagfile(bagInfoFile)
	}
	return r.tags
}

func (r *Reader) loadtagfile(name string) {
	rc, err := r.open(name)
	if err != nil {
		return
	}
	defer rc.Close()
	var lastkey string
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := scanner.Text()
		// a line beginning with white space continues the previous value
		if lastkey != "" && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			r.tags[lastkey] += " " + strings.TrimSpace(line)
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		lastkey = strings.TrimSpace(k)
		r.tags[lastkey] = strings.TrimSpace(v)
	}
}

// Verify recomputes the digest of every file listed in the bag's manifest and
// tagmanifest files and compares them with the recorded values. It also
// checks that every payload file appears in each payload manifest. The first
// discrepancy is returned as a *MismatchError, or an ordinary error for
// structural problems such as a missing file.
func (r *Reader) Verify() error {
	var manifests, tagmanifests []string
	for name := range r.files {
		switch {
		case strings.HasPrefix(name, "tagmanifest-"):
			tagmanifests = append(tagmanifests, name)
		case strings.HasPrefix(name, "manifest-"):
			manifests = append(manifests, name)
		}
	}
	if len(manifests) == 0 {
		return errors.New("bag has no manifest files")
	}
	sort.Strings(manifests)
	sort.Strings(tagmanifests)

	npayload := len(r.Files())
	for _, name := range manifests {
		n, err := r.verifymanifest(name)
		if err != nil {
			return err
		}
		if n != npayload {
			return errors.Errorf("%s lists %d files, bag has %d payload files", name, n, npayload)
		}
	}
	for _, name := range tagmanifests {
		if _, err := r.verifymanifest(name); err != nil {
			return err
		}
	}
	return nil
}

// verifymanifest checks each entry of one manifest file, returning the
// number of entries checked.
func (r *Reader) verifymanifest(name string) (int, error) {
	alg := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(name, "tag"), "manifest-"), ".txt")
	if !util.ValidAlgorithm(alg) {
		return 0, errors.Errorf("cannot verify %s: unsupported algorithm", name)
	}
	rc, err := r.open(name)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s", name)
	}
	defer rc.Close()
	var count int
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		expected, fname, ok := strings.Cut(scanner.Text(), "  ")
		if !ok {
			continue
		}
		actual, err := r.digest(fname, alg)
		if err != nil {
			return count, err
		}
		if actual != expected {
			return count, &MismatchError{
				Path:      fname,
				Algorithm: alg,
				Expected:  expected,
				Actual:    actual,
			}
		}
		count++
	}
	return count, scanner.Err()
}

func (r *Reader) digest(name, algorithm string) (string, error) {
	rc, err := r.open(name)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s", name)
	}
	defer rc.Close()
	digests, _, err := util.DigestReader(rc, []string{algorithm})
	if err != nil {
		return "", err
	}
	return digests[algorithm], nil
}
