package bagit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ndlib/bagger/util"
	"github.com/pkg/errors"
)

// ErrNoPayload is returned by Build when the payload directory is missing or
// holds no regular files. An empty bag is never built silently.
var ErrNoPayload = errors.New("bag has no payload files")

// tag files every bag gets, in the order they are written
const (
	declarationFile = "bagit.txt"
	bagInfoFile     = "bag-info.txt"
)

// Build turns the directory at bagRoot into a bag. Payload files are expected
// under bagRoot/payload. Every payload file is streamed once through a
// multi-algorithm hash writer, a manifest-<algorithm>.txt is written at the
// bag root per algorithm, the declaration and bag-info tag files are written,
// and finally a tagmanifest-<algorithm>.txt covering the tag files.
//
// The caller's tags are merged with the generated ones (Bagging-Date,
// Payload-Oxum, Bag-Size); generated tags win on collision. If tags is empty
// DefaultTags is used. Build returns the digest index over the payload and
// the merged tag set.
//
// Given identical payload bytes and algorithms the returned index is
// identical across runs. Manifest files contain no timestamps; only
// bag-info.txt does.
func Build(bagRoot string, algorithms []string, tags map[string]string) (DigestIndex, map[string]string, error) {
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	if err := CheckAlgorithms(algorithms); err != nil {
		return nil, nil, err
	}

	index, payloadSize, err := digestPayload(bagRoot, algorithms)
	if err != nil {
		return nil, nil, err
	}
	if len(index) == 0 {
		return nil, nil, ErrNoPayload
	}

	for _, alg := range algorithms {
		name := "manifest-" + alg + ".txt"
		if err := writeManifest(filepath.Join(bagRoot, name), alg, index); err != nil {
			return nil, nil, err
		}
	}

	merged := mergeTags(tags, payloadSize, len(index))
	if err := writeTagFiles(bagRoot, merged); err != nil {
		return nil, nil, err
	}

	// the tag manifests cover the declaration, bag-info, and the payload
	// manifests written above
	tagFiles := []string{declarationFile, bagInfoFile}
	for _, alg := range algorithms {
		tagFiles = append(tagFiles, "manifest-"+alg+".txt")
	}
	tagIndex := DigestIndex{}
	for _, name := range tagFiles {
		digests, _, err := digestFile(filepath.Join(bagRoot, name), algorithms)
		if err != nil {
			return nil, nil, err
		}
		tagIndex[name] = digests
	}
	for _, alg := range algorithms {
		name := "tagmanifest-" + alg + ".txt"
		if err := writeManifest(filepath.Join(bagRoot, name), alg, tagIndex); err != nil {
			return nil, nil, err
		}
	}

	return index, merged, nil
}

// digestPayload walks the payload directory and checksums every regular file.
// Keys in the returned index are slash separated and prefixed with the
// payload directory name.
func digestPayload(bagRoot string, algorithms []string) (DigestIndex, int64, error) {
	payloadRoot := filepath.Join(bagRoot, PayloadDir)
	index := DigestIndex{}
	var size int64
	err := filepath.Walk(payloadRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(payloadRoot, p)
		if err != nil {
			return err
		}
		digests, n, err := digestFile(p, algorithms)
		if err != nil {
			return err
		}
		index[PayloadDir+"/"+filepath.ToSlash(rel)] = digests
		size += n
		return nil
	})
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, 0, ErrNoPayload
		}
		return nil, 0, errors.Wrap(err, "walking payload")
	}
	return index, size, nil
}

func digestFile(path string, algorithms []string) (map[string]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return util.DigestReader(f, algorithms)
}

// writeManifest writes digest/path pairs for one algorithm in lexicographic
// path order. The 2 spaces is to be identical to the GNU md5sum output.
func writeManifest(path, algorithm string, index DigestIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "writing manifest")
	}
	for _, name := range sortedPaths(index) {
		digest := index[name][algorithm]
		if digest == "" {
			continue
		}
		if _, err := fmt.Fprintf(f, "%s  %s\n", digest, name); err != nil {
			f.Close()
			return errors.Wrap(err, "writing manifest")
		}
	}
	return f.Close()
}

func mergeTags(tags map[string]string, payloadSize int64, payloadCount int) map[string]string {
	merged := make(map[string]string)
	if len(tags) == 0 {
		tags = DefaultTags
	}
	for k, v := range tags {
		merged[k] = v
	}
	merged["Bagging-Date"] = time.Now().Format("2006-01-02")
	merged["Payload-Oxum"] = fmt.Sprintf("%d.%d", payloadSize, payloadCount)
	merged["Bag-Size"] = humansize(payloadSize)
	return merged
}

func writeTagFiles(bagRoot string, tags map[string]string) error {
	f, err := os.Create(filepath.Join(bagRoot, declarationFile))
	if err != nil {
		return errors.Wrap(err, "writing bag declaration")
	}
	fmt.Fprintf(f, "BagIt-Version: %s\n", Version)
	fmt.Fprintf(f, "Tag-File-Character-Encoding: UTF-8\n")
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "writing bag declaration")
	}

	f, err = os.Create(filepath.Join(bagRoot, bagInfoFile))
	if err != nil {
		return errors.Wrap(err, "writing bag-info")
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(f, "%s: %s\n", k, tags[k])
	}
	return f.Close()
}
