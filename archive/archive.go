// Package archive coordinates the assembly of a fixity-checked bag. One
// Process call runs acquisition, manifest generation, checksum validation,
// packaging, and delivery as a single unit of work inside a scoped working
// directory, and always returns a Result instead of an error. The working
// tree is removed on every exit path, success or failure.
package archive

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/bagger/bagit"
	"github.com/ndlib/bagger/transfer"
)

// The kinds of failure a Result can carry, one per pipeline stage plus a
// catch-all for faults the stages did not classify.
const (
	KindTransfer      = "transfer"
	KindManifest      = "manifest"
	KindChecksum      = "checksum"
	KindPackaging     = "packaging"
	KindConfiguration = "configuration"
	KindInternal      = "internal"
)

// An InputFile names one file to acquire into the bag. Source is a locator
// (local path or s3://bucket/key), Path is where the file goes relative to
// the bag's payload directory, and Checksums optionally declares expected
// digests to validate after the bag is built.
type InputFile struct {
	Source    string            `json:"uri"`
	Path      string            `json:"filepath"`
	Checksums map[string]string `json:"checksums,omitempty"`
}

// A Request describes one archive to assemble and deliver. It arrives
// already schema-checked from the request front end; Process only validates
// the payload content it touches.
type Request struct {
	InputFiles  []InputFile       `json:"input_files"`
	Destination string            `json:"output_zip_uri"`
	Algorithms  []string          `json:"checksums,omitempty"`
	Metadata    map[string]string `json:"bag_metadata,omitempty"`
	Compress    *bool             `json:"compress_zip,omitempty"`
}

// compress defaults to true when the caller says nothing.
func (r Request) compress() bool {
	if r.Compress == nil {
		return true
	}
	return *r.Compress
}

// A Result is what every Process call returns, failure or not. It is flat
// and JSON serializable so the caller layer can pass it along unchanged.
type Result struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Kind    string            `json:"error_kind,omitempty"`
	Elapsed float64           `json:"elapsed"`
	Entries bagit.DigestIndex `json:"entries"`
}

// An Archiver processes archive requests. It is safe to use from multiple
// goroutines; concurrent Process calls get disjoint working trees under the
// same Workspace root.
type Archiver struct {
	// Workspace is the directory scoped working trees are created under.
	// It must exist and be writable.
	Workspace string

	// Transfer moves bytes during acquisition and delivery.
	Transfer *transfer.Adapter

	// Metadata holds default bag-info tags applied when a request carries
	// none of its own.
	Metadata map[string]string
}

// New returns an Archiver using the given workspace root and a default
// transfer adapter.
func New(workspace string) *Archiver {
	return &Archiver{
		Workspace: workspace,
		Transfer:  transfer.NewAdapter(),
	}
}

const workPrefix = "bag-"

// Process runs one archive request to completion or failure. Errors from the
// pipeline stages never escape; they are folded into the returned Result.
// The elapsed time covers everything up to the point the result is
// finalized; removing the working tree happens after the clock stops, so
// teardown cost is not included.
func (a *Archiver) Process(req Request) (result Result) {
	start := time.Now()
	result.Entries = bagit.DigestIndex{}

	// the single outermost boundary: an unexpected fault in any stage
	// becomes a failure result, not a panic in the caller
	defer func() {
		if r := recover(); r != nil {
			log.Println("archive: panic:", r)
			result = Result{
				Error:   fmt.Sprintf("internal error: %v", r),
				Kind:    KindInternal,
				Elapsed: time.Since(start).Seconds(),
				Entries: bagit.DigestIndex{},
			}
		}
	}()

	fail := func(kind string, err error) Result {
		result.Error = err.Error()
		result.Kind = kind
		result.Elapsed = time.Since(start).Seconds()
		return result
	}

	if a.Workspace == "" {
		return fail(KindConfiguration, errors.New("no workspace root configured"))
	}

	algorithms := req.Algorithms
	if len(algorithms) == 0 {
		algorithms = bagit.DefaultAlgorithms
	}
	// check before any file is acquired, so a bad algorithm fails fast
	if err := bagit.CheckAlgorithms(algorithms); err != nil {
		return fail(KindManifest, err)
	}

	tree, err := os.MkdirTemp(a.Workspace, workPrefix)
	if err != nil {
		return fail(KindConfiguration, errors.Wrap(err, "allocating working tree"))
	}
	defer func() {
		if err := os.RemoveAll(tree); err != nil {
			log.Println("archive: removing working tree:", err)
			raven.CaptureError(err, map[string]string{"WorkingTree": tree})
		}
	}()

	kind, err := a.run(req, algorithms, tree, &result)
	if err != nil {
		return fail(kind, err)
	}
	result.Success = true
	result.Elapsed = time.Since(start).Seconds()
	return result
}

// run executes the pipeline stages in order inside the working tree. The
// first failing stage short-circuits; the failure kind and error are
// returned for Process to fold into the result.
func (a *Archiver) run(req Request, algorithms []string, tree string, result *Result) (string, error) {
	bagRoot := filepath.Join(tree, "bag")

	// Acquiring. Files are pulled one at a time; any parallelism inside a
	// single large-object transfer is the adapter's business.
	for _, in := range req.InputFiles {
		rel, err := payloadPath(in.Path)
		if err != nil {
			return KindTransfer, err
		}
		dest := filepath.Join(bagRoot, bagit.PayloadDir, filepath.FromSlash(rel))
		if _, err := a.Transfer.Transfer(in.Source, dest); err != nil {
			return KindTransfer, err
		}
	}

	// Building
	tags := req.Metadata
	if len(tags) == 0 {
		tags = a.Metadata
	}
	index, _, err := bagit.Build(bagRoot, algorithms, tags)
	if err != nil {
		return KindManifest, err
	}
	result.Entries = index

	// Validating
	declared := make([]bagit.DeclaredFile, 0, len(req.InputFiles))
	for _, in := range req.InputFiles {
		declared = append(declared, bagit.DeclaredFile{Path: in.Path, Checksums: in.Checksums})
	}
	if err := bagit.ValidateChecksums(declared, index); err != nil {
		return KindChecksum, err
	}

	// Packaging. The zip lives next to the bag inside the working tree, so
	// it is cleaned up with everything else once delivered.
	zipPath := filepath.Join(tree, "bag.zip")
	if err := Zip(bagRoot, zipPath, req.compress()); err != nil {
		return KindPackaging, err
	}

	// Delivering
	if _, err := a.Transfer.Transfer(zipPath, req.Destination); err != nil {
		return KindTransfer, err
	}
	return "", nil
}

// payloadPath checks that a requested relative path stays inside the payload
// directory. Absolute paths, parent references, and empty paths are refused.
func payloadPath(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("input file has no relative path")
	}
	p := path.Clean(rel)
	if path.IsAbs(p) || p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", errors.Errorf("invalid relative path %q", rel)
	}
	return p, nil
}
