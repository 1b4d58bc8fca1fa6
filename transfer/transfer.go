// Package transfer moves file content between locators. A locator is either
// a local filesystem path or a remote object-store URI of the form
// s3://bucket/key; the four source/destination combinations are all handled.
// Content is streamed in chunks, so an object never needs to fit in memory.
package transfer

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

const (
	// DefaultChunkSize is the chunk used for streaming copies and the part
	// size for multipart remote transfers.
	DefaultChunkSize = 50 * 1024 * 1024

	// DefaultConcurrency bounds the parallel part transfers of one large
	// remote object. It does not introduce any parallelism across objects.
	DefaultConcurrency = 10
)

// An Error describes a failed transfer. The destination of a failed transfer
// must be treated as invalid; this package removes partial local files
// itself, remote cleanup is the store's multipart abort handling.
type Error struct {
	Op      string // the operation that failed: parse, open, copy, download, upload
	Locator string
	Err     error
}

func (e *Error) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("transfer %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transfer %s %s: %v", e.Op, e.Locator, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause implements the pkg/errors causer interface.
func (e *Error) Cause() error { return e.Err }

// An Adapter copies bytes between locators. The zero value is not usable;
// call NewAdapter. Do not change the fields after the first Transfer call.
type Adapter struct {
	ChunkSize   int64  // bytes per chunk/part, default DefaultChunkSize
	Concurrency int    // parallel parts for one large remote object
	Endpoint    string // custom S3 endpoint, e.g. a local minio. Empty for AWS.

	mu         sync.Mutex
	svc        *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

// NewAdapter returns an Adapter with the default chunk size and concurrency.
func NewAdapter() *Adapter {
	return &Adapter{
		ChunkSize:   DefaultChunkSize,
		Concurrency: DefaultConcurrency,
	}
}

// A locator is a parsed source or destination. Either path is set, or bucket
// and key are.
type locator struct {
	raw    string
	remote bool
	bucket string
	key    string
	path   string
}

// parseLocator classifies a locator string. Anything without a URI scheme is
// a local filesystem path, as are file:// URIs. Only the s3 scheme is
// understood for remote locators, and it must carry both a bucket and a key.
func parseLocator(raw string) (locator, error) {
	if !strings.Contains(raw, "://") {
		return locator{raw: raw, path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return locator{}, &Error{Op: "parse", Locator: raw, Err: err}
	}
	switch u.Scheme {
	case "file":
		return locator{raw: raw, path: u.Path}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return locator{}, &Error{Op: "parse", Locator: raw,
				Err: errors.New("need both a bucket and a key")}
		}
		return locator{raw: raw, remote: true, bucket: u.Host, key: key}, nil
	}
	return locator{}, &Error{Op: "parse", Locator: raw,
		Err: errors.Errorf("unsupported scheme %q", u.Scheme)}
}

// Transfer copies all content from the source locator to the destination
// locator and returns the destination. The call blocks until the whole object
// has been transferred. For a local destination the parent directory is
// created first. On failure no partial local file is left behind.
func (a *Adapter) Transfer(source, destination string) (string, error) {
	src, err := parseLocator(source)
	if err != nil {
		return "", err
	}
	dst, err := parseLocator(destination)
	if err != nil {
		return "", err
	}
	switch {
	case !src.remote && !dst.remote:
		err = a.copyLocal(src, dst)
	case src.remote && !dst.remote:
		err = a.download(src, dst)
	case !src.remote && dst.remote:
		err = a.upload(src, dst)
	default:
		err = a.copyRemote(src, dst)
	}
	if err != nil {
		log.Println("transfer:", err)
		raven.CaptureError(err, map[string]string{"Source": source, "Destination": destination})
		return "", err
	}
	return destination, nil
}

func (a *Adapter) copyLocal(src, dst locator) error {
	in, err := os.Open(src.path)
	if err != nil {
		return &Error{Op: "open", Locator: src.raw, Err: err}
	}
	defer in.Close()
	out, err := a.createLocal(dst)
	if err != nil {
		return err
	}
	buf := make([]byte, a.chunk())
	_, err = io.CopyBuffer(out, in, buf)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.path)
		return &Error{Op: "copy", Locator: dst.raw, Err: err}
	}
	return nil
}

func (a *Adapter) download(src, dst locator) error {
	if err := a.init(); err != nil {
		return err
	}
	out, err := a.createLocal(dst)
	if err != nil {
		return err
	}
	_, err = a.downloader.Download(out, &s3.GetObjectInput{
		Bucket: aws.String(src.bucket),
		Key:    aws.String(src.key),
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.path)
		return &Error{Op: "download", Locator: src.raw, Err: err}
	}
	return nil
}

func (a *Adapter) upload(src, dst locator) error {
	if err := a.init(); err != nil {
		return err
	}
	in, err := os.Open(src.path)
	if err != nil {
		return &Error{Op: "open", Locator: src.raw, Err: err}
	}
	defer in.Close()
	_, err = a.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(dst.bucket),
		Key:    aws.String(dst.key),
		Body:   in,
	})
	if err != nil {
		return &Error{Op: "upload", Locator: dst.raw, Err: err}
	}
	return nil
}

// copyRemote asks the store to copy the object server side, so the bytes
// never pass through this process.
// TODO: objects over 5 GB need the multipart UploadPartCopy route.
func (a *Adapter) copyRemote(src, dst locator) error {
	if err := a.init(); err != nil {
		return err
	}
	source := url.URL{Path: "/" + src.bucket + "/" + src.key}
	_, err := a.svc.CopyObject(&s3.CopyObjectInput{
		Bucket:     aws.String(dst.bucket),
		Key:        aws.String(dst.key),
		CopySource: aws.String(source.EscapedPath()),
	})
	if err != nil {
		return &Error{Op: "copy", Locator: dst.raw, Err: err}
	}
	return nil
}

// createLocal opens the local destination for writing, creating missing
// parent directories.
func (a *Adapter) createLocal(dst locator) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(dst.path), 0755); err != nil {
		return nil, &Error{Op: "create", Locator: dst.raw, Err: err}
	}
	f, err := os.Create(dst.path)
	if err != nil {
		return nil, &Error{Op: "create", Locator: dst.raw, Err: err}
	}
	return f, nil
}

func (a *Adapter) chunk() int64 {
	if a.ChunkSize > 0 {
		return a.ChunkSize
	}
	return DefaultChunkSize
}

// init lazily creates the S3 client and the managed transferrers, so purely
// local use of the adapter never touches AWS configuration.
func (a *Adapter) init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.svc != nil {
		return nil
	}
	conf := &aws.Config{}
	if a.Endpoint != "" {
		conf.Endpoint = aws.String(a.Endpoint)
		conf.Region = aws.String("us-east-1")
		conf.S3ForcePathStyle = aws.Bool(true)
		// disable SSL for local development
		if strings.Contains(a.Endpoint, "localhost") || strings.Contains(a.Endpoint, "127.0.0.1") {
			conf.DisableSSL = aws.Bool(true)
		}
	}
	sess, err := session.NewSession(conf)
	if err != nil {
		return &Error{Op: "session", Err: err}
	}
	concurrency := a.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	a.svc = s3.New(sess)
	a.uploader = s3manager.NewUploaderWithClient(a.svc, func(u *s3manager.Uploader) {
		u.PartSize = a.chunk()
		u.Concurrency = concurrency
	})
	a.downloader = s3manager.NewDownloaderWithClient(a.svc, func(d *s3manager.Downloader) {
		d.PartSize = a.chunk()
		d.Concurrency = concurrency
	})
	return nil
}
