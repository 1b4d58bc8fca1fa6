package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// Zip serializes the directory at root into a single zip file at outPath.
// Entry names are relative to root, never absolute, so the archive unpacks
// anywhere. With compress false, entries are stored without compression,
// which is the faster choice when the destination link and not the size is
// the bottleneck. On failure the partial output file is removed.
func Zip(root, outPath string, compress bool) error {
	method := zip.Store
	if compress {
		method = zip.Deflate
	}
	out, err := os.Create(outPath)
	if err != nil {
		return errors.Wrap(err, "creating zip file")
	}
	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	err = filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		header := &zip.FileHeader{
			Name:     filepath.ToSlash(rel),
			Method:   method,
			Modified: info.ModTime(),
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		f.Close()
		return err
	})
	if err == nil {
		err = zw.Close()
	} else {
		zw.Close()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
		return errors.Wrap(err, "packaging bag")
	}
	return nil
}
