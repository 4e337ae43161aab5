package storage

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// maxUnwrapDepth bounds nested gzip/tar layers.
const maxUnwrapDepth = 3

// Unwrap strips the gzip and tar layers the executor's artifact driver may
// add around a single file. Plain content is returned unchanged.
func Unwrap(data []byte) ([]byte, error) {
	for range maxUnwrapDepth {
		switch {
		case isGzip(data):
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("open gzip: %w", err)
			}
			out, err := io.ReadAll(zr)
			_ = zr.Close()
			if err != nil {
				return nil, fmt.Errorf("read gzip: %w", err)
			}
			data = out
		case isTar(data):
			out, err := firstTarFile(data)
			if err != nil {
				return nil, err
			}
			data = out
		default:
			return data, nil
		}
	}
	return data, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// isTar checks the ustar magic of the first header block.
func isTar(data []byte) bool {
	return len(data) >= 262 && string(data[257:262]) == "ustar"
}

func firstTarFile(data []byte) ([]byte, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("tar archive holds no regular file")
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
}
