package fetcher

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Gunzip returns a reader over the decompressed payload when r starts with the
// gzip magic bytes, and over r unchanged otherwise. Closing the result closes r.
func Gunzip(r io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		_ = r.Close()
		return nil, eris.Wrap(err, "fetcher: peek payload")
	}
	if !bytes.Equal(head, gzipMagic) {
		return &readCloser{Reader: br, closers: []io.Closer{r}}, nil
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		_ = r.Close()
		return nil, eris.Wrap(err, "fetcher: open gzip")
	}
	return &readCloser{Reader: zr, closers: []io.Closer{zr, r}}, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var first error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
