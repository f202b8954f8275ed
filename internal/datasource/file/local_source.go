// Package file opens exchange files on the local disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotRegular is returned for directories, devices and other paths that
// cannot hold an exchange file.
var ErrNotRegular = errors.New("not a regular file")

// Local is a file on disk. Each load reads it front to back once, so the
// kernel is asked to read ahead.
type Local struct{ path string }

func NewLocal(path string) *Local { return &Local{path: path} }

// Path is the file Open reads.
func (l *Local) Path() string { return l.path }

// Open returns the file positioned at its start. Errors wrap the os error,
// so errors.Is(err, os.ErrNotExist) holds for a missing file.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.path == "" {
		return nil, errors.New("open: empty path")
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat input: %w", err)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", l.path, ErrNotRegular)
	}
	adviseSequential(f)
	return f, nil
}
