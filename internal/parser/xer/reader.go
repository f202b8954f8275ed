package xer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is the code page files are read and written in unless
// configured otherwise.
const DefaultEncoding = "windows-1251"

const readBufSize = 1 << 20

const utf8BOM = "\uFEFF"

// LookupEncoding resolves an encoding by its WHATWG name or alias
// ("windows-1251", "cp1251", "utf-8", "koi8-r", ...). Empty means
// DefaultEncoding.
func LookupEncoding(name string) (encoding.Encoding, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("xer: unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// LineReader decodes an input stream and hands out physical lines with their
// terminators attached. A UTF-8 byte order mark on the first line is dropped.
type LineReader struct {
	br    *bufio.Reader
	line  int
	bytes int64
	err   error
}

// NewLineReader wraps r, decoding from the named encoding.
func NewLineReader(r io.Reader, encodingName string) (*LineReader, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	if enc != unicode.UTF8 {
		r = enc.NewDecoder().Reader(r)
	}
	return &LineReader{br: bufio.NewReaderSize(r, readBufSize)}, nil
}

// Next returns the next physical line including its "\n" or "\r\n".
func (lr *LineReader) Next() (string, bool) {
	if lr.err != nil {
		return "", false
	}
	s, err := lr.br.ReadString('\n')
	if err != nil {
		lr.err = err
		if s == "" {
			return "", false
		}
	}
	lr.line++
	lr.bytes += int64(len(s))
	if lr.line == 1 {
		s = strings.TrimPrefix(s, utf8BOM)
	}
	return s, true
}

// Line is the number of the line most recently returned, starting at 1.
func (lr *LineReader) Line() int { return lr.line }

// Bytes is the decoded size of everything returned so far.
func (lr *LineReader) Bytes() int64 { return lr.bytes }

// Err reports the read error that stopped Next, if it was not io.EOF.
func (lr *LineReader) Err() error {
	if lr.err == nil || errors.Is(lr.err, io.EOF) {
		return nil
	}
	return lr.err
}
