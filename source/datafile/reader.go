package datafile

import (
	"bufio"
	"io"
	"os"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/record"
)

// Table is one table a data file holds
type Table struct {
	Name    string
	ArrayID uint32
	Descs   []*record.ValueDesc
}

// Header is the file-level description produced when a reader opens
type Header struct {
	Format    string
	Station   string
	Model     string
	Serial    string
	OS        string
	Program   string
	Signature string
	Tables    []Table
}

// Table finds a table by name
func (h Header) Table(name string) (Table, bool) {
	for _, t := range h.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// IndexEntry locates one record within the file
type IndexEntry struct {
	Key    record.Key
	Offset int64
}

// Reader decodes one data file format. Readers are used only by the engine
// worker goroutine.
type Reader interface {
	// Open reads the header. It may be called again to reopen after rotation.
	Open() (Header, error)

	// DataStart returns the offset of the first record
	DataStart() int64

	// Scan emits an entry for every complete record from offset from and
	// returns the offset just past the last complete record. from is moved
	// forward to the next record boundary when it falls inside a record.
	Scan(from int64, emit func(IndexEntry)) (int64, error)

	// Read decodes the record located by e into rec
	Read(e IndexEntry, rec *record.Record) error

	// Hibernate releases the file handle; Wake reacquires it
	Hibernate() error
	Wake() error

	Close() error
}

// lineFile is the shared plumbing of the line oriented readers: a lazily
// opened handle plus record-boundary scanning
type lineFile struct {
	path string
	f    *os.File
}

func (l *lineFile) open() error {
	if l.f != nil {
		return nil
	}
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WrapInvalid(errors.ErrNotFound, "Reader", "open", "file "+l.path+" lookup")
		}
		return errors.WrapTransient(err, "Reader", "open", "file open")
	}
	l.f = f
	return nil
}

func (l *lineFile) close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// alignedReader positions a buffered reader at the first line boundary at or
// after from. dataStart is always a boundary.
func (l *lineFile) alignedReader(from, dataStart int64) (*bufio.Reader, int64, error) {
	if err := l.open(); err != nil {
		return nil, 0, err
	}
	if from < dataStart {
		from = dataStart
	}
	seekTo := from
	if from > dataStart {
		seekTo = from - 1
	}
	if _, err := l.f.Seek(seekTo, io.SeekStart); err != nil {
		return nil, 0, errors.WrapTransient(err, "Reader", "alignedReader", "seek")
	}
	br := bufio.NewReader(l.f)
	if from > dataStart {
		skipped, err := br.ReadBytes('\n')
		switch {
		case err == io.EOF:
			return br, from, nil
		case err != nil:
			return nil, 0, errors.WrapTransient(err, "Reader", "alignedReader", "resync")
		}
		from = seekTo + int64(len(skipped))
	}
	return br, from, nil
}

// scanLines calls fn with every complete line from a boundary and returns the
// offset after the last complete line. A trailing line without a newline is
// left for the next scan.
func (l *lineFile) scanLines(from, dataStart int64, fn func(offset int64, line []byte)) (int64, error) {
	br, pos, err := l.alignedReader(from, dataStart)
	if err != nil {
		return from, err
	}
	for {
		line, err := br.ReadBytes('\n')
		if err == io.EOF {
			return pos, nil
		}
		if err != nil {
			return pos, errors.WrapTransient(err, "Reader", "scanLines", "read")
		}
		fn(pos, line)
		pos += int64(len(line))
	}
}

func (l *lineFile) readLine(offset int64) ([]byte, error) {
	if err := l.open(); err != nil {
		return nil, err
	}
	if _, err := l.f.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.WrapTransient(err, "Reader", "readLine", "seek")
	}
	line, err := bufio.NewReader(l.f).ReadBytes('\n')
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Reader", "readLine", "record read")
	}
	return line, nil
}
