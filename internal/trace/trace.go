// Package trace supplies the memory-reference trace the core consumes one
// record at a time. Trace file parsing is an external collaborator per
// spec.md §1 — only the Record contract and the Reader interface matter to
// the core; FileReader is one concrete way to satisfy it.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrEndOfTrace is returned by Next once the trace is exhausted.
var ErrEndOfTrace = errors.New("trace: end of trace")

// ErrMalformedTrace is returned (wrapped with details) for any line that
// isn't a valid "prec type addr" record.
var ErrMalformedTrace = errors.New("trace: malformed record")

// Record is a single memory reference: a count of non-memory instructions
// that precede it (Prec), the target address, and the access kind.
type Record struct {
	Addr    uint64
	Prec    uint64
	IsWrite bool
}

// Reader produces trace records lazily, one per call, in file order.
type Reader interface {
	Next() (Record, error)
}

// FileReader reads whitespace-separated "prec type addr" lines from an
// underlying text file, one record per line.
type FileReader struct {
	file    *os.File
	scanner *bufio.Scanner
	lineNo  int
}

// NewFileReader opens path and returns a Reader over its lines.
func NewFileReader(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	return &FileReader{file: f, scanner: bufio.NewScanner(f)}, nil
}

// Close releases the underlying file.
func (r *FileReader) Close() error {
	return r.file.Close()
}

// Next parses and returns the next record, or ErrEndOfTrace when the file is
// exhausted. A blank or short line is ErrMalformedTrace, not a silent EOF —
// matching original_source/python/nijikawa.py's UsimmTraceReader.next(),
// which raises outright on exactly this case.
func (r *FileReader) Next() (Record, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Record{}, fmt.Errorf("trace: read line %d: %w", r.lineNo+1, err)
		}
		return Record{}, ErrEndOfTrace
	}
	r.lineNo++
	return parseLine(r.scanner.Text(), r.lineNo)
}

func parseLine(line string, lineNo int) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Record{}, fmt.Errorf("%w: line %d: expected 3 fields, got %d", ErrMalformedTrace, lineNo, len(fields))
	}

	prec, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: line %d: bad prec %q: %v", ErrMalformedTrace, lineNo, fields[0], err)
	}

	var isWrite bool
	switch fields[1] {
	case "R":
		isWrite = false
	case "W":
		isWrite = true
	default:
		return Record{}, fmt.Errorf("%w: line %d: unknown request type %q", ErrMalformedTrace, lineNo, fields[1])
	}

	addr, err := strconv.ParseUint(fields[2], 0, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: line %d: bad addr %q: %v", ErrMalformedTrace, lineNo, fields[2], err)
	}

	return Record{Addr: addr, Prec: prec, IsWrite: isWrite}, nil
}

// SliceReader serves a pre-built, in-memory sequence of records. It exists
// so the "replacing the trace reader with one that serves the same sequence
// from memory yields the same result as reading from file" property
// (spec.md §8) is actually exercisable without touching the filesystem.
type SliceReader struct {
	records []Record
	pos     int
}

// NewSliceReader wraps records for sequential consumption.
func NewSliceReader(records []Record) *SliceReader {
	return &SliceReader{records: records}
}

// Next returns the next record in records, or ErrEndOfTrace once exhausted.
func (r *SliceReader) Next() (Record, error) {
	if r.pos >= len(r.records) {
		return Record{}, ErrEndOfTrace
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

var _ io.Closer = (*FileReader)(nil)
