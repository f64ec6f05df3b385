package trace

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrace(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "trace-*.txt")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestFileReader_ParsesDecimalAndHex(t *testing.T) {
	path := writeTrace(t, "0 R 0x1000\n3 W 4096\n")
	r, err := NewFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{Addr: 0x1000, Prec: 0, IsWrite: false}, rec)

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{Addr: 4096, Prec: 3, IsWrite: true}, rec)

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrEndOfTrace)
}

func TestFileReader_IgnoresExtraFields(t *testing.T) {
	path := writeTrace(t, "0 R 0x10 extra columns ignored\n")
	r, err := NewFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10), rec.Addr)
}

func TestFileReader_UnknownTypeIsMalformed(t *testing.T) {
	path := writeTrace(t, "0 X 0x10\n")
	r, err := NewFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.True(t, errors.Is(err, ErrMalformedTrace))
}

func TestFileReader_TruncatedLineIsMalformed(t *testing.T) {
	path := writeTrace(t, "0 R\n")
	r, err := NewFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.True(t, errors.Is(err, ErrMalformedTrace))
}

func TestFileReader_BlankLineIsMalformed(t *testing.T) {
	path := writeTrace(t, "0 R 0x10\n\n0 W 0x20\n")
	r, err := NewFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	assert.True(t, errors.Is(err, ErrMalformedTrace))
}

func TestFileReader_BadNumberIsMalformed(t *testing.T) {
	path := writeTrace(t, "abc R 0x10\n")
	r, err := NewFileReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.True(t, errors.Is(err, ErrMalformedTrace))
}

func TestSliceReader_ServesRecordsInOrderThenEndOfTrace(t *testing.T) {
	records := []Record{
		{Addr: 0x0, Prec: 0, IsWrite: false},
		{Addr: 0x2000, Prec: 2, IsWrite: true},
	}
	sr := NewSliceReader(records)

	for _, want := range records {
		got, err := sr.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := sr.Next()
	assert.ErrorIs(t, err, ErrEndOfTrace)
}
