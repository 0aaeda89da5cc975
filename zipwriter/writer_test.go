package zipwriter

import (
	"archive/zip"
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birchwood-dev/zipwriter/zipwriter/zipfail"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func uptr(v uint64) *uint64 { return &v }
func cptr(v uint32) *uint32 { return &v }
func mptr(v Method) *Method { return &v }

func TestOneDeflatedEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.clock = fixedClock{time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local)}

	fw, err := w.CreateHeader(&FileHeader{Name: "hello.txt", Method: mptr(Deflate)})
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	data := buf.Bytes()
	assert.Equal(t, []byte{0x50, 0x4B, 0x03, 0x04}, data[:4])
	// general-purpose bit flag (bytes 6-7) has bit 3 set.
	assert.Equal(t, byte(0x08), data[6])
	// CRC/compressed/uncompressed are zero in the local header.
	assert.Equal(t, []byte{0, 0, 0, 0}, data[14:18])
	assert.Equal(t, []byte{0, 0, 0, 0}, data[18:22])
	assert.Equal(t, []byte{0, 0, 0, 0}, data[22:26])

	assert.Equal(t, uint32(0x3610A686), crc32.ChecksumIEEE([]byte("hello")))

	verifyRoundTrip(t, data, map[string]string{"hello.txt": "hello"})
}

func TestOneStoredEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	payload := []byte{0x61}
	crc := crc32.ChecksumIEEE(payload)
	assert.Equal(t, uint32(0xE8B7BE43), crc)

	fw, err := w.CreateHeader(&FileHeader{
		Name:   "a",
		Method: mptr(Store),
		Size:   uptr(1),
		CRC32:  cptr(crc),
	})
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	data := buf.Bytes()
	// no data descriptor: flags field is zero.
	assert.Equal(t, []byte{0, 0}, data[6:8])
	assert.Equal(t, crc, bytesToUint32(data[14:18]))

	verifyRoundTrip(t, data, map[string]string{"a": "a"})
}

func TestTwoEntriesMixedMethods(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	big := bytes.Repeat([]byte{0}, 1000)
	fw, err := w.CreateHeader(&FileHeader{Name: "a.bin", Method: mptr(Deflate)})
	require.NoError(t, err)
	_, err = fw.Write(big)
	require.NoError(t, err)

	small := []byte{1, 2, 3}
	crc := crc32.ChecksumIEEE(small)
	fw, err = w.CreateHeader(&FileHeader{
		Name:   "b.bin",
		Method: mptr(Store),
		Size:   uptr(3),
		CRC32:  cptr(crc),
	})
	require.NoError(t, err)
	_, err = fw.Write(small)
	require.NoError(t, err)

	require.NoError(t, w.Finish())

	verifyRoundTrip(t, buf.Bytes(), map[string]string{
		"a.bin": string(big),
		"b.bin": string(small),
	})
}

func TestStoredSizeMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	// The declared CRC matches the 8 bytes actually written, so only the
	// size disagrees with what was declared.
	written := bytes.Repeat([]byte{0}, 8)
	fw, err := w.CreateHeader(&FileHeader{Name: "x", Method: mptr(Store), Size: uptr(10), CRC32: cptr(crc32.ChecksumIEEE(written))})
	require.NoError(t, err)
	_, err = fw.Write(written)
	require.NoError(t, err)

	err = w.Finish()
	assert.ErrorIs(t, err, zipfail.ErrStoredSizeMismatch)
}

func TestStoredCRCMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	fw, err := w.CreateHeader(&FileHeader{Name: "x", Method: mptr(Store), Size: uptr(5), CRC32: cptr(0)})
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)

	err = w.Finish()
	assert.ErrorIs(t, err, zipfail.ErrStoredCRCMismatch)
}

func TestMissingStoredMetadata(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	_, err := w.CreateHeader(&FileHeader{Name: "x", Method: mptr(Store)})
	assert.ErrorIs(t, err, zipfail.ErrMissingStoredMetadata)
}

func TestEmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Finish())

	data := buf.Bytes()
	assert.Len(t, data, endOfCentralDirLen)
	assert.Equal(t, uint16(0), bytesToUint16(data[8:10]))
}

func TestZeroByteStoredEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	fw, err := w.CreateHeader(&FileHeader{Name: "empty", Method: mptr(Store), Size: uptr(0), CRC32: cptr(0)})
	require.NoError(t, err)
	_, err = fw.Write(nil)
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	verifyRoundTrip(t, buf.Bytes(), map[string]string{"empty": ""})
}

func TestZeroByteDeflatedEntryHasDataDescriptor(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	_, err := w.CreateHeader(&FileHeader{Name: "empty", Method: mptr(Deflate)})
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	verifyRoundTrip(t, buf.Bytes(), map[string]string{"empty": ""})
}

func TestTimestampBefore1980Saturates(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.clock = fixedClock{time.Date(1975, 1, 1, 0, 0, 0, 0, time.Local)}

	_, err := w.CreateHeader(&FileHeader{Name: "old", Method: mptr(Deflate)})
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	data := buf.Bytes()
	// local header mod time+date occupy bytes 10-14.
	assert.Equal(t, []byte{0x00, 0x00, 0x21, 0x00}, data[10:14])
}

func TestArchiveCommentWithEncoding(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.SetEncoding("IBM437"))
	require.NoError(t, w.SetComment("ok"))
	require.NoError(t, w.Finish())

	data := buf.Bytes()
	commentLen := bytesToUint16(data[20:22])
	assert.Equal(t, uint16(2), commentLen)
	assert.Equal(t, "ok", string(data[22:22+commentLen]))
}

func TestArchiveCommentMultibyteUnderIBM437(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.SetEncoding("IBM437"))
	// 'é' is U+00E9; IBM437 (code page 437) encodes it as the single byte
	// 0x82, distinct from its two-byte UTF-8 representation.
	require.NoError(t, w.SetComment("café"))
	require.NoError(t, w.Finish())

	data := buf.Bytes()
	commentLen := bytesToUint16(data[20:22])
	assert.Equal(t, uint16(4), commentLen)
	assert.Equal(t, []byte{'c', 'a', 'f', 0x82}, data[22:22+commentLen])
}

func TestCreateHeaderDefaultsMethodToWriterDefault(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	fw, err := w.CreateHeader(&FileHeader{Name: "x"})
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	data := buf.Bytes()
	// NewWriter defaults to Deflate; an omitted Method must pick that up
	// rather than being treated as an explicit Store, which would have
	// demanded a declared Size/CRC32 instead.
	assert.Equal(t, uint16(Deflate), bytesToUint16(data[8:10]))
	assert.Equal(t, byte(0x08), data[6])
}

func TestCreateHeaderHonorsStoreAsWriterDefault(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.SetDefaultMethod(Store))

	_, err := w.CreateHeader(&FileHeader{Name: "x"})
	assert.ErrorIs(t, err, zipfail.ErrMissingStoredMetadata)
}

func TestNameTooLong(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	_, err := w.CreateHeader(&FileHeader{Name: strings.Repeat("a", maxUint16+1), Method: mptr(Deflate)})
	assert.ErrorIs(t, err, zipfail.ErrNameTooLong)
}

func TestExtraFieldTooLong(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	_, err := w.CreateHeader(&FileHeader{
		Name:   "x",
		Method: mptr(Deflate),
		Extra:  make([]byte, maxUint16+1),
	})
	assert.ErrorIs(t, err, zipfail.ErrExtraFieldTooLong)
}

func TestCommentTooLong(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	_, err := w.CreateHeader(&FileHeader{
		Name:    "x",
		Method:  mptr(Deflate),
		Comment: strings.Repeat("a", maxUint16+1),
	})
	assert.ErrorIs(t, err, zipfail.ErrCommentTooLong)
}

// failAfterWriter accepts up to allow bytes total, then fails every
// subsequent Write, simulating a sink that runs out of room mid-archive.
type failAfterWriter struct {
	allow int
	buf   bytes.Buffer
}

func (f *failAfterWriter) Write(p []byte) (int, error) {
	if f.buf.Len() >= f.allow {
		return 0, errors.New("disk full")
	}
	room := f.allow - f.buf.Len()
	if len(p) <= room {
		return f.buf.Write(p)
	}
	n, _ := f.buf.Write(p[:room])
	return n, errors.New("disk full")
}

func TestDeflateSinkFailurePropagatesAsSinkIO(t *testing.T) {
	sink := &failAfterWriter{allow: localFileHeaderLen + 1}
	w := NewWriter(sink)

	fw, err := w.CreateHeader(&FileHeader{Name: "x", Method: mptr(Deflate)})
	require.NoError(t, err)

	_, err = fw.Write(bytes.Repeat([]byte{'a'}, 8192))
	if err == nil {
		err = w.Finish()
	}
	assert.ErrorIs(t, err, zipfail.ErrSinkIO)
}

func TestStoreSinkFailurePropagatesAsSinkIO(t *testing.T) {
	sink := &failAfterWriter{allow: localFileHeaderLen + 1}
	w := NewWriter(sink)

	payload := []byte("hello")
	crc := crc32.ChecksumIEEE(payload)
	fw, err := w.CreateHeader(&FileHeader{Name: "x", Method: mptr(Store), Size: uptr(uint64(len(payload))), CRC32: cptr(crc)})
	require.NoError(t, err)

	_, err = fw.Write(payload)
	assert.ErrorIs(t, err, zipfail.ErrSinkIO)
}

func TestWriterClosedAfterFinish(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Finish())

	_, err := w.CreateHeader(&FileHeader{Name: "x"})
	assert.ErrorIs(t, err, zipfail.ErrClosed)
	assert.ErrorIs(t, w.Finish(), zipfail.ErrClosed)
}

func TestCreateHeaderSupersedesPreviousWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	first, err := w.CreateHeader(&FileHeader{Name: "a", Method: mptr(Deflate)})
	require.NoError(t, err)
	_, err = w.CreateHeader(&FileHeader{Name: "b", Method: mptr(Deflate)})
	require.NoError(t, err)

	_, err = first.Write([]byte("late"))
	assert.ErrorIs(t, err, zipfail.ErrClosed)
}

func TestFinishIsIdempotentlyEmpty(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.CreateHeader(&FileHeader{Name: "a", Method: mptr(Deflate)})
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	assert.Empty(t, w.entries)
	assert.Nil(t, w.current)
}

func TestMissingName(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.CreateHeader(&FileHeader{Name: ""})
	assert.ErrorIs(t, err, zipfail.ErrMissingName)
}

func TestCentralDirectoryOffsetsMatchLocalHeaders(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	names := []string{"one", "two", "three"}
	for _, n := range names {
		fw, err := w.CreateHeader(&FileHeader{Name: n, Method: mptr(Deflate)})
		require.NoError(t, err)
		_, err = fw.Write([]byte(strings.Repeat(n, 10)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Finish())

	r, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, r.File, len(names))

	for i, f := range r.File {
		assert.Equal(t, names[i], f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, strings.Repeat(names[i], 10), string(got))
	}
}

func TestUnsupportedEncoding(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.SetEncoding("not-a-real-charset")
	assert.True(t, errors.Is(err, zipfail.ErrUnsupportedEncoding))
}

func bytesToUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func bytesToUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func verifyRoundTrip(t *testing.T, data []byte, want map[string]string) {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, r.File, len(want))

	for _, f := range r.File {
		expected, ok := want[f.Name]
		require.True(t, ok, "unexpected entry %q", f.Name)

		rc, err := f.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		assert.Equal(t, expected, string(got), "payload mismatch for %q", f.Name)
	}
}
