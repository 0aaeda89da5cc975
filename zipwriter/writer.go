package zipwriter

import (
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/birchwood-dev/zipwriter/zipwriter/internal/dostime"
	"github.com/birchwood-dev/zipwriter/zipwriter/textenc"
	"github.com/birchwood-dev/zipwriter/zipwriter/zipfail"
)

// Writer streams a sequence of named byte payloads into the PKZIP
// container format: local file headers and entry data are emitted as
// entries are opened and written, and the central directory is emitted
// once, at Finish, from the bookkeeping the writer accumulated along the
// way. It never buffers a whole entry, let alone a whole archive, and it
// never seeks the sink — written is the single source of truth for every
// offset the central directory records.
//
// A Writer is not safe for concurrent use. Every operation is synchronous
// and blocks only on the sink's own Write calls.
type Writer struct {
	sink    io.Writer
	written uint64

	entries []finalizedEntry
	current *openEntry
	closed  bool

	comment string
	enc     textenc.Encoder
	clock   Clock

	defaultMethod Method
	defaultLevel  int

	deflator      *flate.Writer
	deflatorLevel int

	cdOffset uint64
	cdLength uint64
}

// openEntry tracks the in-flight entry between CreateHeader and the
// close that happens on the next CreateHeader or on Finish.
type openEntry struct {
	method    Method
	offset    uint64 // written value when the local header began
	dataStart uint64 // written value immediately after the local header

	nameBytes    []byte
	commentBytes []byte
	localExtra   []byte
	centralExtra []byte

	internalAttrs uint16
	externalAttrs uint32
	modDOS        uint32

	versionNeeded uint16
	flags         uint16

	crc      hash.Hash32
	rawCount uint64 // uncompressed bytes written so far

	declaredSize uint64
	declaredCRC  uint32

	comp        *flate.Writer   // non-nil only for Deflate
	compCounter *countingWriter // compressed-byte counter, non-nil only for Deflate

	superseded bool // set once this entry has been closed
}

// finalizedEntry is the immutable central-directory record produced when
// an entry closes. Keeping it separate from the caller's FileHeader means
// the caller's FileHeader is never mutated, and tests can assert on the
// writer's own bookkeeping directly.
type finalizedEntry struct {
	nameBytes    []byte
	commentBytes []byte
	localExtra   []byte
	centralExtra []byte

	method        Method
	versionNeeded uint16
	flags         uint16
	modDOS        uint32

	crc32            uint32
	compressedSize   uint32
	uncompressedSize uint32

	internalAttrs uint16
	externalAttrs uint32
	offset        uint64
}

// countingWriter forwards writes to a Writer's sink, through writeRaw,
// while separately counting the bytes that passed through it. It backs
// the deflate compressor's output path so the writer can learn a deflated
// entry's compressed size without the compressor exposing one itself.
type countingWriter struct {
	w     *Writer
	count uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if err := c.w.writeRaw(p); err != nil {
		return 0, err
	}
	c.count += uint64(len(p))
	return len(p), nil
}

// NewWriter returns a Writer that streams a ZIP archive to sink. The
// writer never closes sink; callers own its lifecycle.
func NewWriter(sink io.Writer) *Writer {
	return &Writer{
		sink:          sink,
		enc:           textenc.UTF8,
		clock:         realClock{},
		defaultMethod: Deflate,
		defaultLevel:  flate.DefaultCompression,
	}
}

// SetComment sets the archive-level comment written verbatim into the
// end-of-central-directory record. It may be called at any time before
// Finish.
func (w *Writer) SetComment(comment string) error {
	if w.closed {
		return zipfail.ErrClosed
	}
	w.comment = comment
	return nil
}

// SetEncoding selects the text encoding applied to the names and comments
// of all subsequently opened entries. The archive comment is encoded at
// Finish with whichever encoding is in effect then, whenever SetComment
// was called. name is an IANA/MIME charset name; an empty name resets to
// UTF-8.
func (w *Writer) SetEncoding(name string) error {
	if w.closed {
		return zipfail.ErrClosed
	}
	enc, err := textenc.Resolve(name)
	if err != nil {
		return fmt.Errorf("%w: %v", zipfail.ErrUnsupportedEncoding, err)
	}
	w.enc = enc
	return nil
}

// SetDefaultMethod sets the compression method used by Create and by any
// FileHeader with a nil Method. It has no effect on FileHeaders passed to
// CreateHeader with an explicit Method.
func (w *Writer) SetDefaultMethod(method Method) error {
	if w.closed {
		return zipfail.ErrClosed
	}
	w.defaultMethod = method
	return nil
}

// SetDefaultLevel sets the deflate compression level (see
// compress/flate's level constants) used for subsequent Deflate entries.
func (w *Writer) SetDefaultLevel(level int) error {
	if w.closed {
		return zipfail.ErrClosed
	}
	w.defaultLevel = level
	return nil
}

// Create opens an entry named name using the writer's default method, and
// no declared size or CRC (suitable for Deflate; a default method of
// Store requires CreateHeader with explicit Size/CRC32 instead). It is a
// convenience for the common case of writing a single entry whose method
// is "whatever this writer defaults to".
func (w *Writer) Create(name string) (io.Writer, error) {
	return w.CreateHeader(&FileHeader{Name: name})
}

// CreateHeader finalizes any entry currently in flight, then opens a new
// entry described by fh, returning an io.Writer for its payload. fh must
// not be modified after this call returns.
func (w *Writer) CreateHeader(fh *FileHeader) (io.Writer, error) {
	if w.closed {
		return nil, zipfail.ErrClosed
	}
	if err := w.closeCurrentEntry(); err != nil {
		return nil, err
	}
	if fh.Name == "" {
		return nil, zipfail.ErrMissingName
	}
	if len(w.entries)+1 > maxUint16 {
		return nil, zipfail.ErrTooManyEntries
	}

	nameBytes, err := w.enc.EncodeString(fh.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zipfail.ErrUnsupportedEncoding, err)
	}
	if len(nameBytes) > maxUint16 {
		return nil, zipfail.ErrNameTooLong
	}
	commentBytes, err := w.enc.EncodeString(fh.Comment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zipfail.ErrUnsupportedEncoding, err)
	}
	if len(commentBytes) > maxUint16 {
		return nil, zipfail.ErrCommentTooLong
	}
	if len(fh.Extra) > maxUint16 || len(fh.CentralExtra) > maxUint16 {
		return nil, zipfail.ErrExtraFieldTooLong
	}

	modified := fh.Modified
	if modified.IsZero() {
		modified = w.clock.Now()
	}
	modDOS := dostime.Pack(modified)

	method := w.defaultMethod
	if fh.Method != nil {
		method = *fh.Method
	}
	var declaredSize uint64
	var declaredCRC uint32
	if method == Store {
		if fh.Size == nil || fh.CRC32 == nil {
			return nil, zipfail.ErrMissingStoredMetadata
		}
		declaredSize = *fh.Size
		declaredCRC = *fh.CRC32
		if declaredSize > maxUint32 {
			return nil, zipfail.ErrTooLarge
		}
	}
	if w.written > maxUint32 {
		return nil, zipfail.ErrTooLarge
	}

	e := &openEntry{
		method:        method,
		offset:        w.written,
		nameBytes:     nameBytes,
		commentBytes:  commentBytes,
		localExtra:    fh.Extra,
		centralExtra:  fh.CentralExtra,
		internalAttrs: fh.InternalAttrs,
		externalAttrs: fh.ExternalAttrs,
		modDOS:        modDOS,
		crc:           crc32.NewIEEE(),
		declaredSize:  declaredSize,
		declaredCRC:   declaredCRC,
	}

	switch method {
	case Store:
		e.versionNeeded = versionNeededStore
		e.flags = 0
	case Deflate:
		e.versionNeeded = versionNeededDeflate
		e.flags = flagDataDescriptor
		e.compCounter = &countingWriter{w: w}
		comp, err := w.deflatorFor(e.compCounter)
		if err != nil {
			return nil, err
		}
		e.comp = comp
	default:
		return nil, fmt.Errorf("zipwriter: unsupported method %d", method)
	}

	if err := w.writeLocalHeader(e); err != nil {
		return nil, err
	}
	e.dataStart = w.written

	w.current = e
	return &entryWriter{w: w, e: e}, nil
}

// deflatorFor returns a *flate.Writer targeting dst at the writer's
// current default level, reusing the writer's single pooled instance
// when the level hasn't changed and allocating a fresh one when it has.
func (w *Writer) deflatorFor(dst io.Writer) (*flate.Writer, error) {
	if w.deflator != nil && w.deflatorLevel == w.defaultLevel {
		w.deflator.Reset(dst)
		return w.deflator, nil
	}
	fw, err := flate.NewWriter(dst, w.defaultLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zipfail.ErrCompressorFailure, err)
	}
	w.deflator = fw
	w.deflatorLevel = w.defaultLevel
	return fw, nil
}

// entryWriter is the io.Writer returned by CreateHeader. It exists so
// stale references (payload writes issued after the entry was superseded
// by a later CreateHeader or Finish) fail instead of silently corrupting
// the next entry's stream.
type entryWriter struct {
	w *Writer
	e *openEntry
}

func (ew *entryWriter) Write(p []byte) (int, error) {
	return ew.w.writeEntryPayload(ew.e, p)
}

func (w *Writer) writeEntryPayload(e *openEntry, p []byte) (int, error) {
	if w.closed || e.superseded || w.current != e {
		return 0, zipfail.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	e.crc.Write(p)
	e.rawCount += uint64(len(p))

	switch e.method {
	case Store:
		if err := w.writeRaw(p); err != nil {
			return 0, err
		}
	case Deflate:
		if _, err := e.comp.Write(p); err != nil {
			if errors.Is(err, zipfail.ErrSinkIO) {
				return 0, err
			}
			return 0, fmt.Errorf("%w: %v", zipfail.ErrCompressorFailure, err)
		}
	}
	return len(p), nil
}

// writeRaw writes p to the sink and advances the written counter. It is
// the single choke point every byte of the archive passes through. An
// empty p is not passed to the sink.
func (w *Writer) writeRaw(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := w.sink.Write(p)
	w.written += uint64(n)
	if err != nil {
		return fmt.Errorf("%w: %v", zipfail.ErrSinkIO, err)
	}
	return nil
}

func (w *Writer) writeLocalHeader(e *openEntry) error {
	b := newBinWriter(localFileHeaderLen)
	b.u32(localFileHeaderSignature)
	b.u16(e.versionNeeded)
	b.u16(e.flags)
	b.u16(uint16(e.method))
	modTime, modDate := dostime.Split(e.modDOS)
	b.u16(modTime)
	b.u16(modDate)
	if e.method == Store {
		b.u32(e.declaredCRC)
		b.u32(uint32(e.declaredSize))
		b.u32(uint32(e.declaredSize))
	} else {
		b.u32(0)
		b.u32(0)
		b.u32(0)
	}
	b.u16(uint16(len(e.nameBytes)))
	b.u16(uint16(len(e.localExtra)))

	if err := w.writeRaw(b.bytes()); err != nil {
		return err
	}
	if err := w.writeRaw(e.nameBytes); err != nil {
		return err
	}
	return w.writeRaw(e.localExtra)
}

// closeCurrentEntry finalizes the in-flight entry, if any: it drains the
// compressor (for Deflate), validates declared metadata (for Store),
// writes the data descriptor (for Deflate), and appends the resulting
// finalizedEntry to the central-directory index.
func (w *Writer) closeCurrentEntry() error {
	e := w.current
	if e == nil {
		return nil
	}
	w.current = nil
	e.superseded = true

	var fe finalizedEntry
	fe.nameBytes = e.nameBytes
	fe.commentBytes = e.commentBytes
	fe.localExtra = e.localExtra
	fe.centralExtra = e.centralExtra
	fe.method = e.method
	fe.versionNeeded = e.versionNeeded
	fe.flags = e.flags
	fe.modDOS = e.modDOS
	fe.internalAttrs = e.internalAttrs
	fe.externalAttrs = e.externalAttrs
	fe.offset = e.offset

	switch e.method {
	case Store:
		realCRC := e.crc.Sum32()
		if realCRC != e.declaredCRC {
			return zipfail.ErrStoredCRCMismatch
		}
		actualSize := w.written - e.dataStart
		if actualSize != e.declaredSize {
			return zipfail.ErrStoredSizeMismatch
		}
		fe.crc32 = e.declaredCRC
		fe.compressedSize = uint32(e.declaredSize)
		fe.uncompressedSize = uint32(e.declaredSize)

	case Deflate:
		if err := e.comp.Close(); err != nil {
			if errors.Is(err, zipfail.ErrSinkIO) {
				return err
			}
			return fmt.Errorf("%w: %v", zipfail.ErrCompressorFailure, err)
		}
		if e.rawCount > maxUint32 || e.compCounter.count > maxUint32 {
			return zipfail.ErrTooLarge
		}
		fe.crc32 = e.crc.Sum32()
		fe.uncompressedSize = uint32(e.rawCount)
		fe.compressedSize = uint32(e.compCounter.count)

		dd := newBinWriter(dataDescriptorLen)
		dd.u32(dataDescriptorSignature)
		dd.u32(fe.crc32)
		dd.u32(fe.compressedSize)
		dd.u32(fe.uncompressedSize)
		if err := w.writeRaw(dd.bytes()); err != nil {
			return err
		}
	}

	w.entries = append(w.entries, fe)
	return nil
}

// Finish closes any entry still in flight, emits the central directory
// and end-of-central-directory record, and releases the writer's owned
// resources (the pooled deflator). After Finish returns successfully the
// writer is closed: every subsequent operation fails with ErrClosed.
func (w *Writer) Finish() error {
	if w.closed {
		return zipfail.ErrClosed
	}
	if err := w.closeCurrentEntry(); err != nil {
		return err
	}

	commentBytes, err := w.enc.EncodeString(w.comment)
	if err != nil {
		return fmt.Errorf("%w: %v", zipfail.ErrUnsupportedEncoding, err)
	}
	if len(commentBytes) > maxUint16 {
		return zipfail.ErrCommentTooLong
	}

	w.cdOffset = w.written
	for _, fe := range w.entries {
		if err := w.writeCentralFileHeader(fe); err != nil {
			return err
		}
	}
	w.cdLength = w.written - w.cdOffset

	if err := w.writeEndOfCentralDirectory(commentBytes); err != nil {
		return err
	}

	w.entries = nil
	w.current = nil
	w.deflator = nil
	w.closed = true
	return nil
}

func (w *Writer) writeCentralFileHeader(fe finalizedEntry) error {
	if fe.offset > maxUint32 {
		return zipfail.ErrTooLarge
	}

	b := newBinWriter(centralFileHeaderLen)
	b.u32(centralFileHeaderSignature)
	b.u16(versionMadeBy)
	b.u16(fe.versionNeeded)
	b.u16(fe.flags)
	b.u16(uint16(fe.method))
	modTime, modDate := dostime.Split(fe.modDOS)
	b.u16(modTime)
	b.u16(modDate)
	b.u32(fe.crc32)
	b.u32(fe.compressedSize)
	b.u32(fe.uncompressedSize)
	b.u16(uint16(len(fe.nameBytes)))
	b.u16(uint16(len(fe.centralExtra)))
	b.u16(uint16(len(fe.commentBytes)))
	b.u16(0) // disk number start
	b.u16(fe.internalAttrs)
	b.u32(fe.externalAttrs)
	b.u32(uint32(fe.offset))

	if err := w.writeRaw(b.bytes()); err != nil {
		return err
	}
	if err := w.writeRaw(fe.nameBytes); err != nil {
		return err
	}
	if err := w.writeRaw(fe.centralExtra); err != nil {
		return err
	}
	return w.writeRaw(fe.commentBytes)
}

func (w *Writer) writeEndOfCentralDirectory(commentBytes []byte) error {
	b := newBinWriter(endOfCentralDirLen)
	b.u32(endOfCentralDirSignature)
	b.u16(0) // disk number
	b.u16(0) // disk where central directory starts
	b.u16(uint16(len(w.entries)))
	b.u16(uint16(len(w.entries)))
	b.u32(uint32(w.cdLength))
	b.u32(uint32(w.cdOffset))
	b.u16(uint16(len(commentBytes)))

	if err := w.writeRaw(b.bytes()); err != nil {
		return err
	}
	return w.writeRaw(commentBytes)
}
