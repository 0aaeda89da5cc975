package zipwriter

import (
	"io/fs"
	"time"
)

// Method identifies the compression algorithm used to store an entry's
// payload.
type Method uint16

// The two compression methods this writer supports. Values match the ZIP
// specification's compression-method field exactly.
const (
	Store   Method = 0
	Deflate Method = 8
)

// Unix file-type bits packed into the high 16 bits of ExternalAttrs by
// SetMode, following the de-facto convention most ZIP tools use for
// external attributes on Unix-authored archives.
const (
	unixIFREG = 0o100000
	unixIFDIR = 0o040000

	// msdosDirAttr is bit 4 of the low byte of ExternalAttrs, the legacy
	// MS-DOS "directory" attribute that some readers (notably Windows
	// Explorer) still consult alongside the Unix bits.
	msdosDirAttr = 0x10
)

// FileHeader describes one member of the archive: identity (Name), the
// two independent extra-field byte strings (Extra for the local header,
// CentralExtra for the central directory header), and the declared
// size/CRC pair that is mandatory for Store entries and optional (and
// ignored if set) for Deflate entries.
//
// A FileHeader passed to Writer.CreateHeader must not be modified
// afterwards; the writer reads it once when opening the entry.
type FileHeader struct {
	// Name is the entry's path inside the archive. It must be non-empty.
	// It is converted to bytes using the writer's configured encoding
	// (see Writer.SetEncoding) when the entry is opened.
	Name string

	// Modified is the entry's last-modified time, encoded with
	// second-precision local-time DOS semantics (see the internal/dostime
	// package). The zero Time means "use the writer's clock at
	// CreateHeader time".
	Modified time.Time

	// Method selects Store or Deflate. A nil Method defaults to the
	// writer's configured default method (see Writer.SetDefaultMethod);
	// since Method's own zero value collides with Store, a nil pointer is
	// the only way to say "unspecified" rather than "explicitly Store".
	Method *Method

	// Size is the declared uncompressed size in bytes. It is mandatory
	// for Store entries (a nil Size or CRC32 on a Store entry fails
	// CreateHeader with ErrMissingStoredMetadata) and, if set on a
	// Deflate entry, is ignored in favor of the computed value.
	Size *uint64

	// CRC32 is the declared CRC-32 of the uncompressed bytes. Same
	// optionality rules as Size.
	CRC32 *uint32

	// Extra holds the local-file-header extra field, written immediately
	// after the file name in the local header.
	Extra []byte

	// CentralExtra holds the central-directory extra field, written
	// after the file name in the corresponding central directory header.
	// This is independent of Extra: the two layouts may carry different
	// bytes, or one may be empty while the other is not.
	CentralExtra []byte

	// Comment is the entry's comment, stored only in the central
	// directory header.
	Comment string

	// InternalAttrs is written verbatim into the central directory's
	// internal file attributes field.
	InternalAttrs uint16

	// ExternalAttrs is written verbatim into the central directory's
	// external file attributes field. SetMode is a convenience for
	// populating this from an fs.FileMode.
	ExternalAttrs uint32
}

// SetMode packs mode's Unix permission and type bits into ExternalAttrs,
// following the convention used by most Unix-authored ZIP tools (and
// mirrored by the stdlib-derived writers throughout the ecosystem): the
// Unix mode occupies the high 16 bits, and directories additionally get
// the legacy MS-DOS directory attribute bit set in the low byte.
func (fh *FileHeader) SetMode(mode fs.FileMode) {
	perm := uint32(mode.Perm())
	kind := uint32(unixIFREG)
	if mode.IsDir() {
		kind = unixIFDIR
	}
	fh.ExternalAttrs = (kind | perm) << 16
	if mode.IsDir() {
		fh.ExternalAttrs |= msdosDirAttr
	}
}

// Mode extracts the Unix fs.FileMode previously packed by SetMode. It
// returns 0 if ExternalAttrs does not carry Unix mode bits.
func (fh *FileHeader) Mode() fs.FileMode {
	unix := fh.ExternalAttrs >> 16
	mode := fs.FileMode(unix & 0o7777)
	if unix&unixIFDIR == unixIFDIR {
		mode |= fs.ModeDir
	}
	return mode
}
