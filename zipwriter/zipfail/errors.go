// Package zipfail holds the error taxonomy surfaced by the zipwriter
// package. Every error condition the writer can raise is a distinct
// sentinel so callers can discriminate failures with errors.Is, the way
// the rest of the codebase wraps sentinel errors with fmt.Errorf's %w
// instead of inventing bespoke error structs.
package zipfail

import "errors"

var (
	// ErrMissingStoredMetadata is returned by CreateHeader when a Store
	// entry is opened without both a declared Size and CRC32.
	ErrMissingStoredMetadata = errors.New("zipwriter: stored entry requires declared size and CRC-32")

	// ErrStoredCRCMismatch is returned when a Store entry's actual CRC-32
	// does not match its declared value at close.
	ErrStoredCRCMismatch = errors.New("zipwriter: stored entry CRC-32 does not match declared value")

	// ErrStoredSizeMismatch is returned when a Store entry's actual byte
	// count does not match its declared size at close.
	ErrStoredSizeMismatch = errors.New("zipwriter: stored entry size does not match declared value")

	// ErrUnsupportedEncoding is returned when the configured text
	// encoding cannot be resolved, or a name/comment cannot be converted
	// to it.
	ErrUnsupportedEncoding = errors.New("zipwriter: unsupported text encoding")

	// ErrSinkIO wraps an I/O failure reported by the underlying byte
	// sink.
	ErrSinkIO = errors.New("zipwriter: sink write failed")

	// ErrCompressorFailure wraps a failure from the deflate compressor
	// collaborator. This should never happen with valid input; it is
	// propagated rather than hidden if it does.
	ErrCompressorFailure = errors.New("zipwriter: deflate compressor failed")

	// ErrClosed is returned by any operation on a writer after Finish
	// has completed, or on an entry writer superseded by a later
	// CreateHeader or Finish call.
	ErrClosed = errors.New("zipwriter: writer is closed")

	// ErrMissingName is returned when a FileHeader has an empty Name.
	ErrMissingName = errors.New("zipwriter: entry name must not be empty")

	// ErrNameTooLong is returned when an entry's encoded name exceeds
	// 65535 bytes.
	ErrNameTooLong = errors.New("zipwriter: entry name exceeds 65535 bytes once encoded")

	// ErrExtraFieldTooLong is returned when a local or central extra
	// field exceeds 65535 bytes.
	ErrExtraFieldTooLong = errors.New("zipwriter: extra field exceeds 65535 bytes")

	// ErrCommentTooLong is returned when an entry or archive comment
	// exceeds 65535 bytes once encoded.
	ErrCommentTooLong = errors.New("zipwriter: comment exceeds 65535 bytes once encoded")

	// ErrTooManyEntries is returned when opening an entry would exceed
	// the 65535-entry limit the non-ZIP64 wire format imposes; this
	// writer does not implement ZIP64.
	ErrTooManyEntries = errors.New("zipwriter: archive cannot hold more than 65535 entries without ZIP64")

	// ErrTooLarge is returned when an entry's size or the archive's
	// running byte offset would exceed the 32-bit fields the non-ZIP64
	// wire format provides.
	ErrTooLarge = errors.New("zipwriter: entry or archive offset exceeds 4 GiB without ZIP64")
)
