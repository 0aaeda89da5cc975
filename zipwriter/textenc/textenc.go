// Package textenc resolves ZIP entry names and comments to the byte
// encoding a particular archive targets. The ZIP format predates Unicode
// and officially assumes CP-437; most modern tools write UTF-8 instead,
// and either choice has to be explicit for cross-platform readers to
// agree on what the name bytes mean.
package textenc

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// ErrUnsupported is wrapped into any error Resolve or Encoder.EncodeString
// returns when a charset name can't be resolved or a string can't be
// represented in the target encoding.
var ErrUnsupported = errors.New("textenc: unsupported encoding")

// UTF8 is the identity encoder, used by default when no encoding has been
// configured.
var UTF8 = Encoder{name: "UTF-8"}

// Encoder converts strings to the byte representation of a named
// character encoding.
type Encoder struct {
	name string
	enc  encoding.Encoding
}

// Resolve looks up name, an IANA or MIME charset name such as "UTF-8",
// "IBM437" (ZIP's traditional default), or "Shift_JIS", and returns an
// Encoder that converts to it. An empty name resolves to UTF8.
func Resolve(name string) (Encoder, error) {
	if name == "" || strings.EqualFold(name, "UTF-8") || strings.EqualFold(name, "UTF8") {
		return UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return Encoder{}, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return Encoder{name: name, enc: enc}, nil
}

// Name reports the charset name the Encoder was resolved from, as it was
// passed to Resolve, and "UTF-8" for the default.
func (e Encoder) Name() string {
	if e.name == "" {
		return "UTF-8"
	}
	return e.name
}

// EncodeString converts s to its byte representation in e's encoding.
func (e Encoder) EncodeString(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if e.enc == nil {
		return []byte(s), nil
	}
	out, err := e.enc.NewEncoder().String(s)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot encode %q as %s: %v", ErrUnsupported, s, e.Name(), err)
	}
	return []byte(out), nil
}
