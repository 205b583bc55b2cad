package invoke

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "utf-8"

// Decoder converts captured bytes to text in a fixed encoding.
type Decoder struct {
	name string
	enc  encoding.Encoding
}

// NewDecoder looks up label in the WHATWG encoding index ("utf-8",
// "utf-16le", "windows-1252", ...).
func NewDecoder(label string) (*Decoder, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown output encoding %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = label
	}
	return &Decoder{name: name, enc: enc}, nil
}

// Name returns the canonical encoding name.
func (d *Decoder) Name() string { return d.name }

// Decode returns the text for b and whether any bytes were substituted.
func (d *Decoder) Decode(b []byte) (string, bool) {
	if len(b) == 0 {
		return "", false
	}

	out, err := d.enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError)), true
	}
	// A literal U+FFFD in valid utf-8 input is not a substitution.
	if d.name == DefaultEncoding {
		return string(out), !utf8.Valid(b)
	}
	return string(out), bytes.ContainsRune(out, utf8.RuneError)
}
