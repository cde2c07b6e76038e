package bot

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// lineEncoding transcodes between UTF-8 and the wire charset for networks
// still running legacy encodings. A nil *lineEncoding means UTF-8
// passthrough.
type lineEncoding struct {
	name    string
	charset *charmap.Charmap
}

// newLineEncoding resolves an encoding name from a server config. The
// empty string and utf-8 return nil (no transcoding).
func newLineEncoding(name string) (*lineEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return &lineEncoding{name: "latin-1", charset: charmap.ISO8859_1}, nil
	case "windows-1252", "cp1252":
		return &lineEncoding{name: "windows-1252", charset: charmap.Windows1252}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// encode converts a UTF-8 string to the wire charset, replacing runes the
// charset cannot express.
func (e *lineEncoding) encode(s string) string {
	out, err := encoding.ReplaceUnsupported(e.charset.NewEncoder()).String(s)
	if err != nil {
		return s
	}
	return out
}

// decode converts wire bytes (held in a Go string) back to UTF-8.
func (e *lineEncoding) decode(s string) string {
	out, err := e.charset.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}
