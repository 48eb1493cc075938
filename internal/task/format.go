package task

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Format identifies one of the two file encodings.
type Format int

const (
	// FormatPrimary is a JSON array of records (*.json).
	FormatPrimary Format = iota
	// FormatSecondary is the comma separated line format (*.csv).
	FormatSecondary
)

func (f Format) String() string {
	switch f {
	case FormatPrimary:
		return "json"
	case FormatSecondary:
		return "csv"
	default:
		return "unknown"
	}
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatPrimary, true
	case ".csv":
		return FormatSecondary, true
	default:
		return 0, false
	}
}

// Decode reads items in format f. skipped is always zero for the
// primary format, which fails as a whole instead.
func Decode(r io.Reader, f Format) (items []Item, skipped int, err error) {
	switch f {
	case FormatPrimary:
		items, err = DecodeJSON(r)
		return items, 0, err
	case FormatSecondary:
		return DecodeCSV(r)
	default:
		return nil, 0, fmt.Errorf("unknown format %d", int(f))
	}
}

// Encode writes items in format f.
func Encode(w io.Writer, f Format, items []Item) error {
	switch f {
	case FormatPrimary:
		return EncodeJSON(w, items)
	case FormatSecondary:
		return EncodeCSV(w, items)
	default:
		return fmt.Errorf("unknown format %d", int(f))
	}
}
