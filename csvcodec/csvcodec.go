// Package csvcodec encodes a grid of text cells as delimited text with
// RFC 4180 style quoting.
//
// encoding/csv is not used for writing: its Writer also quotes fields with
// a leading space and only knows LF or CRLF terminators, while exports here
// need an arbitrary line ending and quoting driven by exactly three
// characters (quote, delimiter, newline).
package csvcodec

import (
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultDelimiter separates cells when none is given.
	DefaultDelimiter = ","
	// DefaultLineEnding separates rows when none is given.
	DefaultLineEnding = "\n"
	// TSVDelimiter is used for spreadsheet clipboard copies.
	TSVDelimiter = "\t"
)

// Encode serialises grid. Cells containing a double quote, the delimiter or
// a newline are quoted and their inner quotes doubled. CRLF and lone CR in
// cells become LF. Rows are joined by lineEnding with no trailing terminator.
func Encode(grid [][]string, delimiter, lineEnding string) string {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	if lineEnding == "" {
		lineEnding = DefaultLineEnding
	}

	var b strings.Builder
	for i, row := range grid {
		if i > 0 {
			b.WriteString(lineEnding)
		}
		for j, cell := range row {
			if j > 0 {
				b.WriteString(delimiter)
			}
			b.WriteString(EscapeCell(cell, delimiter))
		}
	}
	return b.String()
}

// EncodeRows is Encode for loosely typed cells: nil becomes the empty
// string, anything else its fmt.Sprint form.
func EncodeRows(rows [][]any, delimiter, lineEnding string) string {
	grid := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		grid[i] = cells
	}
	return Encode(grid, delimiter, lineEnding)
}

// EscapeCell returns cell in its encoded form for the given delimiter.
func EscapeCell(cell, delimiter string) string {
	cell = normalizeNewlines(cell)
	needsQuote := strings.Contains(cell, `"`) ||
		strings.Contains(cell, delimiter) ||
		strings.Contains(cell, "\n")
	if !needsQuote {
		return cell
	}
	return `"` + strings.ReplaceAll(cell, `"`, `""`) + `"`
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Decode parses text produced by Encode with a single-character delimiter
// and LF or CRLF line endings. Rows may have different lengths.
func Decode(text, delimiter string) ([][]string, error) {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	if utf8.RuneCountInString(delimiter) != 1 {
		return nil, fmt.Errorf("csvcodec: decode needs a single-character delimiter, got %q", delimiter)
	}
	if text == "" {
		return [][]string{}, nil
	}

	comma, _ := utf8.DecodeRuneInString(delimiter)
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = false

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvcodec: decode: %w", err)
	}
	return records, nil
}
