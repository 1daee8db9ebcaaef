// Package table defines the public data model of tablesniff. Any consumer
// (HTTP clients, MCP tools, custom pipelines) imports this package to read
// table summaries, grids and exports.
package table

import "time"

// Summary is the lightweight description of one candidate table produced by
// a scan. The ID is only valid within the snapshot that produced it.
type Summary struct {
	ID      int        `json:"id"`
	Rows    int        `json:"rows"`
	Cols    int        `json:"cols"`    // cells in the first row
	Preview [][]string `json:"preview"` // first rows (at most PreviewRows), trimmed text
}

// PreviewRows is the number of rows captured in a Summary preview.
const PreviewRows = 2

// Grid is a 2-D sequence of text cells: outer slice rows, inner slice cells.
type Grid [][]string

// RowCount returns the number of rows.
func (g Grid) RowCount() int { return len(g) }

// Empty reports whether the grid has no rows.
func (g Grid) Empty() bool { return len(g) == 0 }

// Format is an export serialisation.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatTSV      Format = "tsv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat maps a user string to a Format. Empty means CSV.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, true
	case FormatTSV, FormatMarkdown, FormatHTML:
		return Format(s), true
	case "md":
		return FormatMarkdown, true
	}
	return "", false
}

// Ext returns the filename extension for the format, without the dot.
func (f Format) Ext() string {
	switch f {
	case FormatTSV:
		return "tsv"
	case FormatMarkdown:
		return "md"
	case FormatHTML:
		return "html"
	}
	return "csv"
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatTSV:
		return "text/tab-separated-values; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

// Export is an encoded table ready to be handed to a delivery target.
type Export struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Format      Format `json:"format"`
	Rows        int    `json:"rows"`
	Data        []byte `json:"data"`
}

// ManualFilename is the download name of a user-selected table:
// table-<YYYY-MM-DD>.<ext>.
func ManualFilename(now time.Time, f Format) string {
	return "table-" + now.UTC().Format(time.DateOnly) + "." + f.Ext()
}

// AutoFilename is the download name of the automatic "largest table" export:
// table-export-<YYYY-MM-DD>.csv.
func AutoFilename(now time.Time) string {
	return "table-export-" + now.UTC().Format(time.DateOnly) + ".csv"
}
