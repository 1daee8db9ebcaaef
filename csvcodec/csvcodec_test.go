package csvcodec

import (
	"reflect"
	"strings"
	"testing"
)

func TestEncode_QuotesDelimiterAndQuote(t *testing.T) {
	grid := [][]string{{"a", "b,c", `d"e`}, {"1", "2", "3"}}
	want := "a,\"b,c\",\"d\"\"e\"\n1,2,3"
	if got := Encode(grid, ",", "\n"); got != want {
		t.Errorf("Encode: got %q, want %q", got, want)
	}
}

func TestEncode_ProductSheet(t *testing.T) {
	grid := [][]string{
		{"Name", "Description", "Price"},
		{`Product "A"`, "Contains, comma", "$100.00"},
	}
	want := "Name,Description,Price\n\"Product \"\"A\"\"\",\"Contains, comma\",$100.00"
	if got := Encode(grid, ",", "\n"); got != want {
		t.Errorf("Encode: got %q, want %q", got, want)
	}
}

func TestEncode_MultilineCells(t *testing.T) {
	grid := [][]string{
		{"Product\nB", "Multi\r\nline\rdescription", "$200.00"},
	}
	want := "\"Product\nB\",\"Multi\nline\ndescription\",$200.00"
	if got := Encode(grid, ",", "\n"); got != want {
		t.Errorf("Encode: got %q, want %q", got, want)
	}
}

func TestEncode_NoTrailingLineEnding(t *testing.T) {
	got := Encode([][]string{{"a"}, {"b"}}, ",", "\r\n")
	if got != "a\r\nb" {
		t.Errorf("Encode: got %q", got)
	}
	if strings.HasSuffix(got, "\r\n") {
		t.Error("unexpected trailing line ending")
	}
}

func TestEncode_CustomDelimiter(t *testing.T) {
	grid := [][]string{{"a;b", "c,d"}}
	// Only the active delimiter forces quoting.
	if got := Encode(grid, ";", "\n"); got != `"a;b";c,d` {
		t.Errorf("Encode ';': got %q", got)
	}
	if got := Encode(grid, "\t", "\n"); got != "a;b\tc,d" {
		t.Errorf("Encode tab: got %q", got)
	}
}

func TestEncode_Defaults(t *testing.T) {
	if got := Encode([][]string{{"a", "b"}, {"c"}}, "", ""); got != "a,b\nc" {
		t.Errorf("Encode defaults: got %q", got)
	}
}

func TestEncode_Empty(t *testing.T) {
	if got := Encode(nil, ",", "\n"); got != "" {
		t.Errorf("Encode(nil): got %q", got)
	}
	if got := Encode([][]string{{}, {""}}, ",", "\n"); got != "\n" {
		t.Errorf("Encode empty rows: got %q", got)
	}
}

func TestEncodeRows_Coercion(t *testing.T) {
	rows := [][]any{{nil, 42, 1.5, true, "x,y"}}
	want := `,42,1.5,true,"x,y"`
	if got := EncodeRows(rows, ",", "\n"); got != want {
		t.Errorf("EncodeRows: got %q, want %q", got, want)
	}
}

func TestEscapeCell_LeadingSpaceNotQuoted(t *testing.T) {
	if got := EscapeCell(" padded", ","); got != " padded" {
		t.Errorf("EscapeCell: got %q", got)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	grids := [][][]string{
		{{"a", "b"}, {"c", "d"}},
		{{"Name", "Price"}, {"Widget", "10"}, {"Gadget", "20"}},
		{{"one"}},
		{{"x", "y", "z"}, {"1"}},
	}
	for _, d := range []string{",", ";", "\t", "|"} {
		for _, g := range grids {
			enc := Encode(g, d, "\n")
			got, err := Decode(enc, d)
			if err != nil {
				t.Fatalf("Decode(%q): %v", enc, err)
			}
			if !reflect.DeepEqual(got, g) {
				t.Errorf("round trip delim %q: got %v, want %v", d, got, g)
			}
		}
	}
}

func TestDecode_QuotedCells(t *testing.T) {
	grid := [][]string{{`say "hi"`, "a,b", "line\nbreak"}}
	got, err := Decode(Encode(grid, ",", "\r\n"), ",")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, grid) {
		t.Errorf("got %q, want %q", got, grid)
	}
}

func TestDecode_BadDelimiter(t *testing.T) {
	if _, err := Decode("a,b", ",,"); err == nil {
		t.Error("expected error for multi-character delimiter")
	}
}
