package core

// grid.go turns uploaded bytes into a Grid.
//
// Workbooks (OOXML zip containers) are read with excelize using raw cell
// values so that the reference and the upload are compared on what the
// cells hold, not on how they are formatted. Plain-text files are read as
// CSV: browsers label .csv files as application/vnd.ms-excel, so they reach
// the parser through the accepted media types.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// textSniffLen is how many leading bytes are inspected to tell text from binary.
const textSniffLen = 8 << 10

// ParseGrid reads the sheet at sheetIndex (zero-based) from data.
//
// Rows whose cells are all empty are dropped, every remaining row is padded
// with "" to the width of the widest row, and columns that are empty in
// every row are trimmed from the left so the grid starts at the used range.
func ParseGrid(data []byte, sheetIndex int) (Grid, error) {
	if len(data) == 0 {
		return nil, &ParseError{Reason: "the file is empty"}
	}
	if sheetIndex < 0 {
		return nil, &ParseError{Reason: fmt.Sprintf("sheet %d does not exist", sheetIndex)}
	}

	switch {
	case bytes.HasPrefix(data, zipMagic):
		return parseWorkbook(data, sheetIndex)
	case bytes.HasPrefix(data, oleMagic):
		return nil, &ParseError{Reason: "legacy binary .xls and encrypted workbooks are not supported, save the file as .xlsx"}
	case looksLikeText(data):
		return parseDelimited(data, sheetIndex)
	default:
		return nil, &ParseError{Reason: "the file is not a spreadsheet"}
	}
}

func parseWorkbook(data []byte, sheetIndex int) (Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Reason: "the workbook is damaged or not an Excel file", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if sheetIndex >= len(sheets) {
		return nil, &ParseError{
			Reason: fmt.Sprintf("sheet %d does not exist (the workbook has %d)", sheetIndex+1, len(sheets)),
		}
	}

	rows, err := f.GetRows(sheets[sheetIndex], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("sheet %q could not be read", sheets[sheetIndex]), Err: err}
	}

	return normalizeRows(rows), nil
}

func parseDelimited(data []byte, sheetIndex int) (Grid, error) {
	if sheetIndex != 0 {
		return nil, &ParseError{
			Reason: fmt.Sprintf("sheet %d does not exist (text files have a single sheet)", sheetIndex+1),
		}
	}

	data = sanitizeUTF8(bytes.TrimPrefix(data, utf8BOM))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, &ParseError{Reason: "the text file is not valid CSV", Err: err}
	}

	return normalizeRows(rows), nil
}

// normalizeRows drops blank rows, trims leading empty columns and pads
// every row to a common width.
func normalizeRows(rows [][]string) Grid {
	kept := make([][]string, 0, len(rows))
	width := 0
	start := -1

	for _, row := range rows {
		first := firstNonEmpty(row)
		if first < 0 {
			continue
		}
		if start < 0 || first < start {
			start = first
		}
		if len(row) > width {
			width = len(row)
		}
		kept = append(kept, row)
	}

	grid := make(Grid, len(kept))
	for i, row := range kept {
		cells := make([]string, width-start)
		copy(cells, row[start:])
		grid[i] = cells
	}

	return grid
}

// firstNonEmpty returns the index of the first non-empty cell, or -1.
func firstNonEmpty(row []string) int {
	for i, v := range row {
		if v != "" {
			return i
		}
	}
	return -1
}

// looksLikeText reports whether the leading bytes contain no NUL bytes.
func looksLikeText(data []byte) bool {
	if len(data) > textSniffLen {
		data = data[:textSniffLen]
	}
	return bytes.IndexByte(data, 0) < 0
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
