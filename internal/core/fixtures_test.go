package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/xuri/excelize/v2"
)

// buildWorkbook returns an .xlsx with one sheet per grid, all cells as strings.
func buildWorkbook(t *testing.T, sheets ...[][]string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, rows := range sheets {
		name := fmt.Sprintf("Sheet%d", i+1)
		if i > 0 {
			if _, err := f.NewSheet(name); err != nil {
				t.Fatalf("NewSheet(%s): %v", name, err)
			}
		}
		for r, row := range rows {
			cells := make([]interface{}, len(row))
			for c, v := range row {
				cells[c] = v
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("CoordinatesToCellName: %v", err)
			}
			if err := f.SetSheetRow(name, cell, &cells); err != nil {
				t.Fatalf("SetSheetRow(%s, %s): %v", name, cell, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

// xlsxFile wraps workbook bytes as an upload with the xlsx media type.
func xlsxFile(data []byte) *File {
	return &File{Name: "upload.xlsx", MediaType: MediaTypeXLSX, Data: data}
}

// memSource serves a fixed reference and counts fetches.
type memSource struct {
	data    []byte
	err     error
	fetches atomic.Int32
}

func (s *memSource) Fetch(ctx context.Context) ([]byte, error) {
	s.fetches.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

// gridsEqual reports whether two grids have identical cells.
func gridsEqual(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}
