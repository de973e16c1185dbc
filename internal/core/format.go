package core

import (
	"fmt"
	"mime"
	"strings"
)

// Accepted spreadsheet media types.
const (
	MediaTypeXLS  = "application/vnd.ms-excel"
	MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// AcceptedMediaTypes lists the media types an upload may declare.
var AcceptedMediaTypes = []string{MediaTypeXLS, MediaTypeXLSX}

// CheckMediaType rejects uploads whose declared media type is not one of
// AcceptedMediaTypes. Parameters such as charset are ignored.
func CheckMediaType(mediaType string) error {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.TrimSpace(mediaType)
	}
	for _, accepted := range AcceptedMediaTypes {
		if strings.EqualFold(mt, accepted) {
			return nil
		}
	}
	return &UnsupportedTypeError{MediaType: mediaType}
}

// ValidateFormat checks that uploaded carries the same template as reference.
//
// Every cell of the first headerRows reference rows must be present in the
// upload with exactly the same text. The column bound of each row comes from
// the reference, so a shorter uploaded row is a mismatch. After the header
// window the upload must contain at least one more row. On success the full
// uploaded grid is returned unchanged.
func ValidateFormat(reference, uploaded Grid, headerRows int) (Grid, error) {
	if headerRows < 0 {
		headerRows = 0
	}
	if len(reference) < headerRows {
		return nil, fmt.Errorf("%w: %d rows, header window %d", ErrReferenceTooShort, len(reference), headerRows)
	}

	for i := 0; i < headerRows; i++ {
		want := reference[i]
		var got []string
		if i < len(uploaded) {
			got = uploaded[i]
		}

		for j := range want {
			if j >= len(got) {
				return nil, &FormatMismatchError{Row: i, Col: j, Want: want[j], Missing: true}
			}
			if want[j] != got[j] {
				return nil, &FormatMismatchError{Row: i, Col: j, Want: want[j], Got: got[j]}
			}
		}
	}

	if len(uploaded) <= headerRows {
		return nil, &EmptyDataError{HeaderRows: headerRows}
	}

	return uploaded, nil
}
