package core

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Grid is an ordered sequence of rows, each an ordered sequence of cells.
// A grid is created by a single parse and is never mutated afterwards.
type Grid [][]string

// File is the file carried by a file-selection event.
type File struct {
	Name      string // Original file name, for logs and history only
	MediaType string // Declared media type (e.g. from the multipart part header)
	Data      []byte
}

// PipelineConfig configures one use-site of the upload pipeline.
type PipelineConfig struct {
	Reference    ReferenceSource // Known-good template workbook
	SheetIndex   int             // Zero-based sheet used for reference and upload
	HeaderRows   int             // Leading rows compared verbatim
	SkipRows     int             // Leading rows dropped before the transform
	ErrorMessage string          // Fallback message for unrecognised failures
}

// Transformer turns the extracted data rows into caller-defined records.
// It may validate and fail; a failure rejects the whole upload.
type Transformer[T any] interface {
	Transform(ctx context.Context, rows [][]string) ([]T, error)
}

// TransformFunc adapts a function to the Transformer interface.
type TransformFunc[T any] func(ctx context.Context, rows [][]string) ([]T, error)

// Transform calls f(ctx, rows).
func (f TransformFunc[T]) Transform(ctx context.Context, rows [][]string) ([]T, error) {
	return f(ctx, rows)
}

// Outcome is the result of handling one file-selection event.
// Exactly one of Records or Message is set unless Skipped is true.
type Outcome[T any] struct {
	Records []T
	Message string // User-facing failure message
	Err     error  // Underlying failure, for logging
	Skipped bool   // No file was present
}

// OK reports whether the pipeline produced records.
func (o Outcome[T]) OK() bool {
	return !o.Skipped && o.Err == nil
}

// FieldType represents the expected data type of a record field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumber
)

// String returns the lowercase name used in catalogs and messages.
func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	default:
		return "value"
	}
}

// FieldSpec defines validation rules for one positional field of a row.
type FieldSpec struct {
	Name             string    // Record field name
	Type             FieldType // Expected data type
	Required         bool      // Empty value is rejected
	MaxLength        int       // Maximum string length in characters (0 = unlimited)
	RequiredMessage  string    // Optional message for a missing value
	MaxLengthMessage string    // Optional message for an over-long value
}

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value any // string, float64, or nil for an empty optional number
}

// Record is a validated row. Idx is the position among the extracted rows.
type Record struct {
	Idx    int
	Fields []Field
}

// MarshalJSON renders the record as a flat object with idx first and the
// fields in schema order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"idx":`)
	idx, _ := json.Marshal(r.Idx)
	buf.Write(idx)

	for _, f := range r.Fields {
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// TemplateInfo contains display information about a template.
type TemplateInfo struct {
	Key     string   `json:"key"`     // Unique identifier: "notices"
	Label   string   `json:"label"`   // Display name: "Notices"
	Columns []string `json:"columns"` // Field names in positional order
}

// TemplateDefinition contains everything needed to check uploads for a template.
type TemplateDefinition struct {
	Info         TemplateInfo
	Reference    ReferenceSource
	SheetIndex   int
	HeaderRows   int
	SkipRows     int
	ErrorMessage string
	Schema       Schema
}

// Pipeline returns the pipeline configuration of the template.
func (d TemplateDefinition) Pipeline() PipelineConfig {
	return PipelineConfig{
		Reference:    d.Reference,
		SheetIndex:   d.SheetIndex,
		HeaderRows:   d.HeaderRows,
		SkipRows:     d.SkipRows,
		ErrorMessage: d.ErrorMessage,
	}
}

// UploadStatus is the final state of an upload.
type UploadStatus string

const (
	StatusAccepted UploadStatus = "accepted"
	StatusRejected UploadStatus = "rejected"
	StatusSkipped  UploadStatus = "skipped"
)

// UploadResult contains the final result of an upload through the Service.
type UploadResult struct {
	UploadID    string        `json:"uploadId"`
	TemplateKey string        `json:"templateKey"`
	FileName    string        `json:"fileName,omitempty"`
	Status      UploadStatus  `json:"status"`
	Records     []Record      `json:"records,omitempty"`
	Error       *UserMessage  `json:"error,omitempty"`
	Duration    time.Duration `json:"durationNs"`
}

// HistoryEntry is one recorded upload outcome.
type HistoryEntry struct {
	UploadID    string        `json:"uploadId"`
	TemplateKey string        `json:"templateKey"`
	FileName    string        `json:"fileName"`
	Status      UploadStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Code        string        `json:"code,omitempty"`
	RowCount    int           `json:"rowCount"`
	Duration    time.Duration `json:"durationNs"`
	ClientIP    string        `json:"clientIp,omitempty"`
	UserAgent   string        `json:"userAgent,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// HistoryStore persists upload outcomes.
type HistoryStore interface {
	RecordUpload(ctx context.Context, entry HistoryEntry) error
	ListUploads(ctx context.Context, templateKey string, limit int) ([]HistoryEntry, error)
}

// Observer receives upload outcomes for monitoring.
type Observer interface {
	UploadFinished(templateKey string, status UploadStatus, code string, rows int, d time.Duration)
}
