package core

// schema.go provides row-level validation for extracted data rows.
//
// A Schema is an ordered list of FieldSpecs. Row cells map positionally to
// fields. For each field the rules run in a fixed order (required, type, max
// length) and the first violation aborts the row. SchemaTransform applies
// the schema to every row in sequence and aborts the whole batch on the
// first invalid row, so either every row is returned or none is.

import (
	"context"
	"strconv"
	"unicode/utf8"
)

// Schema is an ordered list of field rules.
type Schema struct {
	Fields []FieldSpec
}

// Columns returns the field names in positional order.
func (s Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Validate checks one row and builds its record.
// Cells beyond the row's length are treated as empty.
func (s Schema) Validate(idx int, row []string) (Record, error) {
	rec := Record{Idx: idx, Fields: make([]Field, 0, len(s.Fields))}

	for pos, spec := range s.Fields {
		raw := ""
		if pos < len(row) {
			raw = row[pos]
		}

		value, err := spec.check(raw)
		if err != nil {
			return Record{}, &RowError{Idx: idx, Err: err}
		}
		rec.Fields = append(rec.Fields, Field{Name: spec.Name, Value: value})
	}

	return rec, nil
}

// check runs the rules of one field against a raw cell value.
func (spec FieldSpec) check(raw string) (any, error) {
	if raw == "" {
		if spec.Required {
			return nil, &RequiredFieldError{Field: spec.Name, Message: spec.RequiredMessage}
		}
		if spec.Type == FieldNumber {
			return nil, nil
		}
		return "", nil
	}

	switch spec.Type {
	case FieldNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &TypeError{Field: spec.Name, Type: spec.Type, Value: raw}
		}
		return n, nil
	default:
		if spec.MaxLength > 0 && utf8.RuneCountInString(raw) > spec.MaxLength {
			return nil, &MaxLengthError{Field: spec.Name, Max: spec.MaxLength, Message: spec.MaxLengthMessage}
		}
		return raw, nil
	}
}

// SchemaTransform returns a transform that validates rows strictly in order
// and assigns Idx from 0. The first invalid row fails the whole batch.
func SchemaTransform(schema Schema) TransformFunc[Record] {
	return func(ctx context.Context, rows [][]string) ([]Record, error) {
		records := make([]Record, 0, len(rows))
		for i, row := range rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec, err := schema.Validate(i, row)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	}
}
