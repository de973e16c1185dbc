// Package core provides the business logic for spreadsheet template checks.
//
// This package is the heart of sheetcheck, containing all domain logic
// independent of any UI or transport layer. It can be used by web handlers,
// CLI tools, or tests without modification.
//
// # Architecture
//
// An upload flows through a fixed pipeline:
//
//  1. [CheckMediaType] rejects files that are not declared as spreadsheets.
//  2. [ParseGrid] turns workbook bytes into a [Grid] of string cells.
//  3. [ValidateFormat] compares the header window of the upload with the
//     reference grid of the template and rejects uploads without data rows.
//  4. [ExtractRows] drops the configured number of leading rows.
//  5. A [Transformer] maps the remaining rows to records. [SchemaTransform]
//     is the declarative one: each row is checked against a [Schema]
//     fail-fast, so one bad row rejects the whole batch.
//
// [Controller] orchestrates the pipeline for one template and holds the last
// successful record list. [Service] owns one controller per registered
// template plus the upload limiter and the optional history store.
//
// # Template Registry
//
// Templates are registered on a [Registry] (usually from the YAML catalog):
//
//	reg.Register(TemplateDefinition{
//	    Info:       TemplateInfo{Key: "notices", Label: "Notices"},
//	    Reference:  FileSource{Path: "templates/notices.xlsx"},
//	    HeaderRows: 1,
//	    SkipRows:   1,
//	    Schema: Schema{Fields: []FieldSpec{
//	        {Name: "name", Type: FieldString, Required: true, MaxLength: 100},
//	    }},
//	})
//
// # Error Handling
//
// Pipeline stages return typed errors ([UnsupportedTypeError],
// [FormatMismatchError], [RequiredFieldError], ...). The controller never
// propagates them: it converts the failure to a single message and reports
// it through the error callback. [MapError] adds a support code and an
// action for display:
//
//   - FILE001-FILE003: file errors (size, media type, unreadable workbook)
//   - TPL001-TPL002: template conformance errors
//   - VAL002-VAL007: row validation errors
//   - UPL002-UPL005: upload admission and cancellation
package core
