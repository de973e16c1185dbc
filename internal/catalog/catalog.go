// Package catalog loads template definitions from a YAML file.
//
// The catalog file lists every template the service accepts uploads for:
//
//	templates:
//	  - key: notices
//	    label: Notices
//	    reference: notices.xlsx        # path relative to the catalog, or http(s) URL
//	    sheet: 0
//	    header_rows: 1
//	    skip_rows: 1
//	    error_message: Please attach a file that matches the notices template.
//	    fields:
//	      - name: name
//	        type: string
//	        required: true
//	        max_length: 100
//	        required_message: Enter a name.
//
// header_rows defaults to 1 and skip_rows defaults to header_rows.
// The file is read with viper and can be watched for changes.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/JonMunkholm/sheetcheck/internal/core"
)

// Options control how reference sources are built.
type Options struct {
	FetchTimeout time.Duration // Timeout of URL references
	HTTPClient   *http.Client  // Client of URL references; nil uses the default
}

type fieldEntry struct {
	Name             string `mapstructure:"name"`
	Type             string `mapstructure:"type"`
	Required         bool   `mapstructure:"required"`
	MaxLength        int    `mapstructure:"max_length"`
	RequiredMessage  string `mapstructure:"required_message"`
	MaxLengthMessage string `mapstructure:"max_length_message"`
}

type templateEntry struct {
	Key          string       `mapstructure:"key"`
	Label        string       `mapstructure:"label"`
	Reference    string       `mapstructure:"reference"`
	Sheet        int          `mapstructure:"sheet"`
	HeaderRows   *int         `mapstructure:"header_rows"`
	SkipRows     *int         `mapstructure:"skip_rows"`
	ErrorMessage string       `mapstructure:"error_message"`
	Fields       []fieldEntry `mapstructure:"fields"`
}

// Load reads the catalog at path.
func Load(path string, opts Options) ([]core.TemplateDefinition, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}
	return decode(v, path, opts)
}

func open(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return v, nil
}

func decode(v *viper.Viper, path string, opts Options) ([]core.TemplateDefinition, error) {
	var entries []templateEntry
	if err := v.UnmarshalKey("templates", &entries); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog %s: no templates defined", path)
	}

	baseDir := filepath.Dir(path)
	defs := make([]core.TemplateDefinition, 0, len(entries))
	for i, e := range entries {
		def, err := e.definition(baseDir, opts)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: template %d (%s): %w", path, i, e.Key, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (e templateEntry) definition(baseDir string, opts Options) (core.TemplateDefinition, error) {
	if e.Key == "" {
		return core.TemplateDefinition{}, fmt.Errorf("key is required")
	}
	if e.Reference == "" {
		return core.TemplateDefinition{}, fmt.Errorf("reference is required")
	}

	headerRows := 1
	if e.HeaderRows != nil {
		headerRows = *e.HeaderRows
	}
	skipRows := headerRows
	if e.SkipRows != nil {
		skipRows = *e.SkipRows
	}

	fields := make([]core.FieldSpec, 0, len(e.Fields))
	for _, f := range e.Fields {
		spec, err := f.spec()
		if err != nil {
			return core.TemplateDefinition{}, err
		}
		fields = append(fields, spec)
	}

	return core.TemplateDefinition{
		Info:         core.TemplateInfo{Key: e.Key, Label: e.Label},
		Reference:    referenceSource(e.Reference, baseDir, opts),
		SheetIndex:   e.Sheet,
		HeaderRows:   headerRows,
		SkipRows:     skipRows,
		ErrorMessage: e.ErrorMessage,
		Schema:       core.Schema{Fields: fields},
	}, nil
}

func (f fieldEntry) spec() (core.FieldSpec, error) {
	if f.Name == "" {
		return core.FieldSpec{}, fmt.Errorf("field name is required")
	}
	ft, err := parseFieldType(f.Type)
	if err != nil {
		return core.FieldSpec{}, fmt.Errorf("field %s: %w", f.Name, err)
	}
	if f.MaxLength < 0 {
		return core.FieldSpec{}, fmt.Errorf("field %s: max_length must not be negative", f.Name)
	}
	return core.FieldSpec{
		Name:             f.Name,
		Type:             ft,
		Required:         f.Required,
		MaxLength:        f.MaxLength,
		RequiredMessage:  f.RequiredMessage,
		MaxLengthMessage: f.MaxLengthMessage,
	}, nil
}

func parseFieldType(s string) (core.FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "text":
		return core.FieldString, nil
	case "number", "numeric":
		return core.FieldNumber, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

func referenceSource(ref, baseDir string, opts Options) core.ReferenceSource {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return core.URLSource{URL: ref, Client: opts.HTTPClient, Timeout: opts.FetchTimeout}
	}
	if !filepath.IsAbs(ref) {
		ref = filepath.Join(baseDir, ref)
	}
	return core.FileSource{Path: ref}
}

// Watch loads the catalog and calls onChange with the new definitions every
// time the file changes on disk. Invalid revisions are logged and skipped.
// Callbacks stop once ctx is done.
func Watch(ctx context.Context, path string, opts Options, onChange func([]core.TemplateDefinition)) ([]core.TemplateDefinition, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}
	defs, err := decode(v, path, opts)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		logger := slog.With("catalog", path, "op", e.Op.String())

		next, err := decode(v, path, opts)
		if err != nil {
			logger.Warn("catalog change ignored", "error", err)
			return
		}
		logger.Info("catalog changed", "templates", len(next))
		onChange(next)
	})
	v.WatchConfig()

	return defs, nil
}
