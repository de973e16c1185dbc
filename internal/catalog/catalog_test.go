package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetcheck/internal/core"
)

const sampleCatalog = `
templates:
  - key: notices
    label: Notices
    reference: notices.xlsx
    error_message: Use the notices template.
    fields:
      - name: name
        type: string
        required: true
        max_length: 100
        required_message: Enter a name.
      - name: amount
        type: number
  - key: remote
    reference: https://example.com/ref.xlsx
    sheet: 1
    header_rows: 2
    skip_rows: 3
`

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	defs, err := Load(path, Options{FetchTimeout: 3 * time.Second})
	require.NoError(t, err)
	require.Len(t, defs, 2)

	notices := defs[0]
	assert.Equal(t, "notices", notices.Info.Key)
	assert.Equal(t, "Notices", notices.Info.Label)
	assert.Equal(t, core.FileSource{Path: filepath.Join(dir, "notices.xlsx")}, notices.Reference)
	assert.Equal(t, 0, notices.SheetIndex)
	assert.Equal(t, 1, notices.HeaderRows, "header_rows defaults to 1")
	assert.Equal(t, 1, notices.SkipRows, "skip_rows defaults to header_rows")
	assert.Equal(t, "Use the notices template.", notices.ErrorMessage)
	require.Len(t, notices.Schema.Fields, 2)
	assert.Equal(t, core.FieldSpec{
		Name:            "name",
		Type:            core.FieldString,
		Required:        true,
		MaxLength:       100,
		RequiredMessage: "Enter a name.",
	}, notices.Schema.Fields[0])
	assert.Equal(t, core.FieldNumber, notices.Schema.Fields[1].Type)

	remote := defs[1]
	assert.Equal(t, core.URLSource{URL: "https://example.com/ref.xlsx", Timeout: 3 * time.Second}, remote.Reference)
	assert.Equal(t, 1, remote.SheetIndex)
	assert.Equal(t, 2, remote.HeaderRows)
	assert.Equal(t, 3, remote.SkipRows)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no templates",
			content: "templates: []\n",
			wantErr: "no templates defined",
		},
		{
			name:    "missing key",
			content: "templates:\n  - reference: a.xlsx\n",
			wantErr: "key is required",
		},
		{
			name:    "missing reference",
			content: "templates:\n  - key: a\n",
			wantErr: "reference is required",
		},
		{
			name:    "unknown field type",
			content: "templates:\n  - key: a\n    reference: a.xlsx\n    fields:\n      - name: x\n        type: date\n",
			wantErr: `unknown field type "date"`,
		},
		{
			name:    "unnamed field",
			content: "templates:\n  - key: a\n    reference: a.xlsx\n    fields:\n      - type: string\n",
			wantErr: "field name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCatalog(t, t.TempDir(), tt.content)
			_, err := Load(path, Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), Options{})
	require.Error(t, err)
}

func TestLoad_ShippedCatalog(t *testing.T) {
	defs, err := Load(filepath.Join("..", "..", "templates", "templates.yaml"), Options{})
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	reg, err := core.NewRegistry(defs...)
	require.NoError(t, err)

	def, ok := reg.Get("notices")
	require.True(t, ok)
	assert.Equal(t, []string{"name", "title", "description"}, def.Info.Columns)

	grid, err := core.LoadReference(context.Background(), def.Reference, def.SheetIndex)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(grid), def.HeaderRows)
	assert.Equal(t, []string{"name", "title", "description"}, grid[0])
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var latest []core.TemplateDefinition

	defs, err := Watch(ctx, path, Options{}, func(next []core.TemplateDefinition) {
		mu.Lock()
		latest = next
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, defs, 2)

	updated := "templates:\n  - key: only\n    reference: only.xlsx\n"
	tmp := filepath.Join(dir, "templates.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(updated), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && latest[0].Info.Key == "only"
	}, 5*time.Second, 50*time.Millisecond)
}
