package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetcheck/internal/config"
	"github.com/JonMunkholm/sheetcheck/internal/core"
	"github.com/JonMunkholm/sheetcheck/internal/metrics"
)

type staticSource struct{ data []byte }

func (s staticSource) Fetch(ctx context.Context) ([]byte, error) { return s.data, nil }

func workbook(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for r, row := range rows {
		cells := make([]interface{}, len(row))
		for c, v := range row {
			cells[c] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &cells))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

var noticeHeader = []string{"name", "title", "description"}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second, ShutdownTimeout: time.Second},
		Upload:  config.UploadConfig{MaxFileSize: 1 << 20, MaxConcurrent: 2, MaxWaitTime: time.Second, Timeout: 10 * time.Second},
		Metrics: config.MetricsConfig{Enabled: true},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

type testEnv struct {
	server  *Server
	service *core.Service
	limiter *core.UploadLimiter
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, cfg *config.Config, opts ...core.ServiceOption) *testEnv {
	t.Helper()

	def := core.TemplateDefinition{
		Info:       core.TemplateInfo{Key: "notices", Label: "Notices"},
		Reference:  staticSource{data: workbook(t, [][]string{noticeHeader, {"Jane", "Launch", "Product launch"}})},
		HeaderRows: 1,
		SkipRows:   1,
		Schema: core.Schema{Fields: []core.FieldSpec{
			{Name: "name", Type: core.FieldString, Required: true, MaxLength: 100},
			{Name: "title", Type: core.FieldString, Required: true, MaxLength: 500},
			{Name: "description", Type: core.FieldString, Required: true, MaxLength: 1000},
		}},
	}
	reg, err := core.NewRegistry(def)
	require.NoError(t, err)

	limiter := core.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	m := metrics.New(false)
	opts = append([]core.ServiceOption{
		core.WithLimiter(limiter),
		core.WithMaxFileSize(cfg.Upload.MaxFileSize),
		core.WithObserver(m),
	}, opts...)
	svc := core.NewService(reg, opts...)

	srv := NewServer(cfg, svc, m)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testEnv{server: srv, service: svc, limiter: limiter, metrics: m}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, key, fileName, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/"+key, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", "web-test")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListTemplates(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []core.TemplateInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "notices", infos[0].Key)
	assert.Equal(t, noticeHeader, infos[0].Columns)
}

func TestDownloadReference(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/templates/notices/reference", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.MediaTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=notices.xlsx`, rec.Header().Get("Content-Disposition"))

	grid, err := core.ParseGrid(rec.Body.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, noticeHeader, grid[0])
}

func TestDownloadReference_UnknownTemplate(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/templates/missing/reference", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TBL002", decodeError(t, rec).Code)
}

func TestUpload_Accepted(t *testing.T) {
	env := newTestEnv(t, testConfig())

	data := workbook(t, [][]string{noticeHeader, {"Ann", "Outage", "Planned outage"}, {"Bob", "Release", "New release"}})
	rec := env.do(uploadRequest(t, "notices", "notices.xlsx", core.MediaTypeXLSX, data))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Status  string           `json:"status"`
		Records []map[string]any `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "accepted", result.Status)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "Ann", result.Records[0]["name"])
	assert.Equal(t, float64(1), result.Records[1]["idx"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/records/notices", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
}

func TestUpload_MediaTypeFromExtension(t *testing.T) {
	env := newTestEnv(t, testConfig())

	data := workbook(t, [][]string{noticeHeader, {"Ann", "Outage", "Planned outage"}})
	rec := env.do(uploadRequest(t, "notices", "notices.xlsx", "application/octet-stream", data))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUpload_Rejected(t *testing.T) {
	env := newTestEnv(t, testConfig())

	data := workbook(t, [][]string{{"name", "headline", "description"}, {"Ann", "Outage", "Planned outage"}})
	rec := env.do(uploadRequest(t, "notices", "wrong.xlsx", core.MediaTypeXLSX, data))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var result core.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, core.StatusRejected, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "TPL001", result.Error.Code)
	assert.Contains(t, result.Error.Message, `"title"`)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/records/notices", nil))
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestUpload_UnsupportedType(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(uploadRequest(t, "notices", "notes.pdf", "application/pdf", []byte("%PDF-1.4")))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "FILE002")
}

func TestUpload_NoFile(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(uploadRequest(t, "notices", "", "", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestUpload_UnknownTemplate(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(uploadRequest(t, "missing", "a.xlsx", core.MediaTypeXLSX, []byte("x")))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TBL002", decodeError(t, rec).Code)
}

func TestUpload_TooLargeForService(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxFileSize = 16
	env := newTestEnv(t, cfg)

	data := workbook(t, [][]string{noticeHeader, {"Ann", "Outage", "Planned outage"}})
	rec := env.do(uploadRequest(t, "notices", "big.xlsx", core.MediaTypeXLSX, data))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "FILE001")
}

func TestUpload_Busy(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxConcurrent = 1
	cfg.Upload.MaxWaitTime = 20 * time.Millisecond
	env := newTestEnv(t, cfg)

	release, err := env.limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	data := workbook(t, [][]string{noticeHeader, {"Ann", "Outage", "Planned outage"}})
	rec := env.do(uploadRequest(t, "notices", "notices.xlsx", core.MediaTypeXLSX, data))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "UPL002", decodeError(t, rec).Code)
}

func TestHistory_WithoutStore(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/history/notices?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/history/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 2}
	env := newTestEnv(t, cfg)

	for i := 0; i < 2; i++ {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/templates", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)

	// Health checks are not rate limited.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	env := newTestEnv(t, cfg)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	req.Header.Set("X-API-Key", "k1")
	rec = env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())

	data := workbook(t, [][]string{noticeHeader, {"Ann", "Outage", "Planned outage"}})
	rec := env.do(uploadRequest(t, "notices", "notices.xlsx", core.MediaTypeXLSX, data))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sheetcheck_uploads_total{code="",status="accepted",template="notices"} 1`)
	assert.Contains(t, rec.Body.String(), `sheetcheck_http_requests_total{method="POST",route="/api/upload/{key}",status="200"} 1`)
}

func TestMediaTypeForName(t *testing.T) {
	assert.Equal(t, core.MediaTypeXLSX, mediaTypeForName("a.XLSX"))
	assert.Equal(t, core.MediaTypeXLS, mediaTypeForName("a.xls"))
	assert.Equal(t, core.MediaTypeXLS, mediaTypeForName("a.csv"))
	assert.Equal(t, "application/octet-stream", mediaTypeForName("a.txt"))
}
