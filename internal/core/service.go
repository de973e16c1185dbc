package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sheetcheck/internal/logging"
)

// UploadTimeout is the default maximum duration of one pipeline run.
var UploadTimeout = 2 * time.Minute

// DefaultHistoryLimit is used when History is called without a limit.
const DefaultHistoryLimit = 50

// Service runs uploads against the registered templates. It keeps one
// Controller per template, so held records are per template and per Service.
type Service struct {
	registry *Registry
	cache    *ReferenceCache
	limiter  *UploadLimiter
	history  HistoryStore
	observer Observer

	maxFileSize   int64
	uploadTimeout time.Duration

	mu          sync.RWMutex
	controllers map[string]*Controller[Record]
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHistory records every upload outcome in store.
func WithHistory(store HistoryStore) ServiceOption {
	return func(s *Service) { s.history = store }
}

// WithObserver reports every upload outcome to obs.
func WithObserver(obs Observer) ServiceOption {
	return func(s *Service) { s.observer = obs }
}

// WithLimiter sets the admission limiter.
func WithLimiter(l *UploadLimiter) ServiceOption {
	return func(s *Service) { s.limiter = l }
}

// WithMaxFileSize rejects files larger than n bytes. 0 disables the check.
func WithMaxFileSize(n int64) ServiceOption {
	return func(s *Service) { s.maxFileSize = n }
}

// WithUploadTimeout bounds one pipeline run.
func WithUploadTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.uploadTimeout = d }
}

// NewService creates a Service over registry.
func NewService(registry *Registry, opts ...ServiceOption) *Service {
	s := &Service{
		registry:      registry,
		cache:         NewReferenceCache(),
		uploadTimeout: UploadTimeout,
		controllers:   make(map[string]*Controller[Record]),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewUploadLimiter(DefaultMaxConcurrentUploads, DefaultMaxWaitTime)
	}
	return s
}

// ListTemplates returns information about all registered templates.
func (s *Service) ListTemplates() []TemplateInfo {
	defs := s.registry.All()
	infos := make([]TemplateInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// controller returns the controller of key, creating it on first use.
func (s *Service) controller(key string) (*Controller[Record], TemplateDefinition, error) {
	def, ok := s.registry.Get(key)
	if !ok {
		return nil, TemplateDefinition{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
	}

	s.mu.RLock()
	ctrl, ok := s.controllers[key]
	s.mu.RUnlock()
	if ok {
		return ctrl, def, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctrl, ok := s.controllers[key]; ok {
		return ctrl, def, nil
	}

	ctrl = NewController[Record](def.Pipeline(), SchemaTransform(def.Schema),
		WithReferenceCache[Record](s.cache),
		WithCacheKey[Record](key),
		WithLogger[Record](slog.Default().With("template", key)),
	)
	s.controllers[key] = ctrl
	return ctrl, def, nil
}

// Upload runs the pipeline for the template key.
//
// A nil file is a cancelled selection and yields a skipped result. Pipeline
// failures are reported in the result, not as an error; the error return is
// reserved for unknown templates and admission failures.
func (s *Service) Upload(ctx context.Context, key string, file *File) (*UploadResult, error) {
	ctrl, def, err := s.controller(key)
	if err != nil {
		return nil, err
	}

	uploadID := uuid.New().String()
	logger := logging.WithFields(ctx, "upload_id", uploadID, "template", key)
	start := time.Now()

	result := &UploadResult{UploadID: uploadID, TemplateKey: key}
	if file == nil {
		result.Status = StatusSkipped
		logger.Debug("upload skipped, no file")
		return result, nil
	}
	result.FileName = file.Name

	var outcome Outcome[Record]
	if s.maxFileSize > 0 && int64(len(file.Data)) > s.maxFileSize {
		tooLarge := &FileTooLargeError{Size: int64(len(file.Data)), Limit: s.maxFileSize}
		outcome = Outcome[Record]{Message: tooLarge.Error(), Err: tooLarge}
	} else {
		release, err := s.limiter.Acquire(ctx)
		if err != nil {
			logger.Warn("upload not admitted", "error", err)
			return nil, err
		}
		defer release()

		runCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()

		outcome = ctrl.HandleFile(runCtx, file)
	}

	result.Duration = time.Since(start)
	code := ""
	if outcome.OK() {
		result.Status = StatusAccepted
		result.Records = outcome.Records
		logger.Info("upload accepted", "file", file.Name, "rows", len(outcome.Records), "duration_ms", result.Duration.Milliseconds())
	} else {
		msg := MapFailure(outcome.Err, def.ErrorMessage)
		msg.Message = outcome.Message
		result.Status = StatusRejected
		result.Error = &msg
		code = msg.Code
		logger.Info("upload rejected", "file", file.Name, "code", code, "error", outcome.Err)
	}

	if s.observer != nil {
		s.observer.UploadFinished(key, result.Status, code, len(result.Records), result.Duration)
	}
	s.recordHistory(ctx, logger, result)

	return result, nil
}

func (s *Service) recordHistory(ctx context.Context, logger *slog.Logger, result *UploadResult) {
	if s.history == nil {
		return
	}

	entry := HistoryEntry{
		UploadID:    result.UploadID,
		TemplateKey: result.TemplateKey,
		FileName:    result.FileName,
		Status:      result.Status,
		RowCount:    len(result.Records),
		Duration:    result.Duration,
		ClientIP:    ClientIP(ctx),
		UserAgent:   UserAgent(ctx),
		CreatedAt:   time.Now().UTC(),
	}
	if result.Error != nil {
		entry.Message = result.Error.Message
		entry.Code = result.Error.Code
	}

	// The outcome is already decided; a cancelled request must not lose its entry.
	histCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.history.RecordUpload(histCtx, entry); err != nil {
		logger.Error("record upload history", "error", err)
	}
}

// Records returns the records held for key.
func (s *Service) Records(key string) ([]Record, error) {
	ctrl, _, err := s.controller(key)
	if err != nil {
		return nil, err
	}
	return ctrl.Records(), nil
}

// History returns the most recent upload outcomes for key, newest first.
// Without a history store the list is empty.
func (s *Service) History(ctx context.Context, key string, limit int) ([]HistoryEntry, error) {
	if _, ok := s.registry.Get(key); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
	}
	if s.history == nil {
		return []HistoryEntry{}, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.history.ListUploads(ctx, key, limit)
}

// ReferenceFile returns the reference workbook of key and a download name.
func (s *Service) ReferenceFile(ctx context.Context, key string) ([]byte, string, error) {
	def, ok := s.registry.Get(key)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
	}

	data, err := def.Reference.Fetch(ctx)
	if err != nil {
		return nil, "", err
	}
	return data, referenceFileName(def), nil
}

func referenceFileName(def TemplateDefinition) string {
	var name string
	switch src := def.Reference.(type) {
	case FileSource:
		name = filepath.Base(src.Path)
	case URLSource:
		if u, err := url.Parse(src.URL); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" {
		name = def.Info.Key + ".xlsx"
	}
	return name
}

// ReloadTemplates replaces the registered templates with defs.
// The cached references of every old and new key are invalidated, so the
// next upload compares against a fresh reference. Controllers of templates
// whose definition is unchanged keep their held records.
func (s *Service) ReloadTemplates(defs []TemplateDefinition) error {
	old := make(map[string]TemplateDefinition)
	for _, def := range s.registry.All() {
		old[def.Info.Key] = def
	}

	if err := s.registry.Replace(defs); err != nil {
		return err
	}
	for key := range old {
		s.cache.Invalidate(key)
	}
	for _, key := range s.registry.Keys() {
		if _, ok := old[key]; !ok {
			s.cache.Invalidate(key)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.controllers {
		next, ok := s.registry.Get(key)
		if !ok || !sameDefinition(old[key], next) {
			delete(s.controllers, key)
		}
	}

	slog.Info("templates reloaded", "count", s.registry.Count(), "cached_references", s.cache.Len())
	return nil
}

// sameDefinition reports whether a controller built for a can serve b.
func sameDefinition(a, b TemplateDefinition) bool {
	pa, pb := a.Pipeline(), b.Pipeline()
	if pa.SheetIndex != pb.SheetIndex || pa.HeaderRows != pb.HeaderRows ||
		pa.SkipRows != pb.SkipRows || pa.ErrorMessage != pb.ErrorMessage {
		return false
	}
	if !sameReference(pa.Reference, pb.Reference) {
		return false
	}
	if len(a.Schema.Fields) != len(b.Schema.Fields) {
		return false
	}
	for i := range a.Schema.Fields {
		if a.Schema.Fields[i] != b.Schema.Fields[i] {
			return false
		}
	}
	return true
}

// sameReference compares sources by value; uncomparable sources never match.
func sameReference(a, b ReferenceSource) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// UploadLimiterStatus returns the admission limiter state.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until in-flight uploads finish or ctx is done.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
