package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/log"
	"github.com/zerorag/zerorag/pkg/processor"
)

// Step is one stage of the upload lifecycle. Steps only advance.
type Step string

const (
	StepPending    Step = "pending"
	StepUpload     Step = "upload"
	StepValidation Step = "validation"
	StepParsing    Step = "parsing"
	StepChunking   Step = "chunking"
	StepEmbedding  Step = "embedding"
	StepStorage    Step = "storage"
	StepCompleted  Step = "completed"
	StepFailed     Step = "failed"
)

var stepOrder = map[Step]int{
	StepPending:    0,
	StepUpload:     1,
	StepValidation: 2,
	StepParsing:    3,
	StepChunking:   4,
	StepEmbedding:  5,
	StepStorage:    6,
	StepCompleted:  7,
	StepFailed:     8,
}

var stepProgress = map[Step]int{
	StepPending:    0,
	StepUpload:     5,
	StepValidation: 10,
	StepParsing:    20,
	StepChunking:   40,
	StepEmbedding:  60,
	StepStorage:    80,
	StepCompleted:  100,
}

// Progress is the per-upload state record.
type Progress struct {
	DocumentID   string    `json:"document_id"`
	Filename     string    `json:"filename"`
	FileSize     int64     `json:"file_size"`
	Progress     int       `json:"progress"`
	CurrentStep  Step      `json:"current_step"`
	StartTime    time.Time `json:"start_time"`
	LastUpdate   time.Time `json:"last_update"`
	ETASeconds   float64   `json:"eta_seconds,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

const (
	progressRetention = 24 * time.Hour
	gcSchedule        = "@every 1h"
)

// Service coordinates uploads end to end: validate, persist to disk, then
// run parse, embed, and store as one background task per document.
type Service struct {
	cfg       *config.Config
	processor domain.Processor
	embedder  domain.Embedder
	store     domain.VectorStore
	validator *FileValidator
	logger    *slog.Logger

	mu       sync.RWMutex
	progress map[string]*Progress

	sem chan struct{}
	wg  sync.WaitGroup
	gc  *cron.Cron
}

func NewService(cfg *config.Config, proc domain.Processor, embedder domain.Embedder, store domain.VectorStore) *Service {
	concurrency := cfg.Document.MaxConcurrentIngest
	if concurrency <= 0 {
		concurrency = 1
	}

	s := &Service{
		cfg:       cfg,
		processor: proc,
		embedder:  embedder,
		store:     store,
		validator: NewFileValidator(cfg.Document.MaxFileSize, processor.SupportedExtensions()),
		logger:    log.WithModule("ingest"),
		progress:  make(map[string]*Progress),
		sem:       make(chan struct{}, concurrency),
		gc:        cron.New(),
	}

	if _, err := s.gc.AddFunc(gcSchedule, func() { s.SweepProgress(progressRetention) }); err != nil {
		s.logger.Error("failed to schedule progress gc", "error", err)
	}
	s.gc.Start()
	return s
}

// Close stops the GC scheduler and waits for in-flight ingest tasks.
func (s *Service) Close() error {
	ctx := s.gc.Stop()
	<-ctx.Done()
	s.wg.Wait()
	return nil
}

// ValidateUpload runs pre-upload validation without persisting anything.
func (s *Service) ValidateUpload(filename string, fileSize int64, contentType string) *ValidationReport {
	return s.validator.Validate(filename, fileSize, contentType)
}

// StartIngest validates and persists the upload synchronously, then runs
// the parse/embed/store pipeline in the background. The returned document
// id keys GetProgress. A rejected upload keeps its FAILED progress record.
func (s *Service) StartIngest(ctx context.Context, filename string, data []byte) (string, error) {
	documentID := uuid.New().String()
	now := time.Now()

	s.mu.Lock()
	s.progress[documentID] = &Progress{
		DocumentID:  documentID,
		Filename:    filename,
		FileSize:    int64(len(data)),
		CurrentStep: StepPending,
		StartTime:   now,
		LastUpdate:  now,
	}
	s.mu.Unlock()

	report := s.validator.Validate(filename, int64(len(data)), "")
	if !report.Valid {
		reason := strings.Join(report.Errors, "; ")
		s.fail(documentID, reason)
		return documentID, fmt.Errorf("%w: %s", domain.ErrInvalidInput, reason)
	}
	for _, warning := range report.Warnings {
		s.logger.Warn("upload validation warning", "document_id", documentID, "warning", warning)
	}

	s.advance(documentID, StepUpload)
	path, err := s.persist(filename, data)
	if err != nil {
		s.fail(documentID, err.Error())
		return documentID, err
	}

	s.advance(documentID, StepValidation)
	s.logger.Info("upload accepted", "document_id", documentID, "filename", filename, "path", path)

	s.wg.Add(1)
	go s.run(documentID, path)
	return documentID, nil
}

// GetProgress returns a snapshot of the upload record with a fresh ETA.
func (s *Service) GetProgress(documentID string) (*Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.progress[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: upload %s", domain.ErrNotFound, documentID)
	}

	snapshot := *record
	if snapshot.Progress > 0 && snapshot.Progress < 100 && snapshot.CurrentStep != StepFailed {
		elapsed := time.Since(snapshot.StartTime).Seconds()
		snapshot.ETASeconds = elapsed * float64(100-snapshot.Progress) / float64(snapshot.Progress)
	}
	return &snapshot, nil
}

// ListProgress returns snapshots of all retained upload records.
func (s *Service) ListProgress() []*Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Progress, 0, len(s.progress))
	for _, record := range s.progress {
		snapshot := *record
		records = append(records, &snapshot)
	}
	return records
}

// DeleteDocument removes a document's chunks from the store and its
// persisted file from the upload directory.
func (s *Service) DeleteDocument(ctx context.Context, sourceFile string) (int, error) {
	deleted, err := s.store.DeleteBySource(ctx, sourceFile)
	if err != nil {
		return 0, err
	}

	path := filepath.Join(s.cfg.Storage.UploadDir, filepath.Base(sourceFile))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove uploaded file", "path", path, "error", err)
	}
	s.logger.Info("document deleted", "source_file", sourceFile, "chunks", deleted)
	return deleted, nil
}

// SweepProgress drops records whose last update is older than maxAge.
func (s *Service) SweepProgress(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.progress {
		if record.LastUpdate.Before(cutoff) {
			delete(s.progress, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("swept stale upload records", "removed", removed)
	}
	return removed
}

// persist writes the upload under the upload directory, resolving filename
// collisions with a numeric suffix before the extension.
func (s *Service) persist(filename string, data []byte) (string, error) {
	dir := s.cfg.Storage.UploadDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating upload dir: %v", domain.ErrInternal, err)
	}

	base := filepath.Base(filename)
	path := filepath.Join(dir, base)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing upload: %v", domain.ErrInternal, err)
	}
	return path, nil
}

// run is the background pipeline for one upload. Chunks stored before a
// failure are left in place.
func (s *Service) run(documentID, path string) {
	defer s.wg.Done()

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx := context.Background()

	s.advance(documentID, StepParsing)
	chunks, meta, err := s.processor.Process(ctx, path, documentID)
	if err != nil {
		s.fail(documentID, fmt.Sprintf("parsing failed: %v", err))
		return
	}
	s.advance(documentID, StepChunking)

	s.advance(documentID, StepEmbedding)
	if err := s.embedChunks(ctx, chunks); err != nil {
		s.fail(documentID, fmt.Sprintf("embedding failed: %v", err))
		return
	}

	s.advance(documentID, StepStorage)
	result, err := s.store.UpsertBatch(ctx, chunks)
	if err != nil {
		s.fail(documentID, fmt.Sprintf("storage failed: %v", err))
		return
	}
	if result.Failed > 0 {
		s.logger.Warn("partial storage failure",
			"document_id", documentID, "failed", result.Failed, "successful", result.Successful)
	}

	s.advance(documentID, StepCompleted)
	s.logger.Info("ingest completed",
		"document_id", documentID,
		"filename", meta.FileName,
		"chunks", len(chunks),
		"stored", result.Successful)
}

// embedChunks encodes chunk texts in batch groups and assigns vectors in
// place.
func (s *Service) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	batchSize := s.cfg.Store.BatchChunkSize
	if batchSize <= 0 {
		batchSize = 10
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))

		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Text
		}

		vectors, err := s.embedder.Encode(ctx, texts)
		if err != nil {
			return err
		}
		for i := range vectors {
			chunks[start+i].Vector = vectors[i]
		}
	}
	return nil
}

// advance moves a record forward. Regressions and updates after a terminal
// step are ignored so progress stays monotonic.
func (s *Service) advance(documentID string, step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.progress[documentID]
	if !ok {
		return
	}
	if record.CurrentStep == StepFailed || stepOrder[step] <= stepOrder[record.CurrentStep] {
		return
	}

	record.CurrentStep = step
	record.LastUpdate = time.Now()
	if pct, ok := stepProgress[step]; ok && pct > record.Progress {
		record.Progress = pct
	}
}

func (s *Service) fail(documentID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.progress[documentID]
	if !ok {
		return
	}
	record.CurrentStep = StepFailed
	record.ErrorMessage = reason
	record.LastUpdate = time.Now()
	s.logger.Error("ingest failed", "document_id", documentID, "reason", reason)
}
