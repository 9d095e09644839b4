package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/monitoring"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// ErrInvalidFAQ is returned for an FAQ without a question or answer.
var ErrInvalidFAQ = errors.New("invalid faq entry")

// FAQStore is the persistence the pipeline writes to.
type FAQStore interface {
	Upsert(ctx context.Context, f *storage.FaqEntry) (bool, error)
	ListAll(ctx context.Context) ([]*storage.FaqEntry, error)
	Update(ctx context.Context, f *storage.FaqEntry) error
}

// CacheInvalidator drops cached FAQ snapshots after a write.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Pipeline imports FAQ seeds and single admin FAQ writes.
type Pipeline struct {
	logger *observability.Logger
	store  FAQStore
	audit  *monitoring.AuditLogger
	cache  CacheInvalidator
}

// ImportRequest describes one seed import.
type ImportRequest struct {
	// Path is read when Reader is nil.
	Path   string
	Reader io.Reader
	// Format defaults to the one implied by Path.
	Format   Format
	Operator string
	// Prune deactivates active FAQs that the seed does not mention.
	Prune bool
	// DryRun parses and validates without writing.
	DryRun bool
}

// ImportResult summarizes an import job.
type ImportResult struct {
	JobID       uuid.UUID     `json:"job_id"`
	Parsed      int           `json:"parsed"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Deactivated int           `json:"deactivated"`
	Rejected    int           `json:"rejected"`
	Errors      []string      `json:"errors,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Progress is called after each row is written.
type Progress func(done, total int)

// NewPipeline creates an import pipeline. audit and cache may be nil.
func NewPipeline(logger *observability.Logger, store FAQStore, audit *monitoring.AuditLogger, cache CacheInvalidator) *Pipeline {
	return &Pipeline{
		logger: logger,
		store:  store,
		audit:  audit,
		cache:  cache,
	}
}

// Import parses a seed file and upserts every accepted row by
// (category, question). Rows that fail validation are reported and skipped.
func (p *Pipeline) Import(ctx context.Context, req ImportRequest, progress Progress) (*ImportResult, error) {
	result := &ImportResult{
		JobID:     uuid.New(),
		StartedAt: time.Now(),
	}
	log := p.logger.WithContext(ctx).WithOperation("faq_import")
	log.Info().
		Str("job_id", result.JobID.String()).
		Str("path", req.Path).
		Bool("prune", req.Prune).
		Bool("dry_run", req.DryRun).
		Msg("Starting FAQ import")

	seed, err := p.parse(req)
	if err != nil {
		return nil, err
	}
	result.Parsed = len(seed.Entries)
	for _, pe := range seed.Errors {
		if pe.Severity == SeverityError {
			result.Rejected++
			result.Errors = append(result.Errors, pe.Error())
		} else {
			result.Warnings = append(result.Warnings, pe.Error())
		}
	}

	if req.DryRun {
		return p.finish(log, result), nil
	}

	seen := make(map[uuid.UUID]bool, len(seed.Entries))
	for i, row := range seed.Entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		entry := row.Entry()
		created, err := p.store.Upsert(ctx, entry)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", row.Line, err))
			log.Warn().Err(err).Int("line", row.Line).Msg("Failed to upsert FAQ")
			continue
		}
		seen[entry.ID] = true
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		p.audit.LogFAQUpserted(ctx, entry, created, req.Operator)
		if progress != nil {
			progress(i+1, len(seed.Entries))
		}
	}

	if req.Prune {
		n, err := p.deactivateMissing(ctx, seen, req.Operator)
		result.Deactivated = n
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("prune: %v", err))
			log.Warn().Err(err).Msg("Failed to deactivate FAQs missing from seed")
		}
	}

	if result.Created+result.Updated+result.Deactivated > 0 {
		p.invalidate(ctx)
	}
	return p.finish(log, result), nil
}

func (p *Pipeline) parse(req ImportRequest) (*ParsedSeed, error) {
	format := req.Format
	if format == "" {
		f, err := FormatFromPath(req.Path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	r := req.Reader
	if r == nil {
		file, err := os.Open(req.Path)
		if err != nil {
			return nil, fmt.Errorf("open seed file: %w", err)
		}
		defer file.Close()
		r = file
	}
	return Parse(r, format)
}

func (p *Pipeline) deactivateMissing(ctx context.Context, keep map[uuid.UUID]bool, operator string) (int, error) {
	all, err := p.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, faq := range all {
		if !faq.Active || keep[faq.ID] {
			continue
		}
		faq.Active = false
		if err := p.store.Update(ctx, faq); err != nil {
			return n, err
		}
		p.audit.LogFAQUpserted(ctx, faq, false, operator)
		n++
	}
	return n, nil
}

func (p *Pipeline) finish(log *observability.Logger, result *ImportResult) *ImportResult {
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	log.Info().
		Str("job_id", result.JobID.String()).
		Int("parsed", result.Parsed).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deactivated", result.Deactivated).
		Int("rejected", result.Rejected).
		Dur("duration", result.Duration).
		Msg("FAQ import completed")
	return result
}

// Upsert writes one admin-authored FAQ and drops the cached snapshot.
func (p *Pipeline) Upsert(ctx context.Context, faq *storage.FaqEntry, operator string) (bool, error) {
	faq.Question = strings.TrimSpace(faq.Question)
	faq.Answer = strings.TrimSpace(faq.Answer)
	faq.Category = strings.ToLower(strings.TrimSpace(faq.Category))
	if faq.Question == "" || faq.Answer == "" {
		return false, fmt.Errorf("%w: question and answer are required", ErrInvalidFAQ)
	}
	if faq.Category == "" {
		faq.Category = DefaultCategory
	}
	faq.Keywords = cleanKeywords(faq.Keywords)

	created, err := p.store.Upsert(ctx, faq)
	if err != nil {
		return false, fmt.Errorf("upsert faq: %w", err)
	}
	p.audit.LogFAQUpserted(ctx, faq, created, operator)
	p.invalidate(ctx)
	return created, nil
}

func (p *Pipeline) invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to invalidate FAQ cache")
	}
}
