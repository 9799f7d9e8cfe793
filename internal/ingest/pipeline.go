// Package ingest discovers session logs, normalizes them, embeds new or
// changed messages and writes each conversation in one store transaction.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/bwads001/claude-conversation-analyzer/internal/embedding"
	"github.com/bwads001/claude-conversation-analyzer/internal/metrics"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
	"github.com/bwads001/claude-conversation-analyzer/internal/transcript"
)

var tracer = otel.Tracer("github.com/bwads001/claude-conversation-analyzer/internal/ingest")

// Embedder is the part of embedding.Generator the pipeline uses.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*embedding.Result, error)
	Model() string
	Dimensions() int
}

// Options configure a Pipeline.
type Options struct {
	Concurrency int
	// MinChars skips embedding for shorter messages.
	MinChars int
	// LargeMessageChars flags oversized messages while parsing.
	LargeMessageChars int
	// DryRun parses and embeds but writes nothing.
	DryRun bool
}

// Pipeline ingests transcript files into a store.
type Pipeline struct {
	store   store.IngestStore
	gen     Embedder
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewPipeline builds a pipeline. gen may be nil to store messages without
// vectors; a later backfill fills them in.
func NewPipeline(st store.IngestStore, gen Embedder, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		store:   st,
		gen:     gen,
		opts:    opts,
		metrics: m,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Run ingests files concurrently. A failing file never stops the others;
// the returned error is only the context's.
func (p *Pipeline) Run(ctx context.Context, files []FileRef) (*Summary, error) {
	results := make([]FileResult, len(files))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, f := range files {
		if ctx.Err() != nil {
			results[i] = FileResult{Path: f.Path, Status: StatusFailed, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			results[i] = p.IngestFile(ctx, f)
			return nil
		})
	}
	g.Wait()

	sum := summarize(results)
	p.logger.Info().
		Int("files", sum.Files).
		Int("ingested", sum.Ingested).
		Int("unchanged", sum.Unchanged).
		Int("failed", sum.Failed).
		Int("inserted", sum.Inserted).
		Int("updated", sum.Updated).
		Int("embedded", sum.Embedded).
		Msg("ingest run complete")
	return sum, ctx.Err()
}

// IngestFile processes one file end to end.
func (p *Pipeline) IngestFile(ctx context.Context, f FileRef) FileResult {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ingest.file")
	defer span.End()
	span.SetAttributes(attribute.String("path", f.Path))

	res := p.ingestFile(ctx, f)
	res.Duration = time.Since(start)
	p.metrics.RecordFile(string(res.Status))
	p.metrics.RecordSkippedLines(res.SkippedLines)
	if res.Err != nil {
		span.RecordError(res.Err)
		p.logger.Warn().Err(res.Err).Str("path", f.Path).Msg("ingest failed")
	} else {
		p.metrics.RecordMessages("inserted", res.Inserted)
		p.metrics.RecordMessages("updated", res.Updated)
		p.metrics.RecordMessages("unchanged", res.Unchanged)
		p.metrics.RecordMessages("removed", res.Removed)
		p.logger.Debug().
			Str("path", f.Path).
			Str("status", string(res.Status)).
			Int("messages", res.Messages).
			Int("inserted", res.Inserted).
			Int("updated", res.Updated).
			Int("embedded", res.Embedded).
			Dur("took", res.Duration).
			Msg("file ingested")
	}
	span.SetAttributes(attribute.String("status", string(res.Status)))
	return res
}

func (p *Pipeline) ingestFile(ctx context.Context, f FileRef) FileResult {
	res := FileResult{Path: f.Path}
	fail := func(err error) FileResult {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	tr, err := transcript.ParseFile(f.Path, transcript.Options{LargeMessageChars: p.opts.LargeMessageChars})
	if err != nil {
		return fail(err)
	}
	res.Path = tr.Header.FilePath
	res.Project = tr.Header.Project.Label
	res.SessionID = tr.Header.SessionID
	res.Messages = len(tr.Messages)
	res.SkippedLines = tr.Stats.Skipped

	batch, err := buildBatch(tr)
	if err != nil {
		return fail(err)
	}

	digests, err := p.store.MessageDigests(ctx, tr.Header.SessionID, tr.Header.FilePath)
	if err != nil {
		return fail(fmt.Errorf("load digests: %w", err))
	}
	if err := p.embed(ctx, batch, digests, &res); err != nil {
		return fail(err)
	}

	if p.opts.DryRun {
		res.Status = StatusDryRun
		res.Events = len(batch.Events)
		return res
	}

	out, err := p.store.IngestConversation(ctx, batch)
	if err != nil {
		return fail(err)
	}
	res.ConversationID = out.ConversationID.String()
	res.Inserted = out.Inserted
	res.Updated = out.Updated
	res.Unchanged = out.Unchanged
	res.Removed = out.Removed
	res.Events = out.Events
	res.Status = StatusUnchanged
	if out.Created || out.Changed() {
		res.Status = StatusIngested
	}
	return res
}

// needsEmbedding reports whether m must be (re-)embedded given what is stored.
func needsEmbedding(m *store.Message, d store.MessageDigest, stored bool, model string) bool {
	if !stored || d.ContentHash != m.ContentHash {
		return true
	}
	return !d.HasEmbedding || d.EmbeddingModel != model
}

// embed attaches vectors to messages that need them. Per-item failures are
// counted and leave the message without a vector.
func (p *Pipeline) embed(ctx context.Context, batch *store.IngestBatch, digests map[string]store.MessageDigest, res *FileResult) error {
	if p.gen == nil {
		return nil
	}
	model := p.gen.Model()
	var idx []int
	var texts []string
	for i := range batch.Messages {
		m := &batch.Messages[i]
		if utf8.RuneCountInString(m.Content) < p.opts.MinChars {
			continue
		}
		d, stored := digests[m.MessageUUID]
		if !needsEmbedding(m, d, stored, model) {
			continue
		}
		idx = append(idx, i)
		texts = append(texts, m.Content)
	}
	if len(texts) == 0 {
		return nil
	}

	result, err := p.gen.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	for k, i := range idx {
		if v := result.Vectors[k]; v != nil {
			batch.Messages[i].Embedding = v
			batch.Messages[i].EmbeddingModel = model
			res.Embedded++
		} else {
			res.EmbedFailed++
		}
	}
	batch.Model = model
	batch.Dimensions = p.gen.Dimensions()
	if res.EmbedFailed > 0 {
		p.logger.Warn().
			Str("path", res.Path).
			Int("failed", res.EmbedFailed).
			Msg("some messages were stored without embeddings; run backfill")
	}
	return nil
}

// FileStatus is the outcome of one file.
type FileStatus string

const (
	StatusIngested  FileStatus = "ingested"
	StatusUnchanged FileStatus = "unchanged"
	StatusFailed    FileStatus = "failed"
	StatusDryRun    FileStatus = "dry_run"
)

// FileResult reports what happened to one file.
type FileResult struct {
	Path           string        `json:"path"`
	Project        string        `json:"project,omitempty"`
	SessionID      string        `json:"session_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Status         FileStatus    `json:"status"`
	Messages       int           `json:"messages"`
	Inserted       int           `json:"inserted"`
	Updated        int           `json:"updated"`
	Unchanged      int           `json:"unchanged"`
	Removed        int           `json:"removed"`
	SkippedLines   int           `json:"skipped_lines"`
	Embedded       int           `json:"embedded"`
	EmbedFailed    int           `json:"embed_failed"`
	Events         int           `json:"events"`
	Duration       time.Duration `json:"duration"`
	Err            error         `json:"-"`
}

// MarshalJSON adds the error text.
func (r FileResult) MarshalJSON() ([]byte, error) {
	type alias FileResult
	var msg string
	if r.Err != nil {
		msg = r.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias(r), msg})
}

// Summary aggregates a run.
type Summary struct {
	Files        int          `json:"files"`
	Ingested     int          `json:"ingested"`
	Unchanged    int          `json:"unchanged"`
	Failed       int          `json:"failed"`
	DryRun       int          `json:"dry_run"`
	Messages     int          `json:"messages"`
	Inserted     int          `json:"inserted"`
	Updated      int          `json:"updated"`
	Removed      int          `json:"removed"`
	SkippedLines int          `json:"skipped_lines"`
	Embedded     int          `json:"embedded"`
	EmbedFailed  int          `json:"embed_failed"`
	Events       int          `json:"events"`
	Results      []FileResult `json:"results"`
}

func summarize(results []FileResult) *Summary {
	s := &Summary{Files: len(results), Results: results}
	for _, r := range results {
		switch r.Status {
		case StatusIngested:
			s.Ingested++
		case StatusUnchanged:
			s.Unchanged++
		case StatusFailed:
			s.Failed++
		case StatusDryRun:
			s.DryRun++
		}
		s.Messages += r.Messages
		s.Inserted += r.Inserted
		s.Updated += r.Updated
		s.Removed += r.Removed
		s.SkippedLines += r.SkippedLines
		s.Embedded += r.Embedded
		s.EmbedFailed += r.EmbedFailed
		s.Events += r.Events
	}
	return s
}
