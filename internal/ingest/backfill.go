package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

const defaultBackfillPage = 256

// BackfillResult counts a backfill run.
type BackfillResult struct {
	Scanned  int `json:"scanned"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
	// Stale counts vectors dropped because the message text changed while
	// they were being computed.
	Stale int `json:"stale"`
}

// Backfill embeds messages that have no vector from the current model and
// writes them with the content-hash guard. limit <= 0 means no limit.
// Messages that fail stay pending for the next run.
func (p *Pipeline) Backfill(ctx context.Context, limit int) (*BackfillResult, error) {
	if p.gen == nil {
		return nil, fmt.Errorf("backfill: no embedding provider configured")
	}
	model := p.gen.Model()
	res := &BackfillResult{}
	after := uuid.Nil

	for limit <= 0 || res.Scanned < limit {
		page := defaultBackfillPage
		if limit > 0 {
			page = min(page, limit-res.Scanned)
		}
		pending, err := p.store.MessagesMissingEmbeddings(ctx, model, p.opts.MinChars, after, page)
		if err != nil {
			return res, fmt.Errorf("backfill: %w", err)
		}
		if len(pending) == 0 {
			break
		}
		after = pending[len(pending)-1].MessageID
		res.Scanned += len(pending)

		texts := make([]string, len(pending))
		for i, m := range pending {
			texts[i] = m.Content
		}
		result, err := p.gen.Embed(ctx, texts)
		if err != nil {
			return res, fmt.Errorf("backfill: %w", err)
		}

		updates := make([]store.EmbeddingUpdate, 0, len(pending))
		for i, m := range pending {
			if v := result.Vectors[i]; v != nil {
				updates = append(updates, store.EmbeddingUpdate{MessageID: m.MessageID, ContentHash: m.ContentHash, Embedding: v})
			} else {
				res.Failed++
			}
		}
		written, err := p.store.SetEmbeddings(ctx, model, p.gen.Dimensions(), updates)
		if err != nil {
			return res, fmt.Errorf("backfill: %w", err)
		}
		res.Embedded += written
		res.Stale += len(updates) - written
		p.metrics.RecordMessages("backfilled", written)

		p.logger.Info().
			Int("scanned", res.Scanned).
			Int("embedded", res.Embedded).
			Int("failed", res.Failed).
			Msg("backfill progress")
		if len(pending) < page {
			break
		}
	}
	return res, nil
}
