package embed

import (
	"context"
	"fmt"
	"slices"

	"chatd/internal/engine"
	"chatd/internal/model"
)

// Ranked is one scored document.
type Ranked struct {
	Index    int     `json:"index"`
	Document string  `json:"document"`
	Score    float32 `json:"score"`
}

// CrossEncoderSession scores (query, document) pairs jointly.
type CrossEncoderSession struct {
	*session
}

// NewCrossEncoderSession opens a ranking context on a clone of h.
func NewCrossEncoderSession(h *model.Handle, cfg Config) (*CrossEncoderSession, error) {
	s, err := open(h, cfg, engine.ModeRank, "rerank")
	if err != nil {
		return nil, err
	}
	return &CrossEncoderSession{session: s}, nil
}

func pairText(query, doc string) string {
	return fmt.Sprintf("Query: %s\nDocument: %s", query, doc)
}

// Scores returns one relevance score per document, in input order.
func (c *CrossEncoderSession) Scores(ctx context.Context, query string, docs []string) ([]float32, error) {
	out := make([]float32, len(docs))
	err := c.do(ctx, func() error {
		for i, d := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}
			toks, err := c.tokenize(pairText(query, d))
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			if out[i], err = c.ectx.Score(toks); err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Rank scores docs and returns them best first. Equal scores keep input
// order. limit < 0 returns every document.
func (c *CrossEncoderSession) Rank(ctx context.Context, query string, docs []string, limit int) ([]Ranked, error) {
	scores, err := c.Scores(ctx, query, docs)
	if err != nil {
		return nil, err
	}
	return SortRanked(docs, scores, limit), nil
}

// SortRanked pairs docs with scores and sorts them descending, stably.
func SortRanked(docs []string, scores []float32, limit int) []Ranked {
	out := make([]Ranked, len(docs))
	for i, d := range docs {
		out[i] = Ranked{Index: i, Document: d, Score: scores[i]}
	}
	slices.SortStableFunc(out, func(a, b Ranked) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Close releases the context and the model reference.
func (c *CrossEncoderSession) Close() error { return c.close() }
