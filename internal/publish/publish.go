// Package publish ships classification results to a message bus so
// downstream systems can react to tier changes without polling the store.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/reconcile"
)

// Event types carried in Message.Type.
const (
	TypeResult = "tierkit.result"
	TypeRun    = "tierkit.run"
)

// Message is one event ready for the bus.
type Message struct {
	Key   []byte
	Value []byte
	Type  string
	Time  time.Time
}

// Publisher delivers messages. Implementations must be safe for one caller
// at a time; Publish either delivers every message or returns an error.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
	Close() error
}

// ResultEvent is published once per classified record.
type ResultEvent struct {
	RunID      string                `json:"run_id"`
	Domain     string                `json:"domain"`
	Version    string                `json:"version"`
	RecordID   string                `json:"record_id"`
	Tier       string                `json:"tier"`
	TierLabel  string                `json:"tier_label"`
	Score      float64               `json:"aggregate_score"`
	MatchedBy  string                `json:"matched_by"`
	Scales     []engine.ScaleReading `json:"scales,omitempty"`
	Composites map[string]float64    `json:"composites,omitempty"`
}

// RunEvent summarises a whole run and is published after its results.
type RunEvent struct {
	RunID      string             `json:"run_id"`
	Domain     string             `json:"domain"`
	Version    string             `json:"version"`
	Total      int                `json:"total"`
	Classified int                `json:"classified"`
	Skipped    int                `json:"skipped"`
	TierCounts map[string]int     `json:"tier_counts"`
	Clusters   []reconcile.Report `json:"reconciliation,omitempty"`
}

// Encode turns a batch into result events keyed by record id followed by
// one run event keyed by run id.
func Encode(runID string, b *engine.Batch, reports []reconcile.Report, at time.Time) ([]Message, error) {
	msgs := make([]Message, 0, len(b.Results)+1)
	for _, r := range b.Results {
		v, err := json.Marshal(ResultEvent{
			RunID:      runID,
			Domain:     b.Domain,
			Version:    b.Version,
			RecordID:   r.RecordID,
			Tier:       r.Tier.ID,
			TierLabel:  r.Tier.Label,
			Score:      r.Score,
			MatchedBy:  r.MatchedBy,
			Scales:     r.Scales,
			Composites: r.Composites,
		})
		if err != nil {
			return nil, fmt.Errorf("encode result %s: %w", r.RecordID, err)
		}
		msgs = append(msgs, Message{Key: []byte(r.RecordID), Value: v, Type: TypeResult, Time: at})
	}

	v, err := json.Marshal(RunEvent{
		RunID:      runID,
		Domain:     b.Domain,
		Version:    b.Version,
		Total:      b.Total,
		Classified: len(b.Results),
		Skipped:    len(b.Skipped),
		TierCounts: b.TierCounts(),
		Clusters:   reports,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run: %w", err)
	}
	return append(msgs, Message{Key: []byte(runID), Value: v, Type: TypeRun, Time: at}), nil
}
