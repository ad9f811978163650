package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/abhisek/tierkit/internal/factor"
)

// ErrMissingRecordID is returned for records without an identifier.
var ErrMissingRecordID = errors.New("record has no id")

// DuplicateRecordError marks a record whose id already appeared earlier in
// the same batch. The later occurrence is rejected so demand is not
// double-counted.
type DuplicateRecordError struct {
	RecordID   string
	FirstIndex int
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("duplicate record id %q (first seen at index %d)", e.RecordID, e.FirstIndex)
}

// RecordError wraps a per-record failure with its batch position.
type RecordError struct {
	Index    int
	RecordID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (%q): %v", e.Index, e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Mode decides what a per-record failure does to the batch.
type Mode string

const (
	// SkipAndReport classifies every valid record and lists the failures.
	SkipAndReport Mode = "skip"
	// FailFast rejects the whole batch on any failure.
	FailFast Mode = "fail-fast"
)

// Options configures Run.
type Options struct {
	Mode     Mode
	Parallel int // worker count; <= 1 runs sequentially
	Logger   *slog.Logger
}

// Skip records a record left out of a batch.
type Skip struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// Batch is the outcome of classifying a list of records: every valid
// record's Result in input order plus every skipped record.
type Batch struct {
	Domain  string   `json:"domain"`
	Version string   `json:"version"`
	Total   int      `json:"total"`
	Results []Result `json:"results"`
	Skipped []Skip   `json:"skipped"`
}

// Run classifies records against d. In SkipAndReport mode it always returns
// a complete Batch; in FailFast mode the first failing record (by input
// position) aborts the batch with a *RecordError and no results.
func Run(ctx context.Context, d *Domain, records []factor.Record, opts Options) (*Batch, error) {
	if opts.Mode == "" {
		opts.Mode = SkipAndReport
	}
	if opts.Mode != SkipAndReport && opts.Mode != FailFast {
		return nil, fmt.Errorf("unknown batch mode %q", opts.Mode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make([]Result, len(records))
	errs := make([]error, len(records))

	// Identity checks are sequential so "first occurrence" is stable.
	firstSeen := make(map[string]int, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			errs[i] = ErrMissingRecordID
			continue
		}
		if j, dup := firstSeen[rec.ID]; dup {
			errs[i] = &DuplicateRecordError{RecordID: rec.ID, FirstIndex: j}
			continue
		}
		firstSeen[rec.ID] = i
	}

	classifyAt := func(i int) {
		if errs[i] != nil {
			return
		}
		res, err := d.Classify(records[i])
		if err != nil {
			errs[i] = err
			return
		}
		results[i] = res
	}

	if opts.Parallel > 1 {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Parallel)
		for i := range records {
			if gCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				classifyAt(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range records {
			if ctx.Err() != nil {
				break
			}
			classifyAt(i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}

	batch := &Batch{
		Domain:  d.Name(),
		Version: d.Version(),
		Total:   len(records),
		Results: make([]Result, 0, len(records)),
	}
	for i, err := range errs {
		if err == nil {
			batch.Results = append(batch.Results, results[i])
			continue
		}
		recErr := &RecordError{Index: i, RecordID: records[i].ID, Err: err}
		if opts.Mode == FailFast {
			return nil, recErr
		}
		logger.Warn("skipping record",
			slog.String("domain", d.Name()),
			slog.Int("index", i),
			slog.String("record_id", records[i].ID),
			slog.String("error", err.Error()),
		)
		batch.Skipped = append(batch.Skipped, Skip{
			Index:    i,
			RecordID: records[i].ID,
			Reason:   err.Error(),
			Err:      err,
		})
	}
	return batch, nil
}

// TierCounts returns the number of results per tier id.
func (b *Batch) TierCounts() map[string]int {
	counts := make(map[string]int)
	for _, r := range b.Results {
		counts[r.Tier.ID]++
	}
	return counts
}

// ResultIndexes returns the input position of each entry in Results.
func (b *Batch) ResultIndexes() []int {
	skipped := make(map[int]bool, len(b.Skipped))
	for _, s := range b.Skipped {
		skipped[s.Index] = true
	}
	out := make([]int, 0, len(b.Results))
	idx := 0
	for range b.Results {
		for skipped[idx] {
			idx++
		}
		out = append(out, idx)
		idx++
	}
	return out
}
