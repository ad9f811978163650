package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/reconcile"
)

// ErrRunNotFound is returned when no run matches an id or prefix.
var ErrRunNotFound = errors.New("run not found")

// AmbiguousRunError is returned when a run id prefix matches several runs.
type AmbiguousRunError struct {
	Prefix  string
	Matches int
}

func (e *AmbiguousRunError) Error() string {
	return fmt.Sprintf("run id prefix %q matches %d runs", e.Prefix, e.Matches)
}

// Run is a stored classification run.
type Run struct {
	ID        uuid.UUID
	Domain    string
	Version   string
	Mode      string
	Source    string
	CreatedAt time.Time
	Total     int
	Constants map[string]float64

	Results        []engine.Result
	Skipped        []engine.Skip
	Reconciliation []reconcile.Report
}

// NewRun builds a Run from a finished batch.
func NewRun(b *engine.Batch, mode engine.Mode, source string, reports []reconcile.Report) *Run {
	return &Run{
		Domain:         b.Domain,
		Version:        b.Version,
		Mode:           string(mode),
		Source:         source,
		Total:          b.Total,
		Results:        b.Results,
		Skipped:        b.Skipped,
		Reconciliation: reports,
	}
}

// Batch returns the run's results as an engine.Batch.
func (r *Run) Batch() *engine.Batch {
	return &engine.Batch{
		Domain:  r.Domain,
		Version: r.Version,
		Total:   r.Total,
		Results: r.Results,
		Skipped: r.Skipped,
	}
}

// RunSummary is a run without its rows.
type RunSummary struct {
	ID         uuid.UUID `json:"id"`
	Domain     string    `json:"domain"`
	Version    string    `json:"version"`
	Mode       string    `json:"mode"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Total      int       `json:"total"`
	Classified int       `json:"classified"`
	Skipped    int       `json:"skipped"`
}

// ListOpts filters and limits run listings.
type ListOpts struct {
	Domain string // empty means all domains
	Limit  int    // 0 means unlimited
}

// RunRepo stores and retrieves runs.
type RunRepo interface {
	// Save stores a run with all its rows. A zero ID or CreatedAt is filled in.
	Save(ctx context.Context, run *Run) error

	// Get loads a run by full id.
	Get(ctx context.Context, id uuid.UUID) (*Run, error)

	// Resolve finds the run whose id starts with prefix.
	Resolve(ctx context.Context, prefix string) (uuid.UUID, error)

	// Latest returns the newest runs of a domain, newest first.
	Latest(ctx context.Context, domain string, n int) ([]RunSummary, error)

	// List returns run summaries, newest first.
	List(ctx context.Context, opts ListOpts) ([]RunSummary, error)

	// Prune deletes all but the keep most recent runs of a domain and
	// returns how many were deleted.
	Prune(ctx context.Context, domain string, keep int) (int, error)
}

// maxRowsPerInsert keeps multi-row inserts under SQLite's variable limit.
const maxRowsPerInsert = 500

var runColumns = []string{"id", "domain", "version", "mode", "source", "created_at", "total", "classified", "skipped"}

type runRepo struct {
	db *sql.DB
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}

func (r *runRepo) Save(ctx context.Context, run *Run) (err error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.CreatedAt = run.CreatedAt.UTC()

	var constants any
	if len(run.Constants) > 0 {
		b, err := json.Marshal(run.Constants)
		if err != nil {
			return fmt.Errorf("marshal constants: %w", err)
		}
		constants = string(b)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	q, args := builder().Insert(RunsTable.Name).
		Columns(append(runColumns, "constants")...).
		Values(run.ID.String(), run.Domain, run.Version, run.Mode, run.Source, run.CreatedAt,
			run.Total, len(run.Results), len(run.Skipped), constants).
		Query()
	if _, err = tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	batch := run.Batch()
	positions := batch.ResultIndexes()
	rows := make([][]any, len(run.Results))
	for i, res := range run.Results {
		detail, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal result %s: %w", res.RecordID, err)
		}
		rows[i] = []any{run.ID.String(), positions[i], res.RecordID, res.Score, res.BaseScore,
			res.Tier.ID, res.Tier.Label, res.MatchedBy, string(detail)}
	}
	if err = insertRows(ctx, tx, ResultsTable.Name,
		[]string{"run_id", "position", "record_id", "score", "base_score", "tier", "tier_label", "matched_by", "detail"}, rows); err != nil {
		return err
	}

	rows = make([][]any, len(run.Skipped))
	for i, s := range run.Skipped {
		rows[i] = []any{run.ID.String(), s.Index, s.RecordID, s.Reason}
	}
	if err = insertRows(ctx, tx, SkipsTable.Name, []string{"run_id", "position", "record_id", "reason"}, rows); err != nil {
		return err
	}

	rows = make([][]any, len(run.Reconciliation))
	for i, rep := range run.Reconciliation {
		detail, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("marshal report %s: %w", rep.Cluster, err)
		}
		rows[i] = []any{run.ID.String(), i, rep.Cluster, rep.Demand, rep.Capacity, rep.Gap,
			string(rep.Status), rep.Directive, string(detail)}
	}
	if err = insertRows(ctx, tx, ReconciliationsTable.Name,
		[]string{"run_id", "position", "cluster", "demand", "capacity", "gap", "status", "directive", "detail"}, rows); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	for start := 0; start < len(rows); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(rows))
		ins := builder().Insert(table).Columns(columns...)
		for _, row := range rows[start:end] {
			ins.Values(row...)
		}
		q, args := ins.Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("save %s: %w", table, err)
		}
	}
	return nil
}

func (r *runRepo) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	q, args := builder().Select(append(runColumns, "constants")...).
		From(entsql.Table(RunsTable.Name)).
		Where(entsql.EQ("id", id.String())).
		Query()

	var (
		run       Run
		idStr     string
		source    sql.NullString
		constants sql.NullString
		nres, nsk int
	)
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&idStr, &run.Domain, &run.Version, &run.Mode, &source,
		&run.CreatedAt, &run.Total, &nres, &nsk, &constants)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	run.ID = id
	run.Source = source.String
	if constants.Valid && constants.String != "" {
		if err := json.Unmarshal([]byte(constants.String), &run.Constants); err != nil {
			return nil, fmt.Errorf("decode constants: %w", err)
		}
	}

	if run.Results, err = r.results(ctx, id); err != nil {
		return nil, err
	}
	if run.Skipped, err = r.skips(ctx, id); err != nil {
		return nil, err
	}
	if run.Reconciliation, err = r.reconciliations(ctx, id); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) results(ctx context.Context, id uuid.UUID) ([]engine.Result, error) {
	q, args := builder().Select("detail").
		From(entsql.Table(ResultsTable.Name)).
		Where(entsql.EQ("run_id", id.String())).
		OrderBy("position").
		Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []engine.Result
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var res engine.Result
		if err := json.Unmarshal(detail, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *runRepo) skips(ctx context.Context, id uuid.UUID) ([]engine.Skip, error) {
	q, args := builder().Select("position", "record_id", "reason").
		From(entsql.Table(SkipsTable.Name)).
		Where(entsql.EQ("run_id", id.String())).
		OrderBy("position").
		Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query skips: %w", err)
	}
	defer rows.Close()

	var out []engine.Skip
	for rows.Next() {
		var s engine.Skip
		if err := rows.Scan(&s.Index, &s.RecordID, &s.Reason); err != nil {
			return nil, fmt.Errorf("scan skip: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *runRepo) reconciliations(ctx context.Context, id uuid.UUID) ([]reconcile.Report, error) {
	q, args := builder().Select("detail").
		From(entsql.Table(ReconciliationsTable.Name)).
		Where(entsql.EQ("run_id", id.String())).
		OrderBy("position").
		Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Report
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		var rep reconcile.Report
		if err := json.Unmarshal(detail, &rep); err != nil {
			return nil, fmt.Errorf("decode reconciliation: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *runRepo) Resolve(ctx context.Context, prefix string) (uuid.UUID, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return uuid.Nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}
	if id, err := uuid.Parse(prefix); err == nil {
		return id, nil
	}
	q, args := builder().Select("id").
		From(entsql.Table(RunsTable.Name)).
		Where(entsql.HasPrefix("id", prefix)).
		Limit(2).
		Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve run: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return uuid.Nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, s)
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, err
	}
	switch len(ids) {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case 1:
		return uuid.Parse(ids[0])
	}
	return uuid.Nil, &AmbiguousRunError{Prefix: prefix, Matches: len(ids)}
}

func (r *runRepo) Latest(ctx context.Context, domain string, n int) ([]RunSummary, error) {
	return r.List(ctx, ListOpts{Domain: domain, Limit: n})
}

func (r *runRepo) List(ctx context.Context, opts ListOpts) ([]RunSummary, error) {
	sel := builder().Select(runColumns...).
		From(entsql.Table(RunsTable.Name)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if opts.Domain != "" {
		sel.Where(entsql.EQ("domain", opts.Domain))
	}
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}
	q, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s      RunSummary
			idStr  string
			source sql.NullString
		)
		if err := rows.Scan(&idStr, &s.Domain, &s.Version, &s.Mode, &source, &s.CreatedAt, &s.Total, &s.Classified, &s.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if s.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		s.Source = source.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *runRepo) Prune(ctx context.Context, domain string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be >= 0, got %d", keep)
	}
	runs, err := r.List(ctx, ListOpts{Domain: domain})
	if err != nil {
		return 0, err
	}
	if len(runs) <= keep {
		return 0, nil // fewer than keep runs exist
	}
	stale := make([]any, 0, len(runs)-keep)
	for _, s := range runs[keep:] {
		stale = append(stale, s.ID.String())
	}
	q, args := builder().Delete(RunsTable.Name).Where(entsql.In("id", stale...)).Query()
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return int(n), nil
}
