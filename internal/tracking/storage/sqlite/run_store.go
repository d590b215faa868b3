package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/pipeline"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is the summary row of one iteration run.
type Run struct {
	RunID         string
	Iteration     string
	StartedAt     time.Time
	NHits         int
	NRejectedHits int
	NDoublets     int
	NTriplets     int
	NValid        int
	Total         time.Duration
}

// StoredTriplet is a persisted triplet. Hit fields hold the upstream hit
// IDs, not HitSet indices.
type StoredTriplet struct {
	Seq                          int
	HitLeft, HitMiddle, HitRight int
	StationLeft                  int
	Chi2                         float64
	Qp, Cqp                      float64
	Tx, Ctx                      float64
	Ty, Cty                      float64
	MomentumFitted               bool
}

// RunStore provides persistence for pipeline results.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore on a migrated database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// retryOnBusy retries fn while sqlite reports the database as locked.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		opsf("database busy, retry %d: %v", attempt+1, err)
		time.Sleep(time.Duration(attempt+1) * busyBackoff)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// SaveResult stores res, its triplets and its stage timings in one
// transaction and returns the new run row. hs must be the hit set the
// result was computed from.
func (s *RunStore) SaveResult(ctx context.Context, res *pipeline.Result, hs *hits.HitSet, startedAt time.Time) (*Run, error) {
	run := &Run{
		RunID:         uuid.New().String(),
		Iteration:     res.Iteration,
		StartedAt:     startedAt.UTC(),
		NHits:         hs.Len(),
		NRejectedHits: hs.Rejected,
		NDoublets:     res.NDoublets,
		NTriplets:     res.NTriplets,
		NValid:        res.NValid,
		Total:         res.Timings.Total(),
	}

	err := retryOnBusy(func() error {
		return s.saveTx(ctx, run, res, hs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	diagf("saved run %s (%s): %d triplets", run.RunID, run.Iteration, len(res.Triplets))
	return run, nil
}

func (s *RunStore) saveTx(ctx context.Context, run *Run, res *pipeline.Result, hs *hits.HitSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, iteration, started_at, n_hits, n_rejected_hits,
			n_doublets, n_triplets, n_valid, total_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Iteration, run.StartedAt.UnixNano(), run.NHits, run.NRejectedHits,
		run.NDoublets, run.NTriplets, run.NValid, int64(run.Total),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO triplets (
			run_id, seq, hit_left, hit_middle, hit_right, station_left,
			chi2, qp, c_qp, tx, c_tx, ty, c_ty, momentum_fitted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare triplet insert: %w", err)
	}
	defer stmt.Close()

	for i := range res.Triplets {
		t := &res.Triplets[i]
		_, err := stmt.ExecContext(ctx,
			run.RunID, i,
			hs.Hits[t.Left].ID, hs.Hits[t.Middle].ID, hs.Hits[t.Right].ID, t.LeftStation(),
			t.Chi2, t.Qp, t.Cqp, t.Tx, t.Ctx, t.Ty, t.Cty, t.IsMomentumFitted,
		)
		if err != nil {
			return fmt.Errorf("insert triplet %d: %w", i, err)
		}
	}

	for i, d := range res.Timings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stage_timings (run_id, stage, duration_ns) VALUES (?, ?, ?)`,
			run.RunID, pipeline.Stage(i).String(), int64(d),
		)
		if err != nil {
			return fmt.Errorf("insert stage timing: %w", err)
		}
	}

	return tx.Commit()
}

const runColumns = `run_id, iteration, started_at, n_hits, n_rejected_hits,
	n_doublets, n_triplets, n_valid, total_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var startedNs, totalNs int64
	err := row.Scan(&r.RunID, &r.Iteration, &startedNs, &r.NHits, &r.NRejectedHits,
		&r.NDoublets, &r.NTriplets, &r.NValid, &totalNs)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, startedNs).UTC()
	r.Total = time.Duration(totalNs)
	return &r, nil
}

// Get returns a single run by ID.
func (s *RunStore) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// List returns the most recent runs, newest first. limit <= 0 means no
// limit.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Triplets returns the stored triplets of a run in insertion order. With
// validOnly, triplets rejected by the final fit are skipped.
func (s *RunStore) Triplets(ctx context.Context, runID string, validOnly bool) ([]StoredTriplet, error) {
	query := `
		SELECT seq, hit_left, hit_middle, hit_right, station_left,
		       chi2, qp, c_qp, tx, c_tx, ty, c_ty, momentum_fitted
		FROM triplets
		WHERE run_id = ?`
	if validOnly {
		query += ` AND chi2 >= 0`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query triplets: %w", err)
	}
	defer rows.Close()

	var out []StoredTriplet
	for rows.Next() {
		var t StoredTriplet
		err := rows.Scan(&t.Seq, &t.HitLeft, &t.HitMiddle, &t.HitRight, &t.StationLeft,
			&t.Chi2, &t.Qp, &t.Cqp, &t.Tx, &t.Ctx, &t.Ty, &t.Cty, &t.MomentumFitted)
		if err != nil {
			return nil, fmt.Errorf("scan triplet: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// StageTimings returns the recorded duration of every stage of a run.
func (s *RunStore) StageTimings(ctx context.Context, runID string) (map[string]time.Duration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, duration_ns FROM stage_timings WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stage timings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Duration)
	for rows.Next() {
		var stage string
		var ns int64
		if err := rows.Scan(&stage, &ns); err != nil {
			return nil, fmt.Errorf("scan stage timing: %w", err)
		}
		out[stage] = time.Duration(ns)
	}
	return out, rows.Err()
}

// Delete removes a run together with its triplets and timings.
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}
