package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	apperrors "autoforge/internal/errors"
)

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("run not found")

// Run 一次流水线运行的历史记录
type Run struct {
	ID            string            `json:"id"`
	ProblemType   string            `json:"problem_type"`
	TargetColumn  string            `json:"target_column"`
	Status        string            `json:"status"`
	BestCandidate string            `json:"best_candidate"`
	ModelID       string            `json:"model_id"`
	Metric        string            `json:"metric"`
	Score         *float64          `json:"score,omitempty"`
	NRows         int               `json:"n_rows"`
	NFeatures     int               `json:"n_features"`
	Warnings      []string          `json:"warnings"`
	Error         string            `json:"error,omitempty"`
	Duration      time.Duration     `json:"duration"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Candidates    []CandidateRecord `json:"candidates,omitempty"`
}

// CandidateRecord 单个候选模型的训练结果
type CandidateRecord struct {
	Candidate string        `json:"candidate"`
	Status    string        `json:"status"`
	Metric    string        `json:"metric"`
	Score     *float64      `json:"score,omitempty"`
	CVMean    *float64      `json:"cv_mean,omitempty"`
	CVStd     *float64      `json:"cv_std,omitempty"`
	TrainTime time.Duration `json:"train_time"`
	Error     string        `json:"error,omitempty"`
}

// InsertRun appends a run and its candidates in one transaction
func (db *DB) InsertRun(ctx context.Context, run *Run) error {
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeInternal, "encode run warnings", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "begin run insert", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, db.Rebind(`
		INSERT INTO runs (id, problem_type, target_column, status, best_candidate, model_id, metric, score,
			n_rows, n_features, warnings, error, duration_ms, started_at_ms, finished_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.ProblemType, run.TargetColumn, run.Status, run.BestCandidate, run.ModelID, run.Metric,
		nullFloat(run.Score), run.NRows, run.NFeatures, string(warnings), run.Error,
		run.Duration.Milliseconds(), run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "insert run", err).WithContext("run_id", run.ID)
	}

	insertCandidate := db.Rebind(`
		INSERT INTO run_candidates (run_id, candidate, status, metric, score, cv_mean, cv_std, train_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, c := range run.Candidates {
		if _, err := tx.ExecContext(ctx, insertCandidate,
			run.ID, c.Candidate, c.Status, c.Metric, nullFloat(c.Score), nullFloat(c.CVMean), nullFloat(c.CVStd),
			c.TrainTime.Milliseconds(), c.Error); err != nil {
			return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "insert run candidate", err).
				WithContext("run_id", run.ID).WithContext("candidate", c.Candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "commit run insert", err)
	}
	return nil
}

const runColumns = `id, problem_type, target_column, status, best_candidate, model_id, metric, score,
	n_rows, n_features, warnings, error, duration_ms, started_at_ms, finished_at_ms`

// ListRuns returns the most recent runs, newest first, without candidates
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, db.Rebind(`SELECT `+runColumns+`
		FROM runs ORDER BY started_at_ms DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "list runs", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "list runs", err)
	}
	return out, nil
}

// GetRun loads a run with its candidates
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, db.Rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, db.Rebind(`
		SELECT candidate, status, metric, score, cv_mean, cv_std, train_ms, error
		FROM run_candidates WHERE run_id = ? ORDER BY candidate`), id)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "load run candidates", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c                   CandidateRecord
			score, mean, stddev sql.NullFloat64
			trainMS             int64
		)
		if err := rows.Scan(&c.Candidate, &c.Status, &c.Metric, &score, &mean, &stddev, &trainMS, &c.Error); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "scan run candidate", err)
		}
		c.Score, c.CVMean, c.CVStd = floatPtr(score), floatPtr(mean), floatPtr(stddev)
		c.TrainTime = time.Duration(trainMS) * time.Millisecond
		run.Candidates = append(run.Candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "load run candidates", err)
	}
	return run, nil
}

// DeleteRun removes a run and its candidates
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "begin run delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.Rebind(`DELETE FROM run_candidates WHERE run_id = ?`), id); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "delete run candidates", err)
	}
	res, err := tx.ExecContext(ctx, db.Rebind(`DELETE FROM runs WHERE id = ?`), id)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "delete run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "commit run delete", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run                     Run
		score                   sql.NullFloat64
		warnings                string
		durationMS, start, stop int64
	)
	err := s.Scan(&run.ID, &run.ProblemType, &run.TargetColumn, &run.Status, &run.BestCandidate, &run.ModelID,
		&run.Metric, &score, &run.NRows, &run.NFeatures, &warnings, &run.Error, &durationMS, &start, &stop)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "scan run", err)
	}
	if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "decode run warnings", err).WithContext("run_id", run.ID)
	}
	run.Score = floatPtr(score)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.StartedAt = time.UnixMilli(start).UTC()
	run.FinishedAt = time.UnixMilli(stop).UTC()
	return &run, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
