package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "autoforge/internal/errors"
)

// DriftRecord 一次漂移检查的摘要
type DriftRecord struct {
	ID              int64     `json:"id"`
	ModelID         string    `json:"model_id"`
	Method          string    `json:"method"`
	DriftRatio      float64   `json:"drift_ratio"`
	Alert           bool      `json:"alert"`
	Drifted         []string  `json:"drifted"`
	PredictionScore *float64  `json:"prediction_score,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// InsertDrift appends a drift check result
func (db *DB) InsertDrift(ctx context.Context, rec *DriftRecord) error {
	drifted, err := json.Marshal(nonNil(rec.Drifted))
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeInternal, "encode drifted features", err)
	}
	_, err = db.ExecContext(ctx, db.Rebind(`
		INSERT INTO drift_checks (model_id, method, drift_ratio, alert, drifted, prediction_score, checked_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ModelID, rec.Method, rec.DriftRatio, rec.Alert, string(drifted), nullFloat(rec.PredictionScore),
		rec.CheckedAt.UnixMilli())
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "insert drift check", err).WithContext("model_id", rec.ModelID)
	}
	return nil
}

// ListDrift returns the latest drift checks of a model, newest first
func (db *DB) ListDrift(ctx context.Context, modelID string, limit int) ([]DriftRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, db.Rebind(`
		SELECT id, model_id, method, drift_ratio, alert, drifted, prediction_score, checked_at_ms
		FROM drift_checks WHERE model_id = ? ORDER BY checked_at_ms DESC, id DESC LIMIT ?`), modelID, limit)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "list drift checks", err)
	}
	defer rows.Close()

	var out []DriftRecord
	for rows.Next() {
		var (
			rec     DriftRecord
			drifted string
			pred    sql.NullFloat64
			at      int64
		)
		if err := rows.Scan(&rec.ID, &rec.ModelID, &rec.Method, &rec.DriftRatio, &rec.Alert, &drifted, &pred, &at); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "scan drift check", err)
		}
		if err := json.Unmarshal([]byte(drifted), &rec.Drifted); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "decode drifted features", err)
		}
		rec.PredictionScore = floatPtr(pred)
		rec.CheckedAt = time.UnixMilli(at).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "list drift checks", err)
	}
	return out, nil
}
